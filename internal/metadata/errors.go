package metadata

import (
	"errors"
	"fmt"
)

// Phase names one step of a refresh run.
type Phase string

const (
	PhaseAggregate  Phase = "aggregate"
	PhaseDecomposed Phase = "decomposed"
	PhaseGroups     Phase = "groups"
)

var (
	// ErrClientUninitialized is returned by Run when the task has no
	// connection yet.
	ErrClientUninitialized = errors.New("client not initialized")

	// ErrClusterExists is returned by AddCluster for an id that is already
	// monitored.
	ErrClusterExists = errors.New("cluster already registered")

	// ErrInvalidClusterID is returned by AddCluster for an id that is empty
	// or contains the key separator or whitespace.
	ErrInvalidClusterID = errors.New("invalid cluster id")
)

// ConnectionSetupError reports that a cluster could not be registered
// because its connection failed.
type ConnectionSetupError struct {
	Cluster ClusterID
	Err     error
}

func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("connection setup failed, cluster: %s: %v", e.Cluster, e.Err)
}

func (e *ConnectionSetupError) Unwrap() error { return e.Err }

// FetchError reports a failed upstream fetch during a refresh phase.
type FetchError struct {
	Cluster ClusterID
	Phase   Phase
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed, cluster: %s: %v", e.Phase, e.Cluster, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CacheWriteError reports a failed cache write. Cache is the cache name and
// Key the rendered key.
type CacheWriteError struct {
	Cluster ClusterID
	Cache   string
	Key     string
	Err     error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("write to %s cache failed, cluster: %s, key: %s: %v", e.Cache, e.Cluster, e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }
