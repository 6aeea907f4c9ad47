package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/kafkameta/internal/metadata"
)

// Process exit codes.
const (
	ExitSuccess    = 0
	ExitInternal   = 1
	ExitUnhealthy  = 2
	ExitInvalidArg = 3
	ExitNotFound   = 4
	ExitNetwork    = 5
)

// UnhealthyError is returned by snapshot --fail-on-unhealthy when Count
// clusters have failing partitions or a failed refresh.
type UnhealthyError struct {
	Count int
}

func (e *UnhealthyError) Error() string {
	return fmt.Sprintf("%d unhealthy clusters detected", e.Count)
}

func classifyError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var unhealthy *UnhealthyError
	if errors.As(err, &unhealthy) {
		return ExitUnhealthy
	}

	var setupErr *metadata.ConnectionSetupError
	if errors.As(err, &setupErr) {
		return ExitNetwork
	}
	if errors.Is(err, os.ErrNotExist) {
		return ExitNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not a directory"):
		return ExitNotFound
	case strings.Contains(msg, "dial"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "fetch failed"):
		return ExitNetwork
	case strings.Contains(msg, "required"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "must be"),
		strings.Contains(msg, "must not"),
		strings.Contains(msg, "expected"),
		strings.Contains(msg, "unknown key"),
		strings.HasPrefix(msg, "parse config"):
		return ExitInvalidArg
	}

	return ExitInternal
}
