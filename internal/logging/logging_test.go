package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	handler, err := NewHandler(&buf, false, FormatJSON)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	slog.New(handler).Warn("cluster registered", "cluster", "prod")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if record["cluster"] != "prod" {
		t.Fatalf("cluster attribute = %v", record["cluster"])
	}

	buf.Reset()
	handler, err = NewHandler(&buf, false, "")
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	slog.New(handler).Warn("cluster registered", "cluster", "prod")
	if !strings.Contains(buf.String(), "cluster=prod") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestNewHandlerLevels(t *testing.T) {
	quiet, err := NewHandler(&bytes.Buffer{}, false, FormatText)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if quiet.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled without verbose")
	}

	verbose, err := NewHandler(&bytes.Buffer{}, true, FormatText)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if !verbose.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be enabled with verbose")
	}
}

func TestNewHandlerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewHandler(&bytes.Buffer{}, false, "logfmt"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
