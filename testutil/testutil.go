package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tulparlabs/agentrun/types"
)

// TestContext returns a context that expires with a generous deadline
// and is cancelled on test cleanup, so a hanging call fails the test
// instead of wedging the run.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout is TestContext with an explicit deadline.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already-cancelled context for asserting
// cancellation paths.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// MustJSON marshals v or panics. Test-data construction only.
func MustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal %T: %v", v, err))
	}
	return string(b)
}

// MustParseJSON unmarshals s into T or panics.
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(fmt.Sprintf("testutil: unmarshal into %T: %v", v, err))
	}
	return v
}

// WriteAgentFile writes def as <agentId>.json under dir, the layout the
// file-backed agent store reads, and returns the file path.
func WriteAgentFile(t *testing.T, dir string, def *types.AgentDefinition) string {
	t.Helper()
	b, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		t.Fatalf("marshal agent %s: %v", def.AgentID, err)
	}
	path := filepath.Join(dir, def.AgentID+".json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write agent file %s: %v", path, err)
	}
	return path
}
