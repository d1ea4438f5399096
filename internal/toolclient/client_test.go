package toolclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
)

// script resolves a testdata stub's path and ensures it is executable;
// scripts are checked in as plain text, so the executable bit has to be
// set at test time rather than relying on it surviving version control.
func script(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("abs path: %v", err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatalf("chmod %s: %v", path, err)
	}
	return path
}

func indexWith(t *testing.T, name string, tf capability.ToolFile) *capability.Index {
	t.Helper()
	idx, err := capability.FromMap(map[string]capability.ToolFile{name: tf})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	return idx
}

func TestCall_Success(t *testing.T) {
	idx := indexWith(t, "echo", capability.ToolFile{
		BinaryPath: script(t, "echo_tool.sh"),
		Methods:    []capability.Method{{Name: "run"}},
	})
	c := New(idx)
	out, err := c.Call(context.Background(), "echo", "run", map[string]any{"x": 1}, 2*time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["echo"] != "ok" {
		t.Errorf("out = %+v, want echo=ok", out)
	}
}

func TestCall_UnknownTool(t *testing.T) {
	idx := indexWith(t, "echo", capability.ToolFile{BinaryPath: script(t, "echo_tool.sh")})
	c := New(idx)
	_, err := c.Call(context.Background(), "nope", "run", nil, time.Second)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != SpawnError {
		t.Fatalf("err = %v, want *CallError{Kind: SpawnError}", err)
	}
}

func TestCall_Unavailable(t *testing.T) {
	idx := indexWith(t, "echo", capability.ToolFile{BinaryPath: script(t, "echo_tool.sh")})
	idx = idx.MarkUnavailable("echo", "manifest mismatch")
	c := New(idx)
	_, err := c.Call(context.Background(), "echo", "run", nil, time.Second)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != SpawnError {
		t.Fatalf("err = %v, want *CallError{Kind: SpawnError}", err)
	}
}

func TestCall_ToolErrorRetryable(t *testing.T) {
	idx := indexWith(t, "flaky", capability.ToolFile{
		BinaryPath: script(t, "error_tool.sh"),
		Methods:    []capability.Method{{Name: "run", RetryableCodes: []int{503}}},
	})
	c := New(idx)
	_, err := c.Call(context.Background(), "flaky", "run", nil, 2*time.Second)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != ToolError {
		t.Fatalf("err = %v, want *CallError{Kind: ToolError}", err)
	}
	if ce.Code != 503 {
		t.Errorf("Code = %d, want 503", ce.Code)
	}
	if !ce.Retryable() {
		t.Error("Retryable() = false, want true (503 is declared retryable)")
	}
}

func TestCall_ProtocolError(t *testing.T) {
	idx := indexWith(t, "bad", capability.ToolFile{BinaryPath: script(t, "badjson_tool.sh")})
	c := New(idx)
	_, err := c.Call(context.Background(), "bad", "run", nil, 2*time.Second)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != ProtocolError {
		t.Fatalf("err = %v, want *CallError{Kind: ProtocolError}", err)
	}
}

func TestCall_ResponseIDMismatch(t *testing.T) {
	idx := indexWith(t, "badid", capability.ToolFile{BinaryPath: script(t, "badid_tool.sh")})
	c := New(idx)
	_, err := c.Call(context.Background(), "badid", "run", nil, 2*time.Second)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != ProtocolError {
		t.Fatalf("err = %v, want *CallError{Kind: ProtocolError}", err)
	}
}

func TestCall_Timeout(t *testing.T) {
	idx := indexWith(t, "slow", capability.ToolFile{BinaryPath: script(t, "slow_tool.sh")})
	c := New(idx)
	start := time.Now()
	_, err := c.Call(context.Background(), "slow", "run", nil, 100*time.Millisecond)
	elapsed := time.Since(start)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != Timeout {
		t.Fatalf("err = %v, want *CallError{Kind: Timeout}", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Call took %s, want well under the kill-grace ceiling", elapsed)
	}
}

func TestCall_ContextCancellation(t *testing.T) {
	idx := indexWith(t, "slow", capability.ToolFile{BinaryPath: script(t, "slow_tool.sh")})
	c := New(idx)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "slow", "run", nil, 10*time.Second)
	ce, ok := err.(*CallError)
	if !ok || ce.Kind != Timeout {
		t.Fatalf("err = %v, want *CallError{Kind: Timeout}", err)
	}
}
