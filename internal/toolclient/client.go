// Package toolclient implements the Tool Client: the one-shot JSON-RPC
// 2.0-over-stdio exchange the executor uses to invoke tool-kind nodes.
// Each call spawns the tool's declared binary fresh, writes a single
// request line to its stdin, closes the write side, and reads a single
// response line from its stdout — there is no persistent session or
// connection handshake, matching how the declared tool servers are
// expected to behave (spawn, answer one call, exit).
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
)

// killGrace is how long a timed-out tool process is given to exit after
// SIGTERM before the Tool Client escalates to SIGKILL.
const killGrace = 500 * time.Millisecond

// Client dispatches tool calls against a Capability Index. Safe for
// concurrent use: the executor's worker pool calls Call from many
// goroutines at once.
type Client struct {
	mu  sync.RWMutex
	idx *capability.Index
}

// New returns a Client bound to idx. Call DiscoverManifests once at
// startup before serving real calls.
func New(idx *capability.Index) *Client {
	return &Client{idx: idx}
}

// Index returns the Client's current Capability Index, reflecting any
// tools DiscoverManifests has marked unavailable.
func (c *Client) Index() *capability.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idx
}

func (c *Client) setIndex(idx *capability.Index) {
	c.mu.Lock()
	c.idx = idx
	c.mu.Unlock()
}

// Call invokes method on the named tool with params, waiting up to
// timeout for a response (or the tool's manifest default, if timeout is
// zero). Standard error is captured in full and attached to any
// returned *CallError, for the executor to persist as a NodeRun
// diagnostic blob on failure.
func (c *Client) Call(ctx context.Context, toolName, method string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	tool, ok := c.Index().ByName(toolName)
	if !ok {
		return nil, &CallError{Kind: SpawnError, Message: fmt.Sprintf("unknown tool %q", toolName)}
	}
	if !tool.Available {
		return nil, &CallError{Kind: SpawnError, Message: fmt.Sprintf("tool %q is unavailable: %s", toolName, tool.UnavailableNote)}
	}
	if timeout <= 0 {
		timeout = time.Duration(tool.DefaultTimeoutMS) * time.Millisecond
	}

	const reqID = 1
	reqLine, err := json.Marshal(request{JSONRPC: "2.0", ID: reqID, Method: method, Params: params})
	if err != nil {
		return nil, &CallError{Kind: ProtocolError, Message: fmt.Sprintf("encode request: %v", err)}
	}

	cmd := exec.Command(tool.BinaryPath)
	if tool.Cwd != "" {
		cmd.Dir = tool.Cwd
	}
	if len(tool.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range tool.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &CallError{Kind: SpawnError, Message: fmt.Sprintf("stdin pipe for %q: %v", toolName, err)}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A tool's own child processes can inherit stdout/stderr and hold them
	// open after the tool is killed; WaitDelay bounds how long Wait waits
	// for those pipes once the tool has exited before closing them.
	cmd.WaitDelay = killGrace

	if err := cmd.Start(); err != nil {
		return nil, &CallError{Kind: SpawnError, Message: fmt.Sprintf("spawn %s: %v", tool.BinaryPath, err)}
	}

	if _, err := stdin.Write(append(reqLine, '\n')); err != nil {
		_ = cmd.Process.Kill()
		return nil, &CallError{Kind: ProtocolError, Message: fmt.Sprintf("write request to %q: %v", toolName, err)}
	}
	_ = stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killGracefully(cmd, done)
		return nil, &CallError{Kind: Timeout, Message: fmt.Sprintf("%s.%s: %v", toolName, method, ctx.Err()), Stderr: stderr.String()}
	case waitErr := <-done:
		return parseResponse(waitErr, stdout.Bytes(), stderr.String(), tool, method, reqID)
	case <-time.After(timeout):
		killGracefully(cmd, done)
		return nil, &CallError{Kind: Timeout, Message: fmt.Sprintf("%s.%s timed out after %s", toolName, method, timeout), Stderr: stderr.String()}
	}
}

// killGracefully sends SIGTERM and gives the process killGrace to exit
// on its own before escalating to SIGKILL, so a tool that traps SIGTERM
// and flushes cleanly isn't reaped mid-write.
func killGracefully(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}
	_ = cmd.Process.Kill()
	<-done
}

func parseResponse(waitErr error, stdout []byte, stderr string, tool capability.Tool, method string, wantID int) (map[string]any, error) {
	line := firstLine(stdout)
	if len(line) == 0 {
		return nil, &CallError{
			Kind:    ProtocolError,
			Message: fmt.Sprintf("%s.%s produced no output (exit: %v)", tool.Name, method, waitErr),
			Stderr:  stderr,
		}
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, &CallError{
			Kind:    ProtocolError,
			Message: fmt.Sprintf("%s.%s: malformed JSON-RPC response: %v", tool.Name, method, err),
			Stderr:  stderr,
		}
	}

	if resp.ID != wantID {
		return nil, &CallError{
			Kind:    ProtocolError,
			Message: fmt.Sprintf("%s.%s: response id %d does not match request id %d", tool.Name, method, resp.ID, wantID),
			Stderr:  stderr,
		}
	}

	if resp.Error != nil {
		m, _ := tool.MethodByName(method)
		return nil, &CallError{
			Kind:      ToolError,
			Code:      resp.Error.Code,
			Message:   resp.Error.Message,
			Stderr:    stderr,
			retryable: m.Retryable(resp.Error.Code),
		}
	}

	if resp.Result == nil {
		return map[string]any{}, nil
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, &CallError{
			Kind:    ProtocolError,
			Message: fmt.Sprintf("%s.%s: result is not a JSON object", tool.Name, method),
			Stderr:  stderr,
		}
	}
	return result, nil
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return bytes.TrimSpace(b[:i])
	}
	return bytes.TrimSpace(b)
}
