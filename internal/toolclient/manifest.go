package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
)

// DiscoverManifests runs every tool in the Index once with --manifest
// and compares the methods it reports against the methods declared in
// the Capability Index. A tool that fails to run, times out, or omits a
// declared method is marked unavailable rather than aborting startup —
// other tools (and flows that don't touch it) still work.
func (c *Client) DiscoverManifests(ctx context.Context) {
	idx := c.Index()
	for _, tool := range idx.Tools() {
		if err := discoverOne(ctx, tool); err != nil {
			idx = idx.MarkUnavailable(tool.Name, err.Error())
		}
	}
	c.setIndex(idx)
}

func discoverOne(ctx context.Context, tool capability.Tool) error {
	cmd := exec.CommandContext(ctx, tool.BinaryPath, "--manifest")
	if tool.Cwd != "" {
		cmd.Dir = tool.Cwd
	}
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("manifest discovery: %w", err)
	}

	var mr manifestResponse
	if err := json.Unmarshal(out, &mr); err != nil {
		return fmt.Errorf("manifest discovery: parse response: %w", err)
	}

	reported := make(map[string]bool, len(mr.Methods))
	for _, m := range mr.Methods {
		reported[m.Name] = true
	}

	var missing []string
	for name := range tool.Methods {
		if !reported[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("manifest discovery: binary does not expose declared method(s) %v", missing)
	}
	return nil
}
