package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/artifactstore"
	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
	"github.com/Kunal-debug-png/GoComet/internal/runstore"
)

func newResolveFixture(t *testing.T, tools map[string]capability.ToolFile) (*Executor, *artifactstore.Store, runstore.Store) {
	t.Helper()
	idx, err := capability.FromMap(tools)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	artifacts, err := artifactstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("artifactstore.Open: %v", err)
	}
	store := runstore.NewMemStore()
	return &Executor{store: store, artifacts: artifacts, idx: idx, agents: nil}, artifacts, store
}

func TestResolveArgs_Literal(t *testing.T) {
	e, _, _ := newResolveFixture(t, nil)
	node := model.NodeSpec{NodeID: "n", Kind: model.KindTool, Name: "anything", Args: map[string]model.Value{
		"count": model.Literal(3),
	}}
	args, err := e.resolveArgs(context.Background(), "run-1", node)
	if err != nil {
		t.Fatalf("resolveArgs: %v", err)
	}
	if args["count"] != 3 {
		t.Errorf("count = %v, want 3", args["count"])
	}
}

func TestResolveArgs_ArtifactRef_DefaultsToURI(t *testing.T) {
	e, artifacts, _ := newResolveFixture(t, map[string]capability.ToolFile{
		"consume": {Methods: []capability.Method{{Name: "run"}}},
	})
	if _, err := artifacts.Put(context.Background(), "run-1", "producer", "out.csv", []byte("a,b\n1,2\n")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	node := model.NodeSpec{NodeID: "n", Kind: model.KindTool, Name: "consume", Args: map[string]model.Value{
		"input": model.ArtifactRef("producer", "out.csv"),
	}}
	args, err := e.resolveArgs(context.Background(), "run-1", node)
	if err != nil {
		t.Fatalf("resolveArgs: %v", err)
	}
	if args["input"] != "artifact://producer/out.csv" {
		t.Errorf("input = %v, want artifact URI", args["input"])
	}
}

func TestResolveArgs_ArtifactRef_WantsInlineResolvesBytes(t *testing.T) {
	e, artifacts, _ := newResolveFixture(t, map[string]capability.ToolFile{
		"consume": {Methods: []capability.Method{{Name: "run", WantsInline: true}}},
	})
	if _, err := artifacts.Put(context.Background(), "run-1", "producer", "out.txt", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	node := model.NodeSpec{NodeID: "n", Kind: model.KindTool, Name: "consume", Args: map[string]model.Value{
		"input": model.ArtifactRef("producer", "out.txt"),
	}}
	args, err := e.resolveArgs(context.Background(), "run-1", node)
	if err != nil {
		t.Fatalf("resolveArgs: %v", err)
	}
	if args["input"] != "hello" {
		t.Errorf("input = %v, want inlined bytes", args["input"])
	}
}

func TestResolveArgs_AgentAlwaysInlinesArtifacts(t *testing.T) {
	e, artifacts, _ := newResolveFixture(t, nil)
	if _, err := artifacts.Put(context.Background(), "run-1", "producer", "out.txt", []byte("body text")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	node := model.NodeSpec{NodeID: "n", Kind: model.KindAgent, Name: "extraction_normalizer", Args: map[string]model.Value{
		"text": model.ArtifactRef("producer", "out.txt"),
	}}
	args, err := e.resolveArgs(context.Background(), "run-1", node)
	if err != nil {
		t.Fatalf("resolveArgs: %v", err)
	}
	if args["text"] != "body text" {
		t.Errorf("text = %v, want inlined bytes (agents cannot perform I/O themselves)", args["text"])
	}
}

func TestResolveArgs_MissingArtifact(t *testing.T) {
	e, _, _ := newResolveFixture(t, nil)
	node := model.NodeSpec{NodeID: "n", Kind: model.KindTool, Name: "consume", Args: map[string]model.Value{
		"input": model.ArtifactRef("producer", "missing.csv"),
	}}
	_, err := e.resolveArgs(context.Background(), "run-1", node)
	var missing *MissingArtifactError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingArtifactError", err)
	}
}

func TestResolveArgs_Placeholder(t *testing.T) {
	e, _, store := newResolveFixture(t, nil)
	now := time.Now().UTC()
	if err := store.UpsertNodeRun(context.Background(), model.NodeRun{
		RunID: "run-1", NodeID: "fetch", State: model.NodeSucceeded,
		Output: map[string]any{"rows": float64(9)}, FinishedAt: &now,
	}); err != nil {
		t.Fatalf("UpsertNodeRun: %v", err)
	}
	node := model.NodeSpec{NodeID: "n", Kind: model.KindAgent, Name: "reducer", Args: map[string]model.Value{
		"rows": model.Placeholder("fetch", "rows"),
	}}
	args, err := e.resolveArgs(context.Background(), "run-1", node)
	if err != nil {
		t.Fatalf("resolveArgs: %v", err)
	}
	if args["rows"] != float64(9) {
		t.Errorf("rows = %v, want 9", args["rows"])
	}
}

func TestResolveArgs_PlaceholderMissingField(t *testing.T) {
	e, _, store := newResolveFixture(t, nil)
	now := time.Now().UTC()
	if err := store.UpsertNodeRun(context.Background(), model.NodeRun{
		RunID: "run-1", NodeID: "fetch", State: model.NodeSucceeded,
		Output: map[string]any{"other": "x"}, FinishedAt: &now,
	}); err != nil {
		t.Fatalf("UpsertNodeRun: %v", err)
	}
	node := model.NodeSpec{NodeID: "n", Kind: model.KindAgent, Name: "reducer", Args: map[string]model.Value{
		"rows": model.Placeholder("fetch", "rows"),
	}}
	if _, err := e.resolveArgs(context.Background(), "run-1", node); err == nil {
		t.Fatal("expected an error for a placeholder field the upstream node never produced")
	}
}
