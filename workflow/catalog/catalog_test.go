package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow"
)

const greetJSON = `{
  "id": "greet",
  "name": "Greeter",
  "nodes": [
    {"id": "trigger", "type": "trigger"},
    {"id": "out", "type": "chatOutput"}
  ],
  "edges": [
    {"source": "trigger", "target": "out", "targetHandle": "text"}
  ]
}`

const summarizeYAML = `id: summarize
description: Summarize the trigger message
nodes:
  - id: prompt
    type: text
    data:
      text: "Summarize this"
  - id: out
    type: chatOutput
edges:
  - source: prompt
    target: out
`

const cyclicYAML = `id: loop
nodes:
  - id: a
    type: text
  - id: b
    type: text
edges:
  - source: a
    target: b
  - source: b
    target: a
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// bumpModTime moves the mtime forward so pollers see a change even on
// filesystems with coarse timestamps.
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.json", greetJSON)
	writeFile(t, dir, "summarize.yaml", summarizeYAML)
	writeFile(t, dir, "notes.txt", "ignored")

	c := New(dir, WithLogger(zap.NewNop()))
	require.NoError(t, c.Load())
	assert.Equal(t, 2, c.Len())

	g, err := c.Get("greet")
	require.NoError(t, err)
	assert.Equal(t, "Greeter", g.Name)
	assert.Len(t, g.Nodes, 2)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "greet", list[0].ID)
	assert.Equal(t, "summarize", list[1].ID)
	assert.Equal(t, "Summarize the trigger message", list[1].Description)
	assert.Equal(t, 1, list[1].Edges)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_LoadKeepsValidFilesOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.json", greetJSON)
	bad := writeFile(t, dir, "loop.yml", cyclicYAML)
	writeFile(t, dir, "broken.json", "{not json")

	c := New(dir)
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop.yml")
	assert.Contains(t, err.Error(), "broken.json")

	assert.Equal(t, 1, c.Len())
	errs := c.Errors()
	require.Contains(t, errs, bad)
	assert.True(t, workflow.IsCycle(errs[bad]))
}

func TestCatalog_DuplicateIDRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", greetJSON)
	writeFile(t, dir, "b.json", greetJSON)

	c := New(dir)
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_LoadMissingDir(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, c.Load())
}

type changeLog struct {
	mu      sync.Mutex
	changes map[string]*workflow.Graph
	seen    map[string]bool
}

func newChangeLog() *changeLog {
	return &changeLog{changes: map[string]*workflow.Graph{}, seen: map[string]bool{}}
}

func (l *changeLog) record(id string, g *workflow.Graph) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes[id] = g
	l.seen[id] = true
}

func (l *changeLog) removed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[id] && l.changes[id] == nil
}

func TestCatalog_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	greet := writeFile(t, dir, "greet.json", greetJSON)

	log := newChangeLog()
	c := New(dir, WithPollInterval(20*time.Millisecond), WithOnChange(log.record))
	require.NoError(t, c.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))
	defer c.Close()
	assert.Error(t, c.Watch(ctx), "second watch should fail")

	// new file
	writeFile(t, dir, "summarize.yaml", summarizeYAML)
	assert.Eventually(t, func() bool {
		_, err := c.Get("summarize")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	// modified file
	renamed := `{"id":"greet","name":"Hello","nodes":[{"id":"t","type":"trigger"}],"edges":[]}`
	require.NoError(t, os.WriteFile(greet, []byte(renamed), 0o644))
	bumpModTime(t, greet)
	assert.Eventually(t, func() bool {
		g, err := c.Get("greet")
		return err == nil && g.Name == "Hello"
	}, 3*time.Second, 20*time.Millisecond)

	// removed file
	require.NoError(t, os.Remove(greet))
	assert.Eventually(t, func() bool {
		_, err := c.Get("greet")
		return err != nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return log.removed("greet") }, time.Second, 10*time.Millisecond)
}

func TestCatalog_IDChangeReplacesOldEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "greet.json", greetJSON)

	c := New(dir)
	require.NoError(t, c.Load())

	renamed := `{"id":"welcome","nodes":[{"id":"t","type":"trigger"}],"edges":[]}`
	require.NoError(t, os.WriteFile(path, []byte(renamed), 0o644))
	require.NoError(t, c.loadFile(path))

	_, err := c.Get("greet")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get("welcome")
	assert.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_CloseWithoutWatch(t *testing.T) {
	assert.NoError(t, New(t.TempDir()).Close())
}
