// Package catalog keeps the workflow definitions found in a directory and
// reloads them when their files change.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/workflow"
)

// Extensions lists the definition file formats the catalog loads.
var Extensions = []string{".json", ".yaml", ".yml"}

// ErrNotFound is returned when no definition has the requested id.
var ErrNotFound = errors.New("workflow definition not found")

// Entry is a loaded definition.
type Entry struct {
	Graph    *workflow.Graph
	Path     string
	LoadedAt time.Time
}

// Summary describes a definition for listings.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Nodes       int       `json:"nodes"`
	Edges       int       `json:"edges"`
	Path        string    `json:"path"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// ChangeFunc is called after a definition was added, replaced or removed.
// graph is nil on removal.
type ChangeFunc func(id string, graph *workflow.Graph)

// Catalog maps workflow ids to definitions loaded from one directory.
type Catalog struct {
	dir          string
	pollInterval time.Duration
	logger       *zap.Logger
	onChange     ChangeFunc

	mu      sync.RWMutex
	entries map[string]*Entry
	byPath  map[string]string
	errs    map[string]error
	watcher *config.FileWatcher
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval sets how often Watch scans the directory.
func WithPollInterval(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithOnChange registers a callback for reloads.
func WithOnChange(fn ChangeFunc) Option {
	return func(c *Catalog) { c.onChange = fn }
}

// New creates an empty catalog over dir. Call Load to read it.
func New(dir string, opts ...Option) *Catalog {
	c := &Catalog{
		dir:          filepath.Clean(dir),
		pollInterval: 2 * time.Second,
		logger:       zap.NewNop(),
		entries:      make(map[string]*Entry),
		byPath:       make(map[string]string),
		errs:         make(map[string]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "workflow_catalog"), zap.String("dir", c.dir))
	return c
}

// Dir returns the watched directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Load reads every definition file in the directory. Invalid files are
// skipped and reported in the returned error; valid ones are still loaded.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		if err := c.loadFile(filepath.Join(c.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("workflow definitions loaded",
		zap.Int("workflows", c.Len()),
		zap.Int("invalid", len(errs)))
	return errors.Join(errs...)
}

// loadFile parses one file and installs it, replacing whatever that file
// defined before.
func (c *Catalog) loadFile(path string) error {
	g, err := workflow.LoadGraphFile(path)

	c.mu.Lock()
	prevID, hadPrev := c.byPath[path]
	if err != nil {
		c.errs[path] = err
		c.mu.Unlock()
		c.logger.Warn("invalid workflow definition", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if owner, ok := c.entries[g.ID]; ok && owner.Path != path {
		dupErr := fmt.Errorf("workflow id %q already defined in %s", g.ID, filepath.Base(owner.Path))
		c.errs[path] = dupErr
		c.mu.Unlock()
		c.logger.Warn("duplicate workflow id", zap.String("path", path), zap.String("workflow_id", g.ID))
		return fmt.Errorf("%s: %w", filepath.Base(path), dupErr)
	}

	delete(c.errs, path)
	if hadPrev && prevID != g.ID {
		delete(c.entries, prevID)
	}
	c.entries[g.ID] = &Entry{Graph: g, Path: path, LoadedAt: time.Now()}
	c.byPath[path] = g.ID
	c.mu.Unlock()

	if hadPrev && prevID != g.ID {
		c.notify(prevID, nil)
	}
	c.notify(g.ID, g)
	c.logger.Debug("workflow definition loaded",
		zap.String("workflow_id", g.ID),
		zap.String("path", path),
		zap.Int("nodes", len(g.Nodes)))
	return nil
}

func (c *Catalog) removeFile(path string) {
	c.mu.Lock()
	id, ok := c.byPath[path]
	delete(c.byPath, path)
	delete(c.errs, path)
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if ok {
		c.notify(id, nil)
		c.logger.Info("workflow definition removed", zap.String("workflow_id", id), zap.String("path", path))
	}
}

func (c *Catalog) notify(id string, g *workflow.Graph) {
	if c.onChange != nil {
		c.onChange(id, g)
	}
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (*workflow.Graph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Graph, nil
}

// List returns summaries of all definitions ordered by id.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	out := make([]Summary, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, Summary{
			ID:          id,
			Name:        e.Graph.Name,
			Description: e.Graph.Description,
			Nodes:       len(e.Graph.Nodes),
			Edges:       len(e.Graph.Edges),
			Path:        e.Path,
			LoadedAt:    e.LoadedAt,
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of loaded definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Errors returns the load error of every file that currently fails to load,
// keyed by path.
func (c *Catalog) Errors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}

// Watch starts polling the directory and applies changes until ctx is done
// or Close is called.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := config.NewFileWatcher([]string{c.dir},
		config.WithExtensions(Extensions...),
		config.WithPollInterval(c.pollInterval),
		config.WithDebounceDelay(c.pollInterval/4),
		config.WithWatcherLogger(c.logger),
	)
	if err != nil {
		return fmt.Errorf("create definitions watcher: %w", err)
	}
	w.OnChange(c.handleEvent)

	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		return fmt.Errorf("catalog already watching")
	}
	c.watcher = w
	c.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		c.mu.Lock()
		c.watcher = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Catalog) handleEvent(ev config.FileEvent) {
	switch ev.Op {
	case config.FileOpRemove:
		c.removeFile(ev.Path)
	default:
		_ = c.loadFile(ev.Path)
	}
}

// Close stops watching.
func (c *Catalog) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
