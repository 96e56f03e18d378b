// Package storage implements the keyed context store the bridge core uses
// to persist commissioning state, fabric labels and endpoint numbers
// (spec §4.1).
//
// Each named context is a directory under the configured base path
// holding a single JSON blob (`persist.json`). Opening the same name
// twice returns the same logical context (backed by a shared in-memory
// handle), writes are flushed to disk before Set returns, and Backup
// duplicates a context directory atomically via rename, following the
// spec's "rename-on-close semantics" contract.
//
// This package is one of the few in this module built on the standard
// library rather than a third-party dependency; see DESIGN.md for why no
// pack dependency fits a directory-per-context, atomic-rename-backup
// contract without working against its grain.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/model"
)

// Adapter opens and tracks named contexts rooted at a base directory.
type Adapter struct {
	baseDir string
	log     zerolog.Logger

	mu       sync.Mutex
	contexts map[string]*Context
}

// New creates a Storage Adapter rooted at baseDir, creating the directory
// if necessary. It fails with ErrStorageUnavailable if baseDir cannot be
// created or is not writable.
func New(baseDir string, log zerolog.Logger) (*Adapter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	probe := filepath.Join(baseDir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	_ = os.Remove(probe)

	return &Adapter{
		baseDir:  baseDir,
		log:      log.With().Str("component", "storage").Logger(),
		contexts: make(map[string]*Context),
	}, nil
}

// Open returns the context for name, creating it on first use. Opening
// the same name twice returns the same logical context (spec §4.1).
func (a *Adapter) Open(name string) (*Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ctx, ok := a.contexts[name]; ok {
		return ctx, nil
	}

	dir := filepath.Join(a.baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}

	ctx := &Context{
		name: name,
		dir:  dir,
		data: make(map[string]interface{}),
	}
	if err := ctx.load(); err != nil {
		return nil, err
	}

	a.contexts[name] = ctx
	a.log.Debug().Str("context", name).Msg("opened storage context")
	return ctx, nil
}

// Close closes every open context, flushing any pending writes. Errors
// from individual contexts are logged but do not stop the rest from
// closing; the first error is returned (backup-style non-fatal failure
// policy, spec §4.1).
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for name, ctx := range a.contexts {
		ctx.mu.Lock()
		err := ctx.flush()
		ctx.mu.Unlock()
		if err != nil {
			a.log.Warn().Err(err).Str("context", name).Msg("failed to flush storage context on close")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.contexts = make(map[string]*Context)
	return firstErr
}

// Context is one named, durable key/value namespace.
type Context struct {
	mu   sync.Mutex
	name string
	dir  string
	data map[string]interface{}
}

func (c *Context) persistPath() string {
	return filepath.Join(c.dir, "persist.json")
}

func (c *Context) load() error {
	path := c.persistPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &c.data)
}

// flush writes the current in-memory data to disk. Must be called with
// c.mu held.
func (c *Context) flush() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.persistPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return os.Rename(tmp, c.persistPath())
}

// Get returns the value for key, or def if the key is absent.
func (c *Context) Get(key string, def interface{}) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Set durably writes key=value. Writes are flushed to disk before Set
// returns (spec §4.1 "writes are durable before close returns").
func (c *Context) Set(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, existed := c.data[key]
	c.data[key] = value
	if err := c.flush(); err != nil {
		if existed {
			c.data[key] = prev
		} else {
			delete(c.data, key)
		}
		return err
	}
	return nil
}

// Name returns the context's identifier.
func (c *Context) Name() string { return c.name }

// Backup duplicates the context directory atomically into
// "<name>.backup" under the same base directory. Failures are logged by
// the caller and are non-fatal (spec §4.1).
func (a *Adapter) Backup(name string) error {
	a.mu.Lock()
	ctx, ok := a.contexts[name]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: context %q not open", model.ErrNotFound, name)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if err := ctx.flush(); err != nil {
		return err
	}

	backupDir := filepath.Join(a.baseDir, name+".backup")
	tmpDir := backupDir + ".tmp"
	_ = os.RemoveAll(tmpDir)
	if err := copyDir(ctx.dir, tmpDir); err != nil {
		return fmt.Errorf("backup copy failed: %w", err)
	}
	_ = os.RemoveAll(backupDir)
	return os.Rename(tmpDir, backupDir)
}

// StorageName returns the childbridge-mode storage context name for the
// Matter engine, honouring the profile-suffix convention: "matterstorage"
// when profile is empty, "matterstorage.<profile>" otherwise (spec §9
// Open Question).
func StorageName(profile string) string {
	if profile == "" {
		return "matterstorage"
	}
	return "matterstorage." + profile
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		raw, err := os.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dstPath, raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}
