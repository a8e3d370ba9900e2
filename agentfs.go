// Package agentfs gives an AI agent a sandboxed filesystem, a key-value store
// and a ledger of its tool calls, all kept in one SQLite database.
//
//	afs, err := agentfs.Open(ctx, agentfs.Options{ID: "researcher"})
//	if err != nil {
//		return err
//	}
//	defer afs.Close()
//
//	err = afs.FS.WriteFile(ctx, "/notes/todo.md", []byte("- read the paper"))
package agentfs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/agentfs/internal/config"
	"github.com/kittclouds/agentfs/internal/logging"
	"github.com/kittclouds/agentfs/internal/store"
	"github.com/kittclouds/agentfs/pkg/filesystem"
	"github.com/kittclouds/agentfs/pkg/kvstore"
	"github.com/kittclouds/agentfs/pkg/toolcalls"
)

// DataDir is where databases named by agent id are kept, relative to the
// working directory.
const DataDir = ".agentfs"

// Store is the transactional handle shared by the engines.
type Store = store.SQLiteStore

// Tx is a transaction passed to Store.Update and Store.View callbacks.
type Tx = store.Tx

// MigratePolicy controls how an older schema is handled on open.
type MigratePolicy = store.MigratePolicy

const (
	MigrateAuto   = store.MigrateAuto
	MigrateStrict = store.MigrateStrict
)

// Options configures Open. One set of options serves all three engines.
type Options struct {
	// ID names the agent. Without Path the database is DataDir/<ID>.db.
	ID string
	// Path is the database file, or ":memory:". It wins over ID.
	Path string
	// ReadOnly opens the database without write access.
	ReadOnly bool
	// BusyTimeout bounds how long a write waits for a lock held by another
	// process.
	BusyTimeout time.Duration
	// Migrate is the policy for databases created by older versions.
	Migrate MigratePolicy
	// ChunkSize is the file content chunk size for a new database.
	ChunkSize int
	// Logger receives structured logs. Nil disables logging.
	Logger *zap.Logger
}

// AgentFS bundles the engines over one database.
type AgentFS struct {
	FS    *filesystem.Filesystem
	KV    *kvstore.Store
	Tools *toolcalls.Ledger

	store      *store.SQLiteStore
	logger     *zap.Logger
	ownsLogger bool
}

// Open opens the database selected by opts and builds the engines on it.
func Open(ctx context.Context, opts Options) (*AgentFS, error) {
	path, err := resolvePath(opts)
	if err != nil {
		return nil, err
	}
	logger := logging.ForAgent(opts.Logger, opts.ID)

	s, err := store.Open(ctx, store.Options{
		Path:        path,
		ReadOnly:    opts.ReadOnly,
		BusyTimeout: opts.BusyTimeout,
		Migrate:     opts.Migrate,
		ChunkSize:   opts.ChunkSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &AgentFS{
		FS:     filesystem.New(s),
		KV:     kvstore.New(s),
		Tools:  toolcalls.New(s),
		store:  s,
		logger: logger,
	}, nil
}

// OpenFromEnv opens AgentFS configured by AGENTFS_* environment variables.
func OpenFromEnv(ctx context.Context) (*AgentFS, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	afs, err := Open(ctx, Options{
		ID:          cfg.Store.ID,
		Path:        cfg.Store.Path,
		ReadOnly:    cfg.Store.ReadOnly,
		BusyTimeout: cfg.Store.BusyTimeout,
		Migrate:     cfg.MigratePolicy(),
		ChunkSize:   cfg.Store.ChunkSize,
		Logger:      logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	afs.ownsLogger = true
	return afs, nil
}

// Store returns the shared handle. Engine calls made with the context given
// to a Store.Update callback join that transaction and commit or roll back
// together.
func (a *AgentFS) Store() *Store { return a.store }

// Close closes the database. Engines must not be used afterwards.
func (a *AgentFS) Close() error {
	err := a.store.Close()
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return err
}

// resolvePath picks the database location: Path, else DataDir/<ID>.db,
// else in-memory.
func resolvePath(opts Options) (string, error) {
	switch {
	case opts.Path != "":
		return opts.Path, nil
	case opts.ID == "":
		return store.MemoryPath, nil
	case opts.ID == "." || opts.ID == ".." || strings.ContainsAny(opts.ID, `/\`+"\x00"):
		return "", fmt.Errorf("agent id %q: %w", opts.ID, ErrInvalidArgument)
	}
	return filepath.Join(DataDir, opts.ID+".db"), nil
}
