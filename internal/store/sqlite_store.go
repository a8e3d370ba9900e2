package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"go.uber.org/zap"

	"github.com/kittclouds/agentfs/internal/logging"
	"github.com/kittclouds/agentfs/internal/metrics"
)

// MemoryPath selects an in-memory database.
const MemoryPath = ":memory:"

// MigratePolicy controls what Open does with an older schema.
type MigratePolicy int

const (
	// MigrateAuto applies pending migrations in order.
	MigrateAuto MigratePolicy = iota
	// MigrateStrict fails with ErrIncompatibleSchema instead of migrating.
	MigrateStrict
)

// ParseMigratePolicy parses "auto" or "strict".
func ParseMigratePolicy(s string) (MigratePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MigrateAuto, nil
	case "strict":
		return MigrateStrict, nil
	default:
		return MigrateAuto, fmt.Errorf("unknown migrate policy %q: %w", s, ErrInvalidArgument)
	}
}

func (p MigratePolicy) String() string {
	if p == MigrateStrict {
		return "strict"
	}
	return "auto"
}

// Options configures Open.
type Options struct {
	// Path is the database file. Empty or MemoryPath opens an in-memory database.
	Path        string
	ReadOnly    bool
	BusyTimeout time.Duration
	Migrate     MigratePolicy
	// ChunkSize applies to newly created databases only.
	ChunkSize int
	Logger    *zap.Logger
	// Clock supplies timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// SQLiteStore is the storage handle. It owns the database connection and
// serializes write transactions; read transactions run concurrently with
// each other and with the writer.
type SQLiteStore struct {
	mu      sync.RWMutex // guards db; held shared by every transaction
	writeMu sync.Mutex   // one writer at a time
	db      *sql.DB

	path      string
	memory    bool
	readOnly  bool
	chunkSize int
	clock     func() time.Time
	base      *zap.Logger
	logger    *zap.Logger
}

// Open opens (creating if needed) the database described by opts and brings
// its schema to SchemaVersion.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	base := logging.OrNop(opts.Logger)
	s := &SQLiteStore{
		path:     opts.Path,
		memory:   opts.Path == "" || opts.Path == MemoryPath,
		readOnly: opts.ReadOnly,
		clock:    opts.Clock,
		base:     base,
		logger:   logging.Component(base, "store"),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.memory {
		s.path = MemoryPath
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	dsn, err := s.dsn(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if s.memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	s.db = db

	if err := s.migrate(ctx, opts.Migrate, chunkSize); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("store opened",
		zap.String("path", s.path),
		zap.Bool("read_only", s.readOnly),
		zap.Int("chunk_size", s.chunkSize),
	)
	return s, nil
}

// dsn builds a URI filename. Every form carries at least one _pragma so the
// driver tracks query_only across read-only transactions.
func (s *SQLiteStore) dsn(opts Options) (string, error) {
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(timeout.Milliseconds(), 10)+")")

	if s.memory {
		return "file::memory:?" + q.Encode(), nil
	}

	if s.readOnly {
		if _, err := os.Stat(opts.Path); err != nil {
			return "", &StorageError{Op: "open", Err: err}
		}
		q.Set("mode", "ro")
	} else if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &StorageError{Op: "open", Err: err}
		}
	}

	u := url.URL{Path: opts.Path}
	return "file:" + u.EscapedPath() + "?" + q.Encode(), nil
}

// migrate creates or upgrades the schema and loads the stored chunk size.
func (s *SQLiteStore) migrate(ctx context.Context, policy MigratePolicy, chunkSize int) error {
	version, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}

	switch {
	case version > SchemaVersion:
		return &StorageError{
			Op:  "migrate",
			Err: fmt.Errorf("database has version %d, this build supports %d: %w", version, SchemaVersion, ErrIncompatibleSchema),
		}
	case version > 0 && version < SchemaVersion && (policy == MigrateStrict || s.readOnly):
		return &StorageError{
			Op:  "migrate",
			Err: fmt.Errorf("database has version %d, want %d: %w", version, SchemaVersion, ErrIncompatibleSchema),
		}
	case version == 0 && s.readOnly && !s.memory:
		return &StorageError{
			Op:  "migrate",
			Err: fmt.Errorf("database has no schema: %w", ErrIncompatibleSchema),
		}
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.applyMigration(ctx, m, chunkSize); err != nil {
			return err
		}
		s.logger.Info("schema migrated", zap.Int("from", version), zap.Int("to", m.version))
		version = m.version
	}

	var stored string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM agentfs_meta WHERE key = ?`, metaChunkSize).Scan(&stored)
	if err != nil {
		return &StorageError{Op: "migrate", Err: fmt.Errorf("read chunk size: %w", err)}
	}
	s.chunkSize, err = strconv.Atoi(stored)
	if err != nil || s.chunkSize <= 0 {
		return &StorageError{Op: "migrate", Err: fmt.Errorf("bad chunk size %q: %w", stored, ErrIncompatibleSchema)}
	}
	return nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, m migration, chunkSize int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return &StorageError{Op: "migrate", Err: fmt.Errorf("apply version %d: %w", m.version, err)}
	}

	if m.version == 1 {
		now := s.clock().UnixNano()
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO fs_node (id, parent_id, name, kind, size, created_at, modified_at)
			VALUES (?, NULL, '', 'dir', 0, ?, ?)
		`, RootID, now, now); err != nil {
			return &StorageError{Op: "migrate", Err: fmt.Errorf("create root: %w", err)}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO agentfs_meta (key, value) VALUES (?, ?)`,
			metaChunkSize, strconv.Itoa(chunkSize)); err != nil {
			return &StorageError{Op: "migrate", Err: fmt.Errorf("record chunk size: %w", err)}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agentfs_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaSchemaVersion, strconv.Itoa(m.version)); err != nil {
		return &StorageError{Op: "migrate", Err: fmt.Errorf("record version: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *SQLiteStore) readSchemaVersion(ctx context.Context) (int, error) {
	var tables int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'agentfs_meta'`,
	).Scan(&tables)
	if err != nil {
		return 0, &StorageError{Op: "open", Err: err}
	}
	if tables == 0 {
		return 0, nil
	}

	var value string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM agentfs_meta WHERE key = ?`, metaSchemaVersion,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &StorageError{Op: "open", Err: err}
	}

	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, &StorageError{Op: "open", Err: fmt.Errorf("bad schema version %q: %w", value, ErrIncompatibleSchema)}
	}
	return version, nil
}

// SchemaVersion returns the version recorded in the database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.View(ctx, func(ctx context.Context, tx *Tx) error {
		var value string
		if err := tx.QueryRow(ctx, `SELECT value FROM agentfs_meta WHERE key = ?`, metaSchemaVersion).Scan(&value); err != nil {
			return err
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			return &StorageError{Op: "schema version", Err: err}
		}
		version = v
		return nil
	})
	return version, err
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// ReadOnly reports whether writes are refused.
func (s *SQLiteStore) ReadOnly() bool { return s.readOnly }

// ChunkSize returns the content chunk size of this database.
func (s *SQLiteStore) ChunkSize() int { return s.chunkSize }

// Now returns the current time from the store clock.
func (s *SQLiteStore) Now() time.Time { return s.clock() }

// Logger returns the logger the store was opened with, for engines to name.
func (s *SQLiteStore) Logger() *zap.Logger { return s.base }

// Close waits for in-flight transactions and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

type txKey struct{}

// Update runs fn in a write transaction. fn's error (or a panic) rolls the
// transaction back and is returned unchanged; otherwise it commits.
//
// The context handed to fn carries the transaction: Update and View calls
// made with it join the enclosing transaction instead of starting a new one.
func (s *SQLiteStore) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx.store == s {
		if !tx.writable {
			return &StorageError{Op: "update", Err: fmt.Errorf("write inside read transaction: %w", ErrReadOnly)}
		}
		return fn(ctx, tx)
	}
	if s.readOnly {
		return &StorageError{Op: "update", Err: ErrReadOnly}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run(ctx, true, fn)
}

// View runs fn in a read transaction. Any number of views run concurrently
// and see the last committed state.
func (s *SQLiteStore) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx.store == s {
		return fn(ctx, tx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run(ctx, false, fn)
}

// run executes fn in a new transaction. Once begun the transaction is not
// cancellable; it always commits or rolls back as a unit.
func (s *SQLiteStore) run(ctx context.Context, writable bool, fn func(ctx context.Context, tx *Tx) error) (err error) {
	mode := metrics.ModeRead
	if writable {
		mode = metrics.ModeWrite
	}
	start := time.Now()
	defer func() { metrics.RecordTransaction(mode, err, time.Since(start)) }()

	if s.db == nil {
		return &StorageError{Op: "begin", Err: ErrClosed}
	}

	ctx = context.WithoutCancel(ctx)
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: !writable})
	if err != nil {
		s.logger.Warn("begin transaction failed", zap.String("mode", mode), zap.Error(err))
		return &StorageError{Op: "begin", Err: err}
	}

	tx := &Tx{tx: sqlTx, store: s, writable: writable}
	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		s.logger.Debug("transaction rolled back", zap.String("mode", mode), zap.Error(err))
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		s.logger.Warn("commit failed", zap.Error(err))
		return &StorageError{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

// Tx is an open transaction. Driver errors from its methods come back as
// StorageErrors; sql.ErrNoRows is passed through.
type Tx struct {
	tx       *sql.Tx
	store    *SQLiteStore
	writable bool
}

// Now returns the store clock's current time.
func (t *Tx) Now() time.Time { return t.store.clock() }

// ChunkSize returns the database content chunk size.
func (t *Tx) ChunkSize() int { return t.store.chunkSize }

// Exec executes a statement.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("exec", err)
	}
	return res, nil
}

// Query runs a query returning rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("query", err)
	}
	return rows, nil
}

// QueryRow runs a query expected to return at most one row.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return Row{row: t.tx.QueryRowContext(ctx, query, args...)}
}

// Row is the result of QueryRow.
type Row struct {
	row *sql.Row
}

// Scan copies the row into dest. It returns sql.ErrNoRows when there was no
// row and a StorageError for anything else.
func (r Row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return Wrap("scan", err)
}
