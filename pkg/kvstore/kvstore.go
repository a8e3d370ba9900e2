// Package kvstore implements the agent's flat key-value namespace. Keys are
// unique strings ordered bytewise; values are opaque bytes.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/kittclouds/agentfs/internal/logging"
	"github.com/kittclouds/agentfs/internal/metrics"
	"github.com/kittclouds/agentfs/internal/store"
)

// DefaultPageSize is the number of keys List fetches per transaction.
const DefaultPageSize = 256

// Entry describes a stored key without its value.
type Entry struct {
	Key        string
	Size       int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Store is the key-value engine. It is safe for concurrent use.
type Store struct {
	store    *store.SQLiteStore
	logger   *zap.Logger
	pageSize int
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets how many keys List reads per page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New returns a key-value engine over s.
func New(s *store.SQLiteStore, opts ...Option) *Store {
	kv := &Store{store: s, logger: logging.Component(s.Logger(), "kv"), pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (value []byte, err error) {
	defer func() { metrics.RecordKVOperation("get", err) }()
	if key == "" {
		return nil, s.fail("get", key, store.ErrInvalidArgument)
	}
	err = s.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		// Zero-length blobs come back as NULL; the driver cannot scan them.
		err := tx.QueryRow(ctx,
			`SELECT NULLIF(value, x'') FROM kv_store WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err == nil && value == nil {
			value = []byte{}
		}
		return err
	})
	if err != nil {
		return nil, s.fail("get", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) (err error) {
	defer func() { metrics.RecordKVOperation("set", err) }()
	if key == "" {
		return s.fail("set", key, store.ErrInvalidArgument)
	}
	if value == nil {
		value = []byte{}
	}
	err = s.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		now := tx.Now().UnixNano()
		_, err := tx.Exec(ctx, `
			INSERT INTO kv_store (key, value, created_at, modified_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, modified_at = excluded.modified_at`,
			key, value, now, now)
		return err
	})
	if err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	defer func() { metrics.RecordKVOperation("delete", err) }()
	if key == "" {
		return s.fail("delete", key, store.ErrInvalidArgument)
	}
	err = s.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return s.fail("delete", key, err)
	}
	return nil
}

// Exists reports whether key is stored.
func (s *Store) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func() { metrics.RecordKVOperation("exists", err) }()
	if key == "" {
		return false, s.fail("exists", key, store.ErrInvalidArgument)
	}
	err = s.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kv_store WHERE key = ?)`, key).Scan(&ok)
	})
	if err != nil {
		return false, s.fail("exists", key, err)
	}
	return ok, nil
}

// List yields the keys starting with prefix in bytewise order. Keys are read
// a page at a time, each page in its own read transaction, so the sequence
// sees writes committed while it is consumed. Every range over the sequence
// starts again from the first key.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		after := ""
		for {
			page, err := s.page(ctx, prefix, after)
			metrics.RecordKVOperation("list", err)
			if err != nil {
				yield("", s.fail("list", prefix, err))
				return
			}
			for _, key := range page {
				if !yield(key, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1]
		}
	}
}

// page returns up to pageSize keys with prefix that sort after the cursor.
// An empty cursor starts at the first key.
func (s *Store) page(ctx context.Context, prefix, after string) ([]string, error) {
	where, args := prefixRange(prefix)
	if after != "" {
		where += " AND key > ?"
		args = append(args, after)
	}
	args = append(args, s.pageSize)

	var keys []string
	err := s.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Query(ctx, `SELECT key FROM kv_store WHERE `+where+` ORDER BY key LIMIT ?`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return store.Wrap("scan", err)
			}
			keys = append(keys, k)
		}
		if err := rows.Err(); err != nil {
			return store.Wrap("query", err)
		}
		return nil
	})
	return keys, err
}

// Keys collects List into a slice.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	for k, err := range s.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Entries returns metadata for every key with prefix, in key order.
func (s *Store) Entries(ctx context.Context, prefix string) (entries []Entry, err error) {
	defer func() { metrics.RecordKVOperation("entries", err) }()
	where, args := prefixRange(prefix)
	entries = []Entry{}
	err = s.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT key, length(value), created_at, modified_at FROM kv_store WHERE `+where+` ORDER BY key`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Entry
			var created, modified int64
			if err := rows.Scan(&e.Key, &e.Size, &created, &modified); err != nil {
				return store.Wrap("scan", err)
			}
			e.CreatedAt = time.Unix(0, created)
			e.ModifiedAt = time.Unix(0, modified)
			entries = append(entries, e)
		}
		if err := rows.Err(); err != nil {
			return store.Wrap("query", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("entries", prefix, err)
	}
	return entries, nil
}

// Clear deletes every key with prefix and returns how many were removed.
// An empty prefix clears the store.
func (s *Store) Clear(ctx context.Context, prefix string) (n int64, err error) {
	defer func() { metrics.RecordKVOperation("clear", err) }()
	where, args := prefixRange(prefix)
	err = s.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		res, err := tx.Exec(ctx, `DELETE FROM kv_store WHERE `+where, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return store.Wrap("clear", err)
		}
		return nil
	})
	if err != nil {
		return 0, s.fail("clear", prefix, err)
	}
	s.logger.Debug("cleared", zap.String("prefix", prefix), zap.Int64("keys", n))
	return n, nil
}

// SetJSON stores v encoded as JSON.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return &store.KeyError{Op: "setjson", Key: key, Err: errors.Join(store.ErrInvalidArgument, err)}
	}
	return s.Set(ctx, key, data)
}

// GetJSON decodes the JSON value stored under key into v.
func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return &store.KeyError{Op: "getjson", Key: key, Err: errors.Join(store.ErrInvalidArgument, err)}
	}
	return nil
}

// fail attaches op and key to domain errors. Storage and context errors
// pass through unchanged.
func (s *Store) fail(op, key string, err error) error {
	var se *store.StorageError
	var ke *store.KeyError
	switch {
	case errors.As(err, &se):
		s.logger.Warn("storage failure", zap.String("op", op), zap.Error(err))
		return err
	case errors.As(err, &ke), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &store.KeyError{Op: op, Key: key, Err: err}
}

// prefixRange returns a WHERE clause selecting keys that start with prefix
// as a range over the primary key.
func prefixRange(prefix string) (string, []any) {
	if prefix == "" {
		return "1 = 1", nil
	}
	if end, ok := prefixEnd(prefix); ok {
		return "key >= ? AND key < ?", []any{prefix, end}
	}
	return "key >= ?", []any{prefix}
}

// prefixEnd returns the smallest string greater than every string with
// prefix. ok is false when no such bound exists (prefix is all 0xff).
func prefixEnd(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

