// Package filesystem implements a POSIX-like hierarchical filesystem on top of
// the agent database. Every operation runs in a single transaction: it either
// applies completely or leaves the tree untouched.
package filesystem

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/agentfs/internal/logging"
	"github.com/kittclouds/agentfs/internal/metrics"
	"github.com/kittclouds/agentfs/internal/store"
)

// Kind is the type of a filesystem entry.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Stats describes a node.
type Stats struct {
	ID         int64
	Kind       Kind
	Size       int64
	Mode       fs.FileMode
	UID        uint32
	GID        uint32
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IsDir reports whether the node is a directory.
func (s Stats) IsDir() bool { return s.Kind == KindDirectory }

// IsFile reports whether the node is a regular file.
func (s Stats) IsFile() bool { return s.Kind == KindFile }

// DirEntry is a directory child with its metadata.
type DirEntry struct {
	Name  string
	Stats Stats
}

// WriteOptions controls Write.
type WriteOptions struct {
	// Create makes the file if it does not exist.
	Create bool
	// Truncate replaces existing content instead of overwriting its prefix.
	Truncate bool
	// Exclusive fails with ErrAlreadyExists if the path exists.
	Exclusive bool
}

// Usage summarises the tree.
type Usage struct {
	Nodes int64
	Files int64
	Dirs  int64
	Bytes int64
}

// Filesystem is the filesystem engine. It is safe for concurrent use.
type Filesystem struct {
	store  *store.SQLiteStore
	logger *zap.Logger
	uid    uint32
	gid    uint32
}

// Option configures a Filesystem.
type Option func(*Filesystem)

// WithOwner sets the owner recorded on new nodes.
func WithOwner(uid, gid uint32) Option {
	return func(f *Filesystem) {
		f.uid = uid
		f.gid = gid
	}
}

// New returns a filesystem engine over s.
func New(s *store.SQLiteStore, opts ...Option) *Filesystem {
	f := &Filesystem{store: s, logger: logging.Component(s.Logger(), "fs")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stat returns metadata for path.
func (f *Filesystem) Stat(ctx context.Context, path string) (st Stats, err error) {
	defer func() { metrics.RecordFSOperation("stat", err) }()
	clean, segs, err := normalize(path)
	if err != nil {
		return Stats{}, f.fail("stat", path, err)
	}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolve(ctx, tx, segs)
		if err != nil {
			return err
		}
		st = toStats(n)
		return nil
	})
	if err != nil {
		return Stats{}, f.fail("stat", clean, err)
	}
	return st, nil
}

// Exists reports whether path names a node. Missing ancestors are not an error.
func (f *Filesystem) Exists(ctx context.Context, path string) (bool, error) {
	_, err := f.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotADirectory):
		return false, nil
	default:
		return false, err
	}
}

// List returns the names of a directory's children in byte order.
func (f *Filesystem) List(ctx context.Context, path string) (names []string, err error) {
	defer func() { metrics.RecordFSOperation("list", err) }()
	clean, segs, err := normalize(path)
	if err != nil {
		return nil, f.fail("list", path, err)
	}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		dir, err := resolveDir(ctx, tx, segs)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT name FROM fs_node WHERE parent_id = ? ORDER BY name`, dir.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		names = []string{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return store.Wrap("scan", err)
			}
			names = append(names, name)
		}
		return rowsErr(rows)
	})
	if err != nil {
		return nil, f.fail("list", clean, err)
	}
	return names, nil
}

// ReadDirPlus returns a directory's children with their metadata, by name.
func (f *Filesystem) ReadDirPlus(ctx context.Context, path string) (entries []DirEntry, err error) {
	defer func() { metrics.RecordFSOperation("readdirplus", err) }()
	clean, segs, err := normalize(path)
	if err != nil {
		return nil, f.fail("readdirplus", path, err)
	}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		dir, err := resolveDir(ctx, tx, segs)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT `+store.NodeColumns+` FROM fs_node WHERE parent_id = ? ORDER BY name`, dir.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		entries = []DirEntry{}
		for rows.Next() {
			n, err := store.ScanNode(rows)
			if err != nil {
				return store.Wrap("scan", err)
			}
			entries = append(entries, DirEntry{Name: n.Name, Stats: toStats(n)})
		}
		return rowsErr(rows)
	})
	if err != nil {
		return nil, f.fail("readdirplus", clean, err)
	}
	return entries, nil
}

// Mkdir creates a directory. With recursive, missing ancestors are created
// and an existing directory at path is not an error.
func (f *Filesystem) Mkdir(ctx context.Context, path string, recursive bool) (err error) {
	defer func() { metrics.RecordFSOperation("mkdir", err) }()
	clean, segs, err := normalize(path)
	if err != nil {
		return f.fail("mkdir", path, err)
	}
	if len(segs) == 0 {
		if recursive {
			return nil
		}
		return f.fail("mkdir", clean, store.ErrAlreadyExists)
	}

	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		if !recursive {
			parent, name, err := resolveParent(ctx, tx, segs)
			if err != nil {
				return err
			}
			if _, err := lookup(ctx, tx, parent.ID, name); err == nil {
				return store.ErrAlreadyExists
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			_, err = f.create(ctx, tx, parent.ID, name, store.KindDir)
			return err
		}

		dir, err := root(ctx, tx)
		if err != nil {
			return err
		}
		for i, seg := range segs {
			child, err := lookup(ctx, tx, dir.ID, seg)
			switch {
			case errors.Is(err, store.ErrNotFound):
				child, err = f.create(ctx, tx, dir.ID, seg, store.KindDir)
				if err != nil {
					return err
				}
			case err != nil:
				return err
			case !child.IsDir() && i == len(segs)-1:
				return store.ErrAlreadyExists
			case !child.IsDir():
				return store.ErrNotADirectory
			}
			dir = child
		}
		return nil
	})
	if err != nil {
		return f.fail("mkdir", clean, err)
	}
	f.logger.Debug("mkdir", zap.String("path", clean), zap.Bool("recursive", recursive))
	return nil
}

// WriteFile creates or replaces the file at path with data.
func (f *Filesystem) WriteFile(ctx context.Context, path string, data []byte) error {
	return f.Write(ctx, path, data, WriteOptions{Create: true, Truncate: true})
}

// Write stores data at path. Without Truncate, an existing file has its
// prefix overwritten and keeps any bytes past len(data).
func (f *Filesystem) Write(ctx context.Context, path string, data []byte, opts WriteOptions) (err error) {
	defer func() {
		metrics.RecordFSOperation("write", err)
		if err == nil {
			metrics.RecordBytesWritten(len(data))
		}
	}()
	clean, segs, err := normalize(path)
	if err != nil {
		return f.fail("write", path, err)
	}
	if len(segs) == 0 {
		return f.fail("write", clean, store.ErrIsADirectory)
	}

	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		parent, name, err := resolveParent(ctx, tx, segs)
		if err != nil {
			return err
		}
		n, err := lookup(ctx, tx, parent.ID, name)
		if errors.Is(err, store.ErrNotFound) {
			if !opts.Create {
				return store.ErrNotFound
			}
			n, err = f.create(ctx, tx, parent.ID, name, store.KindFile)
			if err != nil {
				return err
			}
			if err := writeRange(ctx, tx, n.ContentRef, 0, data); err != nil {
				return err
			}
			return setSize(ctx, tx, n.ID, int64(len(data)))
		}
		if err != nil {
			return err
		}
		if n.IsDir() {
			return store.ErrIsADirectory
		}
		if opts.Exclusive {
			return store.ErrAlreadyExists
		}

		size := int64(len(data))
		if opts.Truncate {
			if err := deleteContent(ctx, tx, n.ContentRef); err != nil {
				return err
			}
		} else {
			size = max(size, n.Size)
		}
		if err := writeRange(ctx, tx, n.ContentRef, 0, data); err != nil {
			return err
		}
		return setSize(ctx, tx, n.ID, size)
	})
	if err != nil {
		return f.fail("write", clean, err)
	}
	return nil
}

// Read returns the full content of the file at path.
func (f *Filesystem) Read(ctx context.Context, path string) (data []byte, err error) {
	defer func() { metrics.RecordFSOperation("read", err) }()
	clean, segs, err := normalize(path)
	if err != nil {
		return nil, f.fail("read", path, err)
	}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolveFile(ctx, tx, segs)
		if err != nil {
			return err
		}
		data = make([]byte, n.Size)
		return readRange(ctx, tx, n.ContentRef, 0, data)
	})
	if err != nil {
		return nil, f.fail("read", clean, err)
	}
	return data, nil
}

// ReadAt returns up to length bytes starting at offset. Reads past the end
// are short; a read starting at or past the end returns no bytes.
func (f *Filesystem) ReadAt(ctx context.Context, path string, offset int64, length int) (data []byte, err error) {
	defer func() { metrics.RecordFSOperation("readat", err) }()
	clean, segs, err := normalize(path)
	if err == nil && (offset < 0 || length < 0) {
		err = store.ErrInvalidArgument
	}
	if err != nil {
		return nil, f.fail("readat", path, err)
	}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolveFile(ctx, tx, segs)
		if err != nil {
			return err
		}
		if offset >= n.Size {
			data = []byte{}
			return nil
		}
		data = make([]byte, min(int64(length), n.Size-offset))
		return readRange(ctx, tx, n.ContentRef, offset, data)
	})
	if err != nil {
		return nil, f.fail("readat", clean, err)
	}
	return data, nil
}

// WriteAt writes data at offset into an existing file, extending it as
// needed. A gap between the old end and offset reads as zeros.
func (f *Filesystem) WriteAt(ctx context.Context, path string, offset int64, data []byte) (err error) {
	defer func() {
		metrics.RecordFSOperation("writeat", err)
		if err == nil {
			metrics.RecordBytesWritten(len(data))
		}
	}()
	clean, segs, err := normalize(path)
	if err == nil && offset < 0 {
		err = store.ErrInvalidArgument
	}
	if err != nil {
		return f.fail("writeat", path, err)
	}
	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolveFile(ctx, tx, segs)
		if err != nil {
			return err
		}
		if err := writeRange(ctx, tx, n.ContentRef, offset, data); err != nil {
			return err
		}
		return setSize(ctx, tx, n.ID, max(n.Size, offset+int64(len(data))))
	})
	if err != nil {
		return f.fail("writeat", clean, err)
	}
	return nil
}

// Truncate sets the size of a file. Growing appends zeros.
func (f *Filesystem) Truncate(ctx context.Context, path string, size int64) (err error) {
	defer func() { metrics.RecordFSOperation("truncate", err) }()
	clean, segs, err := normalize(path)
	if err == nil && size < 0 {
		err = store.ErrInvalidArgument
	}
	if err != nil {
		return f.fail("truncate", path, err)
	}
	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolveFile(ctx, tx, segs)
		if err != nil {
			return err
		}
		if size < n.Size {
			if err := truncateContent(ctx, tx, n.ContentRef, size); err != nil {
				return err
			}
		}
		return setSize(ctx, tx, n.ID, size)
	})
	if err != nil {
		return f.fail("truncate", clean, err)
	}
	return nil
}

// Remove deletes a file or directory. A non-empty directory requires
// recursive, which removes the whole subtree and its content.
func (f *Filesystem) Remove(ctx context.Context, path string, recursive bool) (err error) {
	defer func() { metrics.RecordFSOperation("remove", err) }()
	clean, segs, err := normalize(path)
	if err == nil && len(segs) == 0 {
		err = store.ErrInvalidArgument
	}
	if err != nil {
		return f.fail("remove", path, err)
	}
	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolve(ctx, tx, segs)
		if err != nil {
			return err
		}
		if n.IsDir() {
			empty, err := isEmpty(ctx, tx, n.ID)
			if err != nil {
				return err
			}
			if !empty && !recursive {
				return store.ErrNotEmpty
			}
		}
		if err := removeSubtree(ctx, tx, n.ID); err != nil {
			return err
		}
		return touch(ctx, tx, n.ParentID)
	})
	if err != nil {
		return f.fail("remove", clean, err)
	}
	f.logger.Debug("removed", zap.String("path", clean), zap.Bool("recursive", recursive))
	return nil
}

// Rename moves src to dst. An existing dst of the same kind is replaced when
// it is a file or an empty directory.
func (f *Filesystem) Rename(ctx context.Context, src, dst string) (err error) {
	defer func() { metrics.RecordFSOperation("rename", err) }()
	cleanSrc, srcSegs, err := normalize(src)
	if err != nil {
		return f.fail("rename", src, err)
	}
	cleanDst, dstSegs, err := normalize(dst)
	if err != nil {
		return f.fail("rename", dst, err)
	}
	if len(srcSegs) == 0 {
		return f.fail("rename", cleanSrc, store.ErrInvalidRename)
	}
	if len(dstSegs) == 0 {
		return f.fail("rename", cleanDst, store.ErrInvalidRename)
	}
	// Failures caused by the destination are reported against it.
	atDst := func(err error) error {
		var se *store.StorageError
		if errors.As(err, &se) {
			return err
		}
		return &store.PathError{Op: "rename", Path: cleanDst, Err: err}
	}

	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolve(ctx, tx, srcSegs)
		if err != nil {
			return err
		}
		if cleanSrc == cleanDst {
			return nil
		}
		parent, name, err := resolveParent(ctx, tx, dstSegs)
		if err != nil {
			return atDst(err)
		}
		if n.IsDir() {
			inside, err := isAncestor(ctx, tx, n.ID, parent.ID)
			if err != nil {
				return err
			}
			if inside {
				return store.ErrInvalidRename
			}
		}

		existing, err := lookup(ctx, tx, parent.ID, name)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case existing.IsDir() != n.IsDir():
			return atDst(store.ErrAlreadyExists)
		case existing.IsDir():
			empty, err := isEmpty(ctx, tx, existing.ID)
			if err != nil {
				return err
			}
			if !empty {
				return atDst(store.ErrNotEmpty)
			}
			fallthrough
		default:
			if err := removeSubtree(ctx, tx, existing.ID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE fs_node SET parent_id = ?, name = ? WHERE id = ?`, parent.ID, name, n.ID); err != nil {
			return err
		}
		if err := touch(ctx, tx, n.ParentID); err != nil {
			return err
		}
		return touch(ctx, tx, parent.ID)
	})
	if err != nil {
		return f.fail("rename", cleanSrc, err)
	}
	f.logger.Debug("renamed", zap.String("src", cleanSrc), zap.String("dst", cleanDst))
	return nil
}

// Chmod sets the permission bits recorded on path. They are not enforced.
func (f *Filesystem) Chmod(ctx context.Context, path string, mode fs.FileMode) error {
	return f.setAttr(ctx, "chmod", path, `UPDATE fs_node SET mode = ? WHERE id = ?`, int64(mode.Perm()))
}

// Chown sets the owner recorded on path. It is not enforced.
func (f *Filesystem) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return f.setAttr(ctx, "chown", path, `UPDATE fs_node SET uid = ?, gid = ? WHERE id = ?`, int64(uid), int64(gid))
}

func (f *Filesystem) setAttr(ctx context.Context, op, path, query string, values ...any) (err error) {
	defer func() { metrics.RecordFSOperation(op, err) }()
	clean, segs, err := normalize(path)
	if err != nil {
		return f.fail(op, path, err)
	}
	err = f.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolve(ctx, tx, segs)
		if err != nil {
			return err
		}
		args := append(values, n.ID)
		_, err = tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return f.fail(op, clean, err)
	}
	return nil
}

// Usage counts the nodes and content bytes in the tree. The root counts as
// a directory.
func (f *Filesystem) Usage(ctx context.Context) (u Usage, err error) {
	defer func() { metrics.RecordFSOperation("usage", err) }()
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(kind = 'file'), 0),
			       COALESCE(SUM(kind = 'dir'), 0),
			       COALESCE(SUM(size), 0)
			FROM fs_node`).Scan(&u.Nodes, &u.Files, &u.Dirs, &u.Bytes)
	})
	if err != nil {
		return Usage{}, f.fail("usage", "/", err)
	}
	return u, nil
}

// fail attaches op and path to domain errors. Storage errors and context
// errors are returned as they are.
func (f *Filesystem) fail(op, path string, err error) error {
	var se *store.StorageError
	var pe *store.PathError
	switch {
	case errors.As(err, &se):
		f.logger.Warn("storage failure", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return err
	case errors.As(err, &pe), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &store.PathError{Op: op, Path: path, Err: err}
}

// =============================================================================
// Node helpers
// =============================================================================

func (f *Filesystem) create(ctx context.Context, tx *store.Tx, parentID int64, name string, kind store.NodeKind) (*store.Node, error) {
	now := tx.Now().UnixNano()
	n := &store.Node{
		ParentID:   parentID,
		Name:       name,
		Kind:       kind,
		Mode:       store.DefaultDirMode,
		UID:        f.uid,
		GID:        f.gid,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	var ref any
	if kind == store.KindFile {
		n.Mode = store.DefaultFileMode
		n.ContentRef = uuid.NewString()
		ref = n.ContentRef
	}
	res, err := tx.Exec(ctx, `
		INSERT INTO fs_node (parent_id, name, kind, size, mode, uid, gid, created_at, modified_at, content_ref)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		parentID, name, string(kind), int64(n.Mode), int64(n.UID), int64(n.GID), now, now, ref)
	if err != nil {
		return nil, err
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return nil, store.Wrap("insert", err)
	}
	return n, touch(ctx, tx, parentID)
}

func root(ctx context.Context, tx *store.Tx) (*store.Node, error) {
	n, err := store.ScanNode(tx.QueryRow(ctx, `SELECT `+store.NodeColumns+` FROM fs_node WHERE id = ?`, store.RootID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.StorageError{Op: "resolve", Err: errors.New("root directory missing")}
	}
	return n, err
}

func lookup(ctx context.Context, tx *store.Tx, parentID int64, name string) (*store.Node, error) {
	n, err := store.ScanNode(tx.QueryRow(ctx,
		`SELECT `+store.NodeColumns+` FROM fs_node WHERE parent_id = ? AND name = ?`, parentID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return n, err
}

// resolve walks segs from the root.
func resolve(ctx context.Context, tx *store.Tx, segs []string) (*store.Node, error) {
	n, err := root(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, seg := range segs {
		if !n.IsDir() {
			return nil, store.ErrNotADirectory
		}
		if n, err = lookup(ctx, tx, n.ID, seg); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// resolveParent resolves every segment but the last, which it returns.
func resolveParent(ctx context.Context, tx *store.Tx, segs []string) (*store.Node, string, error) {
	parent, err := resolveDir(ctx, tx, segs[:len(segs)-1])
	if err != nil {
		return nil, "", err
	}
	return parent, segs[len(segs)-1], nil
}

func resolveDir(ctx context.Context, tx *store.Tx, segs []string) (*store.Node, error) {
	n, err := resolve(ctx, tx, segs)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, store.ErrNotADirectory
	}
	return n, nil
}

func resolveFile(ctx context.Context, tx *store.Tx, segs []string) (*store.Node, error) {
	n, err := resolve(ctx, tx, segs)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, store.ErrIsADirectory
	}
	return n, nil
}

func isEmpty(ctx context.Context, tx *store.Tx, id int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fs_node WHERE parent_id = ?)`, id).Scan(&exists)
	return !exists, err
}

// isAncestor reports whether ancestor is id or one of its ancestors.
func isAncestor(ctx context.Context, tx *store.Tx, ancestor, id int64) (bool, error) {
	var found bool
	err := tx.QueryRow(ctx, `
		WITH RECURSIVE up(id, parent_id) AS (
			SELECT id, parent_id FROM fs_node WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id FROM fs_node n JOIN up ON n.id = up.parent_id
		)
		SELECT EXISTS (SELECT 1 FROM up WHERE id = ?)`, id, ancestor).Scan(&found)
	return found, err
}

const subtreeCTE = `
	WITH RECURSIVE sub(id) AS (
		SELECT ?
		UNION ALL
		SELECT n.id FROM fs_node n JOIN sub ON n.parent_id = sub.id
	)`

// removeSubtree deletes id, its descendants and all of their content.
func removeSubtree(ctx context.Context, tx *store.Tx, id int64) error {
	if _, err := tx.Exec(ctx, subtreeCTE+`
		DELETE FROM fs_content WHERE ref IN (
			SELECT content_ref FROM fs_node
			WHERE id IN (SELECT id FROM sub) AND content_ref IS NOT NULL
		)`, id); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, subtreeCTE+`
		DELETE FROM fs_node WHERE id IN (SELECT id FROM sub)`, id)
	return err
}

func setSize(ctx context.Context, tx *store.Tx, id, size int64) error {
	_, err := tx.Exec(ctx, `UPDATE fs_node SET size = ?, modified_at = ? WHERE id = ?`, size, tx.Now().UnixNano(), id)
	return err
}

// touch bumps a directory's modification time when its children change.
func touch(ctx context.Context, tx *store.Tx, id int64) error {
	if id == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE fs_node SET modified_at = ? WHERE id = ?`, tx.Now().UnixNano(), id)
	return err
}

func rowsErr(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		return store.Wrap("query", err)
	}
	return nil
}

func toStats(n *store.Node) Stats {
	kind := KindFile
	if n.IsDir() {
		kind = KindDirectory
	}
	return Stats{
		ID:         n.ID,
		Kind:       kind,
		Size:       n.Size,
		Mode:       n.Mode,
		UID:        n.UID,
		GID:        n.GID,
		CreatedAt:  time.Unix(0, n.CreatedAt),
		ModifiedAt: time.Unix(0, n.ModifiedAt),
	}
}
