// Package store provides the SQLite-backed storage handle shared by the
// filesystem, key-value and tool-call engines.
package store

import (
	"database/sql"
	"io/fs"
	"strings"
)

// NodeKind is the type of a filesystem node.
type NodeKind string

const (
	KindFile NodeKind = "file"
	KindDir  NodeKind = "dir"
)

// RootID is the id of the root directory node. It exists in every database.
const RootID int64 = 1

// Default permission bits recorded on new nodes. They are metadata only.
const (
	DefaultFileMode fs.FileMode = 0o644
	DefaultDirMode  fs.FileMode = 0o755
)

// Node is one row of fs_node.
type Node struct {
	ID         int64
	ParentID   int64 // 0 for the root
	Name       string
	Kind       NodeKind
	Size       int64
	Mode       fs.FileMode
	UID        uint32
	GID        uint32
	CreatedAt  int64 // unix nanoseconds
	ModifiedAt int64 // unix nanoseconds
	ContentRef string
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Kind == KindDir }

// NodeColumns is the column list ScanNode expects, in order.
const NodeColumns = `id, parent_id, name, kind, size, mode, uid, gid, created_at, modified_at, content_ref`

// NodeColumnsOf returns NodeColumns qualified with a table alias.
func NodeColumnsOf(alias string) string {
	cols := strings.Split(NodeColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// Scanner is satisfied by *sql.Rows and Row.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanNode reads a node selected with NodeColumns.
func ScanNode(sc Scanner) (*Node, error) {
	var n Node
	var parentID sql.NullInt64
	var contentRef sql.NullString
	var mode int64
	if err := sc.Scan(
		&n.ID, &parentID, &n.Name, &n.Kind, &n.Size, &mode, &n.UID, &n.GID,
		&n.CreatedAt, &n.ModifiedAt, &contentRef,
	); err != nil {
		return nil, err
	}
	n.Mode = fs.FileMode(mode)
	if parentID.Valid {
		n.ParentID = parentID.Int64
	}
	if contentRef.Valid {
		n.ContentRef = contentRef.String
	}
	return &n, nil
}
