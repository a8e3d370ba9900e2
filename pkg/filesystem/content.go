package filesystem

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kittclouds/agentfs/internal/store"
)

// Content lives in fs_content as fixed-size chunks keyed by (ref, index).
// Chunks never hold bytes at or past the file size. Missing chunks and the
// tail of a short chunk read as zeros.

// writeRange stores data at offset, merging with partially covered chunks.
func writeRange(ctx context.Context, tx *store.Tx, ref string, offset int64, data []byte) error {
	cs := int64(tx.ChunkSize())
	for len(data) > 0 {
		idx := offset / cs
		within := offset % cs
		n := cs - within
		if int64(len(data)) < n {
			n = int64(len(data))
		}

		chunk := data[:n]
		if within != 0 || n != cs {
			existing, err := loadChunk(ctx, tx, ref, idx)
			if err != nil {
				return err
			}
			size := within + n
			if int64(len(existing)) > size {
				size = int64(len(existing))
			}
			merged := make([]byte, size)
			copy(merged, existing)
			copy(merged[within:], data[:n])
			chunk = merged
		}

		if _, err := tx.Exec(ctx,
			`INSERT OR REPLACE INTO fs_content (ref, chunk_index, data) VALUES (?, ?, ?)`,
			ref, idx, chunk); err != nil {
			return err
		}
		offset += n
		data = data[n:]
	}
	return nil
}

func loadChunk(ctx context.Context, tx *store.Tx, ref string, idx int64) ([]byte, error) {
	var data []byte
	err := tx.QueryRow(ctx, `SELECT data FROM fs_content WHERE ref = ? AND chunk_index = ?`, ref, idx).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

// readRange fills buf with the content starting at offset.
func readRange(ctx context.Context, tx *store.Tx, ref string, offset int64, buf []byte) error {
	clear(buf)
	if len(buf) == 0 || ref == "" {
		return nil
	}
	cs := int64(tx.ChunkSize())
	end := offset + int64(len(buf))
	rows, err := tx.Query(ctx,
		`SELECT chunk_index, data FROM fs_content WHERE ref = ? AND chunk_index BETWEEN ? AND ? ORDER BY chunk_index`,
		ref, offset/cs, (end-1)/cs)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var idx int64
		var data []byte
		if err := rows.Scan(&idx, &data); err != nil {
			return store.Wrap("scan", err)
		}
		start := idx * cs
		lo := max(start, offset)
		hi := min(start+int64(len(data)), end)
		if lo < hi {
			copy(buf[lo-offset:], data[lo-start:hi-start])
		}
	}
	if err := rows.Err(); err != nil {
		return store.Wrap("query", err)
	}
	return nil
}

// truncateContent drops content at and past size.
func truncateContent(ctx context.Context, tx *store.Tx, ref string, size int64) error {
	cs := int64(tx.ChunkSize())
	keep := (size + cs - 1) / cs // chunks wholly or partly below size
	if _, err := tx.Exec(ctx, `DELETE FROM fs_content WHERE ref = ? AND chunk_index >= ?`, ref, keep); err != nil {
		return err
	}
	if within := size % cs; within != 0 {
		_, err := tx.Exec(ctx,
			`UPDATE fs_content SET data = substr(data, 1, ?) WHERE ref = ? AND chunk_index = ? AND length(data) > ?`,
			within, ref, keep-1, within)
		return err
	}
	return nil
}

func deleteContent(ctx context.Context, tx *store.Tx, ref string) error {
	if ref == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `DELETE FROM fs_content WHERE ref = ?`, ref)
	return err
}
