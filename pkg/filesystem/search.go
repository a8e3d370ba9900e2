package filesystem

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/coregx/ahocorasick"
	"go.uber.org/zap"

	"github.com/kittclouds/agentfs/internal/metrics"
	"github.com/kittclouds/agentfs/internal/store"
	"github.com/kittclouds/agentfs/pkg/pool"
)

// Match is one occurrence of a Grep pattern.
type Match struct {
	Path    string
	Offset  int64
	Pattern string
}

// walked is a node reached by walk with its absolute path.
type walked struct {
	Path string
	Node *store.Node
}

// walk returns the subtree rooted at n, n included, ordered by path.
func walk(ctx context.Context, tx *store.Tx, n *store.Node, path string) ([]walked, error) {
	rows, err := tx.Query(ctx, `
		WITH RECURSIVE tree(id, path) AS (
			SELECT ?, ?
			UNION ALL
			SELECT c.id, CASE WHEN tree.path = '/' THEN '/' || c.name ELSE tree.path || '/' || c.name END
			FROM fs_node c JOIN tree ON c.parent_id = tree.id
		)
		SELECT tree.path, `+store.NodeColumnsOf("n")+`
		FROM tree JOIN fs_node n ON n.id = tree.id
		ORDER BY tree.path`, n.ID, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []walked
	for rows.Next() {
		var w walked
		node, err := store.ScanNode(scanPrefix{rows: rows, first: &w.Path})
		if err != nil {
			return nil, store.Wrap("scan", err)
		}
		w.Node = node
		out = append(out, w)
	}
	return out, rowsErr(rows)
}

// scanPrefix scans one leading column before the node columns.
type scanPrefix struct {
	rows  interface{ Scan(...any) error }
	first any
}

func (s scanPrefix) Scan(dest ...any) error {
	return s.rows.Scan(append([]any{s.first}, dest...)...)
}

// Glob returns the paths matching an absolute doublestar pattern, sorted.
// "*" stays within a segment and "**" spans any number of them. Patterns
// are matched against clean paths, so "." and ".." segments are rejected.
func (f *Filesystem) Glob(ctx context.Context, pattern string) (paths []string, err error) {
	defer func() { metrics.RecordFSOperation("glob", err) }()
	if !validGlob(pattern) {
		return nil, f.fail("glob", pattern, store.ErrInvalidArgument)
	}
	base, _ := doublestar.SplitPattern(pattern)
	if base == "" {
		base = "/"
	}
	base, segs, err := normalize(base)
	if err != nil {
		return nil, f.fail("glob", pattern, err)
	}

	paths = []string{}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolve(ctx, tx, segs)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotADirectory) {
			return nil
		}
		if err != nil {
			return err
		}
		entries, err := walk(ctx, tx, n, base)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Path == "/" {
				continue
			}
			ok, err := doublestar.Match(pattern, e.Path)
			if err != nil {
				return store.ErrInvalidArgument
			}
			if ok {
				paths = append(paths, e.Path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, f.fail("glob", pattern, err)
	}
	return paths, nil
}

// Grep searches the files under root for every occurrence of each pattern.
// Matches are ordered by path, then offset.
func (f *Filesystem) Grep(ctx context.Context, root string, patterns []string) (matches []Match, err error) {
	defer func() { metrics.RecordFSOperation("grep", err) }()
	clean, segs, err := normalize(root)
	if err != nil {
		return nil, f.fail("grep", root, err)
	}
	patterns = dedupe(patterns)
	if len(patterns) == 0 {
		return nil, f.fail("grep", clean, store.ErrInvalidArgument)
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, f.fail("grep", clean, store.ErrInvalidArgument)
	}

	matches = []Match{}
	err = f.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := resolve(ctx, tx, segs)
		if err != nil {
			return err
		}
		entries, err := walk(ctx, tx, n, clean)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Node.IsDir() || e.Node.Size == 0 {
				continue
			}
			buf := pool.GetBytes(int(e.Node.Size))
			if err := readRange(ctx, tx, e.Node.ContentRef, 0, *buf); err != nil {
				pool.PutBytes(buf)
				return err
			}
			for _, m := range ac.FindAllOverlapping(*buf) {
				matches = append(matches, Match{Path: e.Path, Offset: int64(m.Start), Pattern: patterns[m.PatternID]})
			}
			pool.PutBytes(buf)
		}
		return nil
	})
	if err != nil {
		return nil, f.fail("grep", clean, err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		if matches[i].Offset != matches[j].Offset {
			return matches[i].Offset < matches[j].Offset
		}
		return matches[i].Pattern < matches[j].Pattern
	})
	f.logger.Debug("grep", zap.String("root", clean), zap.Int("patterns", len(patterns)), zap.Int("matches", len(matches)))
	return matches, nil
}

func validGlob(pattern string) bool {
	if pattern == "" || pattern[0] != '/' || !doublestar.ValidatePattern(pattern) {
		return false
	}
	segs := strings.Split(pattern[1:], "/")
	for i, seg := range segs {
		switch {
		case seg == "." || seg == "..":
			return false
		case seg == "" && i != len(segs)-1:
			return false
		}
	}
	return true
}

func dedupe(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
