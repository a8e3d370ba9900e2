package filesystem

import (
	"path"
	"strings"

	"github.com/kittclouds/agentfs/internal/store"
)

// normalize resolves p to its canonical absolute form and returns it with
// its segments. "." is dropped and ".." pops a segment, never above root.
func normalize(p string) (string, []string, error) {
	if p == "" || p[0] != '/' || strings.IndexByte(p, 0) >= 0 {
		return "", nil, store.ErrInvalidArgument
	}
	clean := path.Clean(p)
	if clean == "/" {
		return clean, nil, nil
	}
	return clean, strings.Split(clean[1:], "/"), nil
}
