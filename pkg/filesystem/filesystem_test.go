package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/agentfs/internal/store"
)

func newTestFS(t *testing.T, chunkSize int) (*Filesystem, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{ChunkSize: chunkSize})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestWriteThenRead(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/a.txt", []byte("hello")))
	data, err := f.Read(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	st, err := f.Stat(ctx, "/a.txt")
	require.NoError(t, err)
	assert.True(t, st.IsFile())
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, store.DefaultFileMode, st.Mode)
}

func TestContentAcrossChunks(t *testing.T) {
	f, _ := newTestFS(t, 8)
	ctx := context.Background()

	data := bytes.Repeat([]byte("0123456789"), 7)
	require.NoError(t, f.WriteFile(ctx, "/big", data))

	got, err := f.Read(ctx, "/big")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	part, err := f.ReadAt(ctx, "/big", 5, 20)
	require.NoError(t, err)
	assert.Equal(t, data[5:25], part)
}

func TestEmptyFile(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/empty", nil))
	data, err := f.Read(ctx, "/empty")
	require.NoError(t, err)
	assert.Empty(t, data)

	st, err := f.Stat(ctx, "/empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Size)
}

func TestWriteWithoutTruncateKeepsTail(t *testing.T) {
	f, _ := newTestFS(t, 4)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/f", []byte("abcdefghij")))
	require.NoError(t, f.Write(ctx, "/f", []byte("XYZ"), WriteOptions{}))

	data, err := f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "XYZdefghij", string(data))

	require.NoError(t, f.WriteFile(ctx, "/f", []byte("short")))
	data, err = f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestWriteOptions(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	err := f.Write(ctx, "/missing", []byte("x"), WriteOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, f.Write(ctx, "/new", []byte("x"), WriteOptions{Create: true, Exclusive: true}))
	err = f.Write(ctx, "/new", []byte("y"), WriteOptions{Create: true, Exclusive: true})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, f.Mkdir(ctx, "/dir", false))
	err = f.WriteFile(ctx, "/dir", []byte("x"))
	assert.ErrorIs(t, err, store.ErrIsADirectory)
	err = f.WriteFile(ctx, "/", []byte("x"))
	assert.ErrorIs(t, err, store.ErrIsADirectory)
}

func TestWriteRequiresParent(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	err := f.WriteFile(ctx, "/no/such/file", []byte("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, f.WriteFile(ctx, "/file", []byte("x")))
	err = f.WriteFile(ctx, "/file/child", []byte("x"))
	assert.ErrorIs(t, err, store.ErrNotADirectory)
}

func TestErrorsCarryOpAndPath(t *testing.T) {
	f, _ := newTestFS(t, 0)

	_, err := f.Read(context.Background(), "/a/../missing")
	var pe *store.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "read", pe.Op)
	assert.Equal(t, "/missing", pe.Path)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInvalidPaths(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	for _, p := range []string{"", "relative", "/a\x00b"} {
		_, err := f.Stat(ctx, p)
		assert.ErrorIs(t, err, store.ErrInvalidArgument, "path %q", p)
	}
}

func TestMkdirAndList(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/a", false))
	require.NoError(t, f.Mkdir(ctx, "/a/b", false))
	require.NoError(t, f.WriteFile(ctx, "/a/b/c", []byte("c")))
	require.NoError(t, f.WriteFile(ctx, "/a/z", []byte("z")))
	require.NoError(t, f.WriteFile(ctx, "/a/B", []byte("B")))

	names, err := f.List(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "b", "z"}, names)

	names, err = f.List(ctx, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, names)

	_, err = f.List(ctx, "/a/z")
	assert.ErrorIs(t, err, store.ErrNotADirectory)

	err = f.Mkdir(ctx, "/a", false)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	err = f.Mkdir(ctx, "/x/y", false)
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = f.Mkdir(ctx, "/", false)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestMkdirRecursive(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/p/q/r", true))
	require.NoError(t, f.Mkdir(ctx, "/p/q/r", true))

	st, err := f.Stat(ctx, "/p/q")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, store.DefaultDirMode, st.Mode)

	require.NoError(t, f.WriteFile(ctx, "/p/file", []byte("x")))
	err = f.Mkdir(ctx, "/p/file/sub", true)
	assert.ErrorIs(t, err, store.ErrNotADirectory)
	err = f.Mkdir(ctx, "/p/file", true)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestReadDirPlus(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/d", false))
	require.NoError(t, f.Mkdir(ctx, "/d/sub", false))
	require.NoError(t, f.WriteFile(ctx, "/d/file", []byte("abc")))

	entries, err := f.ReadDirPlus(ctx, "/d")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "file", entries[0].Name)
	assert.True(t, entries[0].Stats.IsFile())
	assert.Equal(t, int64(3), entries[0].Stats.Size)
	assert.Equal(t, "sub", entries[1].Name)
	assert.True(t, entries[1].Stats.IsDir())
}

func TestReadAtAndWriteAt(t *testing.T) {
	f, _ := newTestFS(t, 4)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/f", []byte("abcdef")))

	data, err := f.ReadAt(ctx, "/f", 4, 10)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(data))

	data, err = f.ReadAt(ctx, "/f", 6, 10)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, f.WriteAt(ctx, "/f", 2, []byte("XY")))
	data, err = f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "abXYef", string(data))

	// A write past the end leaves a zero-filled hole.
	require.NoError(t, f.WriteAt(ctx, "/f", 10, []byte("Z")))
	data, err = f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("abXYef\x00\x00\x00\x00Z"), data)

	_, err = f.ReadAt(ctx, "/f", -1, 1)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	err = f.WriteAt(ctx, "/missing", 0, []byte("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTruncate(t *testing.T) {
	f, _ := newTestFS(t, 4)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/f", []byte("abcdefghij")))
	require.NoError(t, f.Truncate(ctx, "/f", 6))

	data, err := f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))

	// Growing again must not resurrect the dropped bytes.
	require.NoError(t, f.Truncate(ctx, "/f", 9))
	data, err = f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef\x00\x00\x00"), data)

	require.NoError(t, f.Truncate(ctx, "/f", 0))
	data, err = f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, f.Mkdir(ctx, "/d", false))
	assert.ErrorIs(t, f.Truncate(ctx, "/d", 0), store.ErrIsADirectory)
	assert.ErrorIs(t, f.Truncate(ctx, "/f", -1), store.ErrInvalidArgument)
}

func TestRemove(t *testing.T) {
	f, s := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/d/e", true))
	require.NoError(t, f.WriteFile(ctx, "/d/e/f", []byte("data")))
	require.NoError(t, f.WriteFile(ctx, "/d/g", []byte("more")))

	err := f.Remove(ctx, "/d", false)
	assert.ErrorIs(t, err, store.ErrNotEmpty)

	require.NoError(t, f.Remove(ctx, "/d", true))
	ok, err := f.Exists(ctx, "/d/e/f")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, countChunks(t, s))

	assert.ErrorIs(t, f.Remove(ctx, "/d", false), store.ErrNotFound)
	assert.ErrorIs(t, f.Remove(ctx, "/", true), store.ErrInvalidArgument)
}

func TestRemoveFileAndEmptyDir(t *testing.T) {
	f, s := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/f", []byte("x")))
	require.NoError(t, f.Mkdir(ctx, "/d", false))
	require.NoError(t, f.Remove(ctx, "/f", false))
	require.NoError(t, f.Remove(ctx, "/d", false))

	names, err := f.List(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, 0, countChunks(t, s))
}

func TestRename(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/src/inner", true))
	require.NoError(t, f.WriteFile(ctx, "/src/inner/file", []byte("payload")))
	require.NoError(t, f.Mkdir(ctx, "/dst", false))

	require.NoError(t, f.Rename(ctx, "/src", "/dst/moved"))

	data, err := f.Read(ctx, "/dst/moved/inner/file")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	ok, err := f.Exists(ctx, "/src")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameReplaces(t *testing.T) {
	f, s := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/a", []byte("new")))
	require.NoError(t, f.WriteFile(ctx, "/b", []byte("old")))
	require.NoError(t, f.Rename(ctx, "/a", "/b"))

	data, err := f.Read(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.Equal(t, 1, countChunks(t, s))

	require.NoError(t, f.Mkdir(ctx, "/d1", false))
	require.NoError(t, f.Mkdir(ctx, "/d2", false))
	require.NoError(t, f.Rename(ctx, "/d1", "/d2"))
	ok, err := f.Exists(ctx, "/d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameErrors(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/a/b", true))
	require.NoError(t, f.Mkdir(ctx, "/full", false))
	require.NoError(t, f.WriteFile(ctx, "/full/x", []byte("x")))
	require.NoError(t, f.Mkdir(ctx, "/empty", false))
	require.NoError(t, f.WriteFile(ctx, "/file", []byte("f")))

	assert.ErrorIs(t, f.Rename(ctx, "/a", "/a/b/c"), store.ErrInvalidRename)
	assert.ErrorIs(t, f.Rename(ctx, "/a", "/a/c"), store.ErrInvalidRename)
	assert.ErrorIs(t, f.Rename(ctx, "/", "/x"), store.ErrInvalidRename)
	assert.ErrorIs(t, f.Rename(ctx, "/empty", "/full"), store.ErrNotEmpty)
	assert.ErrorIs(t, f.Rename(ctx, "/file", "/empty"), store.ErrAlreadyExists)
	assert.ErrorIs(t, f.Rename(ctx, "/empty", "/file"), store.ErrAlreadyExists)
	assert.ErrorIs(t, f.Rename(ctx, "/missing", "/y"), store.ErrNotFound)
	assert.ErrorIs(t, f.Rename(ctx, "/file", "/nodir/y"), store.ErrNotFound)

	// Renaming onto itself changes nothing.
	require.NoError(t, f.Rename(ctx, "/file", "/./file"))
	data, err := f.Read(ctx, "/file")
	require.NoError(t, err)
	assert.Equal(t, "f", string(data))
}

func TestRenameErrorPaths(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/full", false))
	require.NoError(t, f.WriteFile(ctx, "/full/x", []byte("x")))
	require.NoError(t, f.Mkdir(ctx, "/empty", false))
	require.NoError(t, f.WriteFile(ctx, "/file", []byte("f")))

	pathOf := func(err error) string {
		t.Helper()
		var pe *store.PathError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "rename", pe.Op)
		return pe.Path
	}

	assert.Equal(t, "/nodir/y", pathOf(f.Rename(ctx, "/file", "/nodir/y")))
	assert.Equal(t, "/empty", pathOf(f.Rename(ctx, "/file", "/empty")))
	assert.Equal(t, "/full", pathOf(f.Rename(ctx, "/empty", "/full")))
	assert.Equal(t, "/", pathOf(f.Rename(ctx, "/file/../file", "/")))
	assert.Equal(t, "/missing", pathOf(f.Rename(ctx, "/missing", "/y")))
	assert.Equal(t, "/", pathOf(f.Rename(ctx, "/", "/z")))
}

func TestChmodAndChown(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "/f", []byte("x")))
	require.NoError(t, f.Chmod(ctx, "/f", 0o600|fs.ModeDir))
	require.NoError(t, f.Chown(ctx, "/f", 1000, 100))

	st, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), st.Mode)
	assert.Equal(t, uint32(1000), st.UID)
	assert.Equal(t, uint32(100), st.GID)

	// Permissions are recorded, not enforced.
	data, err := f.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestWithOwner(t *testing.T) {
	_, s := newTestFS(t, 0)
	f := New(s, WithOwner(501, 20))
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/home", false))
	st, err := f.Stat(ctx, "/home")
	require.NoError(t, err)
	assert.Equal(t, uint32(501), st.UID)
	assert.Equal(t, uint32(20), st.GID)
}

func TestModifiedTimes(t *testing.T) {
	clock := time.Unix(1000, 0)
	s, err := store.Open(context.Background(), store.Options{Clock: func() time.Time { return clock }})
	require.NoError(t, err)
	defer s.Close()
	f := New(s)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/d", false))
	clock = clock.Add(time.Minute)
	require.NoError(t, f.WriteFile(ctx, "/d/f", []byte("x")))

	dir, err := f.Stat(ctx, "/d")
	require.NoError(t, err)
	file, err := f.Stat(ctx, "/d/f")
	require.NoError(t, err)
	assert.True(t, dir.CreatedAt.Equal(time.Unix(1000, 0)))
	assert.True(t, dir.ModifiedAt.Equal(clock), "adding a child bumps the directory")
	assert.True(t, file.CreatedAt.Equal(clock))

	clock = clock.Add(time.Minute)
	require.NoError(t, f.WriteAt(ctx, "/d/f", 1, []byte("y")))
	file, err = f.Stat(ctx, "/d/f")
	require.NoError(t, err)
	assert.True(t, file.ModifiedAt.Equal(clock))
	assert.True(t, file.ModifiedAt.After(file.CreatedAt))
}

func TestUsage(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Mkdir(ctx, "/d", false))
	require.NoError(t, f.WriteFile(ctx, "/d/a", []byte("12345")))
	require.NoError(t, f.WriteFile(ctx, "/b", []byte("123")))

	u, err := f.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Usage{Nodes: 4, Files: 2, Dirs: 2, Bytes: 8}, u)
}

func TestOperationsJoinEnclosingTransaction(t *testing.T) {
	f, s := newTestFS(t, 0)
	ctx := context.Background()
	fault := errors.New("injected fault")

	err := s.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		require.NoError(t, f.Mkdir(ctx, "/batch", false))
		require.NoError(t, f.WriteFile(ctx, "/batch/one", []byte("1")))

		ok, err := f.Exists(ctx, "/batch/one")
		require.NoError(t, err)
		assert.True(t, ok)
		return fault
	})
	assert.Same(t, fault, err)

	ok, err := f.Exists(ctx, "/batch")
	require.NoError(t, err)
	assert.False(t, ok, "rolled back work must not be visible")
}

func TestWriteFaultKeepsPriorContent(t *testing.T) {
	clock := time.Unix(1000, 0)
	s, err := store.Open(context.Background(), store.Options{
		ChunkSize: 8,
		Clock:     func() time.Time { return clock },
	})
	require.NoError(t, err)
	defer s.Close()
	f := New(s)
	ctx := context.Background()

	prior := []byte("prior content across chunks")
	require.NoError(t, f.WriteFile(ctx, "/doc", prior))
	before, err := f.Stat(ctx, "/doc")
	require.NoError(t, err)
	chunks := countChunks(t, s)
	require.Equal(t, 4, chunks)

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TRIGGER fail_second_chunk BEFORE INSERT ON fs_content
			WHEN NEW.chunk_index >= 1
			BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
		return err
	}))

	clock = clock.Add(time.Minute)
	err = f.WriteFile(ctx, "/doc", bytes.Repeat([]byte("new"), 10))
	assert.ErrorIs(t, err, store.ErrStorage)

	got, err := f.Read(ctx, "/doc")
	require.NoError(t, err)
	assert.Equal(t, prior, got)

	after, err := f.Stat(ctx, "/doc")
	require.NoError(t, err)
	assert.Equal(t, before.Size, after.Size)
	assert.True(t, after.ModifiedAt.Equal(before.ModifiedAt))
	assert.Equal(t, chunks, countChunks(t, s))
}

func TestWriteWithoutCreateOnMissingFile(t *testing.T) {
	f, _ := newTestFS(t, 0)
	ctx := context.Background()

	// A missing target is NotFound; AlreadyExists is reserved for Exclusive.
	err := f.Write(ctx, "/absent", []byte("x"), WriteOptions{Truncate: true})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotErrorIs(t, err, store.ErrAlreadyExists)
	var pe *store.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "write", pe.Op)
	assert.Equal(t, "/absent", pe.Path)

	ok, err := f.Exists(ctx, "/absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentWritesToDistinctFiles(t *testing.T) {
	s, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/fs.db"})
	require.NoError(t, err)
	defer s.Close()
	f := New(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "/f" + string(rune('a'+i))
			assert.NoError(t, f.WriteFile(ctx, name, []byte(name)))
		}(i)
	}
	wg.Wait()

	names, err := f.List(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, names, 8)
}

func countChunks(t *testing.T, s *store.SQLiteStore) int {
	t.Helper()
	var n int
	err := s.View(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM fs_content`).Scan(&n)
	})
	require.NoError(t, err)
	return n
}
