package passthrough

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fluid-notion-systems/ize/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) (*FileSystem, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New()
	cfg := Config{
		SourceDir: dir,
		Uid:       1000,
		Gid:       1000,
		FileMode:  0644,
		DirMode:   0755,
	}
	return New(cfg, reg), dir
}

func TestCreateWritesThroughToHost(t *testing.T) {
	fs, dir := newTestFS(t)

	ino, h, attr, err := fs.Create(registry.RootInodeID, "a.txt", 0644)
	require.NoError(t, err)
	assert.NotZero(t, ino)
	assert.Equal(t, uint64(0), attr.Size)

	n, err := fs.Write(h, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, fs.Release(h))

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLookUpResolvesExistingHostFile(t *testing.T) {
	fs, dir := newTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0644))

	ino, attr, err := fs.LookUp(registry.RootInodeID, "b.txt")
	require.NoError(t, err)
	assert.NotZero(t, ino)
	assert.Equal(t, uint64(1), attr.Size)
}

func TestMkdirAndReadDir(t *testing.T) {
	fs, _ := newTestFS(t)

	dirIno, _, err := fs.Mkdir(registry.RootInodeID, "sub", 0755)
	require.NoError(t, err)

	_, _, _, err = fs.Create(dirIno, "f.txt", 0644)
	require.NoError(t, err)

	h, err := fs.OpenDir(dirIno)
	require.NoError(t, err)

	entries, err := fs.ReadDir(dirIno, h, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name)
	assert.Equal(t, KindFile, entries[0].Kind)

	require.NoError(t, fs.ReleaseDir(h))
}

func TestUnlinkRemovesHostFileAndRegistryEntry(t *testing.T) {
	fs, dir := newTestFS(t)
	ino, _, _, err := fs.Create(registry.RootInodeID, "c.txt", 0644)
	require.NoError(t, err)

	kind, err := fs.StatKind("c.txt")
	require.NoError(t, err)
	assert.Equal(t, KindFile, kind)

	require.NoError(t, fs.Unlink(registry.RootInodeID, "c.txt"))

	_, err = os.Stat(filepath.Join(dir, "c.txt"))
	assert.True(t, os.IsNotExist(err))

	_, ok := fs.registry.Resolve(ino)
	assert.False(t, ok)
}

func TestRenameFileMovesHostFileAndRegistry(t *testing.T) {
	fs, dir := newTestFS(t)
	ino, _, _, err := fs.Create(registry.RootInodeID, "old.txt", 0644)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(registry.RootInodeID, "old.txt", registry.RootInodeID, "new.txt", false))

	_, err = os.Stat(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)

	path, ok := fs.registry.Resolve(ino)
	require.True(t, ok)
	assert.Equal(t, "new.txt", path)
}

func TestSymlinkReadlink(t *testing.T) {
	fs, _ := newTestFS(t)
	_, _, err := fs.Symlink(registry.RootInodeID, "link", "/etc/target")
	require.NoError(t, err)

	kind, err := fs.StatKind("link")
	require.NoError(t, err)
	assert.Equal(t, KindSymlink, kind)

	_, ino, ok := fs.registry.ResolveChild(registry.RootInodeID, "link")
	require.True(t, ok)

	target, err := fs.Readlink(ino)
	require.NoError(t, err)
	assert.Equal(t, "/etc/target", target)
}

func TestSetAttrAppliesSizeAndMode(t *testing.T) {
	fs, _ := newTestFS(t)
	ino, h, _, err := fs.Create(registry.RootInodeID, "d.txt", 0644)
	require.NoError(t, err)
	_, err = fs.Write(h, 0, []byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, fs.Release(h))

	size := uint64(5)
	mode := os.FileMode(0600)
	attr, err := fs.SetAttr(ino, SetAttrRequest{Size: &size, Mode: &mode})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), attr.Size)
	assert.Equal(t, os.FileMode(0600), attr.Mode.Perm())
}

func TestStatFS(t *testing.T) {
	fs, _ := newTestFS(t)
	st, err := fs.StatFS()
	require.NoError(t, err)
	assert.NotZero(t, st.BlockSize)
}
