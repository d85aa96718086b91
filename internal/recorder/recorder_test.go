package recorder

import (
	"os"
	"testing"
	"time"

	"github.com/fluid-notion-systems/ize/internal/clock"
	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/fluid-notion-systems/ize/internal/passthrough"
	"github.com/fluid-notion-systems/ize/internal/queue"
	"github.com/fluid-notion-systems/ize/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecorder(t *testing.T) (*Recorder, *registry.Registry, *queue.Queue) {
	t.Helper()
	reg := registry.New()
	q := queue.New(100)
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	r := New(reg, opcode.NewSequencer(sc), q)
	return r, reg, q
}

func TestOnCreateEmitsFileCreate(t *testing.T) {
	r, reg, q := newRecorder(t)
	ino := reg.Insert("a.txt", 0)

	r.OnCreate(registry.RootInodeID, "a.txt", ino, passthrough.Attr{Mode: 0644})

	op, ok := q.TryPop()
	require.True(t, ok)
	fc, ok := op.Operation.(opcode.FileCreate)
	require.True(t, ok)
	assert.Equal(t, "a.txt", fc.Path)
}

func TestOnSetAttrSplitsInFixedOrder(t *testing.T) {
	r, reg, q := newRecorder(t)
	ino := reg.Insert("a.txt", 0)

	size := uint64(5)
	m := os.FileMode(0600)
	atime := time.Unix(100, 0)

	r.OnSetAttr(ino, passthrough.SetAttrRequest{Size: &size, Mode: &m, Atime: &atime}, passthrough.Attr{})

	var tags []opcode.Tag
	for {
		op, ok := q.TryPop()
		if !ok {
			break
		}
		tags = append(tags, op.Operation.Tag())
	}

	require.Len(t, tags, 3)
	assert.Equal(t, opcode.TagFileTruncate, tags[0])
	assert.Equal(t, opcode.TagSetPermissions, tags[1])
	assert.Equal(t, opcode.TagSetTimestamps, tags[2])
}

func TestOnUnlinkDiscriminatesSymlink(t *testing.T) {
	r, reg, q := newRecorder(t)
	reg.Insert("link", 0)

	r.OnUnlink(registry.RootInodeID, "link", passthrough.KindSymlink)

	op, ok := q.TryPop()
	require.True(t, ok)
	_, ok = op.Operation.(opcode.SymlinkDelete)
	assert.True(t, ok)
}

func TestOnWriteDropsOpcodeOnRegistryMiss(t *testing.T) {
	r, _, q := newRecorder(t)

	r.OnWrite(registry.InodeID(9999), 0, []byte("a"))

	assert.True(t, q.IsEmpty())
}

func TestOnRenameDirCapturesSubtreeEntries(t *testing.T) {
	r, reg, q := newRecorder(t)

	reg.Insert("old", 0)
	reg.Insert("old/a", 0)
	reg.Insert("old/sub/b", 0)
	require.NoError(t, reg.Rename("old", "new", true))

	r.OnRename(registry.RootInodeID, "old", registry.RootInodeID, "new", true)

	op, ok := q.TryPop()
	require.True(t, ok)
	dr, ok := op.Operation.(opcode.DirRename)
	require.True(t, ok)
	assert.Equal(t, "old", dr.OldPath)
	assert.Equal(t, "new", dr.NewPath)

	got := make(map[string]string)
	for _, e := range dr.Entries {
		got[e.NewPath] = e.OldPath
	}
	assert.Equal(t, "old", got["new"])
	assert.Equal(t, "old/a", got["new/a"])
	assert.Equal(t, "old/sub/b", got["new/sub/b"])
}

func TestDroppedIncrementsWhenQueueFull(t *testing.T) {
	reg := registry.New()
	q := queue.New(1)
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	r := New(reg, opcode.NewSequencer(sc), q)
	ino := reg.Insert("a.txt", 0)

	r.OnWrite(ino, 0, []byte("a"))
	r.OnWrite(ino, 1, []byte("b"))

	assert.Equal(t, uint64(1), r.Dropped())
}
