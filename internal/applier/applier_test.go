package applier

import (
	"context"
	"testing"
	"time"

	"github.com/fluid-notion-systems/ize/internal/clock"
	"github.com/fluid-notion-systems/ize/internal/config"
	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/fluid-notion-systems/ize/internal/patchstore"
	"github.com/fluid-notion-systems/ize/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplier(t *testing.T) (*Applier, *queue.Queue, *patchstore.MemoryStore) {
	t.Helper()
	q := queue.New(100)
	store := patchstore.NewMemoryStore()
	require.NoError(t, store.Init(context.Background(), t.TempDir()))

	cfg := config.ApplierConfig{MaxAttempts: 3, InitialBackoffMS: 1, DeadLetterCapacity: 8, DrainDeadlineMS: 200}
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	a := New(q, store, sc, cfg, "main")
	return a, q, store
}

func seqOp(seq uint64, op opcode.Operation) opcode.Op {
	return opcode.Op{Seq: seq, TimestampNS: uint64(seq), Operation: op}
}

func TestApplyFileCreateWritesToStore(t *testing.T) {
	a, _, store := newTestApplier(t)
	ctx := context.Background()

	err := a.apply(ctx, seqOp(1, opcode.FileCreate{Path: "a.txt", Content: []byte("hi")}))
	require.NoError(t, err)

	txn, _ := store.BeginTxn(ctx)
	data, err := store.ReadFileBytes(ctx, txn, "main", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestApplyFileWriteSplicesAtOffset(t *testing.T) {
	a, _, store := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.apply(ctx, seqOp(1, opcode.FileCreate{Path: "a.txt", Content: []byte("hello world")})))
	require.NoError(t, a.apply(ctx, seqOp(2, opcode.FileWrite{Path: "a.txt", Offset: 6, Data: []byte("there")})))

	txn, _ := store.BeginTxn(ctx)
	data, err := store.ReadFileBytes(ctx, txn, "main", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(data))
}

func TestApplyFileDeleteRemovesFromStore(t *testing.T) {
	a, _, store := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.apply(ctx, seqOp(1, opcode.FileCreate{Path: "a.txt", Content: []byte("x")})))
	require.NoError(t, a.apply(ctx, seqOp(2, opcode.FileDelete{Path: "a.txt"})))

	txn, _ := store.BeginTxn(ctx)
	_, err := store.ReadFileBytes(ctx, txn, "main", "a.txt")
	assert.ErrorIs(t, err, patchstore.ErrNotFound)
}

func TestApplyFileRenameMovesContent(t *testing.T) {
	a, _, store := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.apply(ctx, seqOp(1, opcode.FileCreate{Path: "old.txt", Content: []byte("x")})))
	require.NoError(t, a.apply(ctx, seqOp(2, opcode.FileRename{OldPath: "old.txt", NewPath: "new.txt"})))

	txn, _ := store.BeginTxn(ctx)
	data, err := store.ReadFileBytes(ctx, txn, "main", "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, err = store.ReadFileBytes(ctx, txn, "main", "old.txt")
	assert.ErrorIs(t, err, patchstore.ErrNotFound)
}

func TestApplyDirCreateIsNoOp(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	err := a.apply(ctx, seqOp(1, opcode.DirCreate{Path: "d", Mode: 0755}))
	require.NoError(t, err)
}

func TestApplyDirRenameMovesSubtree(t *testing.T) {
	a, _, store := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.apply(ctx, seqOp(1, opcode.FileCreate{Path: "old/a", Content: []byte("a")})))
	require.NoError(t, a.apply(ctx, seqOp(2, opcode.FileCreate{Path: "old/sub/b", Content: []byte("b")})))

	require.NoError(t, a.apply(ctx, seqOp(3, opcode.DirRename{
		OldPath: "old",
		NewPath: "new",
		Entries: []opcode.RenameEntry{
			{OldPath: "old/a", NewPath: "new/a"},
			{OldPath: "old/sub/b", NewPath: "new/sub/b"},
		},
	})))

	txn, _ := store.BeginTxn(ctx)

	data, err := store.ReadFileBytes(ctx, txn, "main", "new/a")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	data, err = store.ReadFileBytes(ctx, txn, "main", "new/sub/b")
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	_, err = store.ReadFileBytes(ctx, txn, "main", "old/a")
	assert.ErrorIs(t, err, patchstore.ErrNotFound)

	_, err = store.ReadFileBytes(ctx, txn, "main", "old/sub/b")
	assert.ErrorIs(t, err, patchstore.ErrNotFound)
}

func TestApplyFileDeleteDoesNotAffectSimilarlyNamedSibling(t *testing.T) {
	a, _, store := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.apply(ctx, seqOp(1, opcode.FileCreate{Path: "a.txt", Content: []byte("x")})))
	require.NoError(t, a.apply(ctx, seqOp(2, opcode.FileCreate{Path: "a.txt.bak", Content: []byte("y")})))
	require.NoError(t, a.apply(ctx, seqOp(3, opcode.FileDelete{Path: "a.txt"})))

	txn, _ := store.BeginTxn(ctx)

	_, err := store.ReadFileBytes(ctx, txn, "main", "a.txt")
	assert.ErrorIs(t, err, patchstore.ErrNotFound)

	data, err := store.ReadFileBytes(ctx, txn, "main", "a.txt.bak")
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))
}

func TestApplySetAttrIsNoOp(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	err := a.apply(ctx, seqOp(1, opcode.SetPermissions{Path: "a.txt", Mode: 0644}))
	require.NoError(t, err)
}

func TestApplyTruncateOnMissingFileIsDeterministic(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	err := a.apply(ctx, seqOp(1, opcode.FileTruncate{Path: "ghost.txt", NewSize: 0}))
	assert.ErrorIs(t, err, ErrDeterministic)
}

func TestProcessWithRetryGivesUpToDeadLetterOnDeterministicFailure(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	a.processWithRetry(ctx, seqOp(1, opcode.FileTruncate{Path: "ghost.txt", NewSize: 0}))

	assert.Equal(t, uint64(1), a.Stats().DeadLetter)
	assert.Equal(t, uint64(0), a.Stats().Applied)
}

func TestProcessWithRetrySucceedsRecordsApplied(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	a.processWithRetry(ctx, seqOp(1, opcode.FileCreate{Path: "a.txt", Content: []byte("x")}))

	assert.Equal(t, uint64(1), a.Stats().Applied)
}

func TestRunDrainsQueueOnCancel(t *testing.T) {
	a, q, store := newTestApplier(t)
	ctx, cancel := context.WithCancel(context.Background())

	q.TryPush(seqOp(1, opcode.FileCreate{Path: "a.txt", Content: []byte("x")}))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	txnCtx := context.Background()
	txn, _ := store.BeginTxn(txnCtx)
	data, err := store.ReadFileBytes(txnCtx, txn, "main", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
