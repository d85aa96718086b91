// Package recorder implements the observer.Observer that turns successful
// filesystem mutations into opcodes and tries to enqueue them (spec.md
// §4.E). It never blocks the filesystem path: a full queue means the
// opcode is dropped and counted, not retried.
package recorder

import (
	"github.com/fluid-notion-systems/ize/internal/logger"
	"github.com/fluid-notion-systems/ize/internal/metrics"
	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/fluid-notion-systems/ize/internal/passthrough"
	"github.com/fluid-notion-systems/ize/internal/queue"
	"github.com/fluid-notion-systems/ize/internal/registry"
)

// PathResolver is the minimal registry surface the recorder needs: turning
// an inode back into the relative path an opcode records, and (for a
// directory rename) listing the post-rename subtree so the opcode can
// carry it. internal/registry satisfies this directly.
type PathResolver interface {
	Resolve(ino registry.InodeID) (string, bool)
	PathsUnder(dirPath string) []string
}

// Recorder implements observer.Observer, converting each notification into
// one or more opcode.Op values and attempting a non-blocking enqueue for
// each.
type Recorder struct {
	registry PathResolver
	seq      *opcode.Sequencer
	queue    *queue.Queue
	metrics  *metrics.Registry

	dropped uint64
}

// New creates a Recorder that stamps opcodes via seq and offers them to q.
func New(reg PathResolver, seq *opcode.Sequencer, q *queue.Queue) *Recorder {
	return &Recorder{registry: reg, seq: seq, queue: q}
}

// SetMetrics attaches a metrics registry; subsequent emits update its
// queue-depth gauge and counters. Optional — a Recorder with no metrics
// registry behaves identically, just without the status surface.
func (r *Recorder) SetMetrics(m *metrics.Registry) {
	r.metrics = m
}

// Dropped reports how many opcodes have been discarded so far because the
// queue was full (spec.md §4.F back-pressure policy).
func (r *Recorder) Dropped() uint64 {
	return r.dropped
}

func (r *Recorder) emit(op opcode.Operation) {
	stamped := r.seq.Next(op)
	if !r.queue.TryPush(stamped) {
		r.dropped++
		if r.metrics != nil {
			r.metrics.QueueDropped.Inc()
		}
		logger.Warnf("recorder: queue full, dropping opcode %s for %s", op.Tag(), op.PrimaryPath())
		return
	}
	if r.metrics != nil {
		r.metrics.OpcodesRecorded.Inc()
		r.metrics.QueueDepth.Set(float64(r.queue.Len()))
	}
}

// resolve turns ino into its current relative path. A miss is logged and
// reported via ok=false; every caller must drop the opcode in that case
// rather than emit one with an empty or stale path (spec.md §4.E step 1,
// invariant O3).
func (r *Recorder) resolve(ino registry.InodeID) (string, bool) {
	path, ok := r.registry.Resolve(ino)
	if !ok {
		logger.Warnf("recorder: inode %d not found in registry", ino)
	}
	return path, ok
}

func (r *Recorder) OnCreate(parent registry.InodeID, name string, ino registry.InodeID, attr passthrough.Attr) {
	parentPath, ok := r.resolve(parent)
	if !ok {
		return
	}
	r.emit(opcode.FileCreate{Path: join(parentPath, name), Mode: attr.Mode})
}

func (r *Recorder) OnWrite(ino registry.InodeID, offset int64, data []byte) {
	path, ok := r.resolve(ino)
	if !ok {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r.emit(opcode.FileWrite{Path: path, Offset: uint64(offset), Data: buf})
}

// OnSetAttr splits a compound attribute change into up to four opcodes, in
// the fixed order size -> mode -> times -> ownership (spec.md §4.E step 3),
// so that a partial replay always reconstructs attributes in the same
// order they were originally applied.
func (r *Recorder) OnSetAttr(ino registry.InodeID, req passthrough.SetAttrRequest, attr passthrough.Attr) {
	path, ok := r.resolve(ino)
	if !ok {
		return
	}

	if req.Size != nil {
		r.emit(opcode.FileTruncate{Path: path, NewSize: *req.Size})
	}
	if req.Mode != nil {
		r.emit(opcode.SetPermissions{Path: path, Mode: *req.Mode})
	}
	if req.Atime != nil || req.Mtime != nil {
		var atime, mtime *int64
		if req.Atime != nil {
			v := req.Atime.UnixNano()
			atime = &v
		}
		if req.Mtime != nil {
			v := req.Mtime.UnixNano()
			mtime = &v
		}
		r.emit(opcode.SetTimestamps{Path: path, Atime: atime, Mtime: mtime})
	}
	if req.Uid != nil || req.Gid != nil {
		r.emit(opcode.SetOwnership{Path: path, Uid: req.Uid, Gid: req.Gid})
	}
}

// OnUnlink emits FileDelete or SymlinkDelete depending on the kind
// observed by the dispatcher before delegating to the host (spec.md §9).
func (r *Recorder) OnUnlink(parent registry.InodeID, name string, kind passthrough.Kind) {
	parentPath, ok := r.resolve(parent)
	if !ok {
		return
	}
	path := join(parentPath, name)
	if kind == passthrough.KindSymlink {
		r.emit(opcode.SymlinkDelete{Path: path})
		return
	}
	r.emit(opcode.FileDelete{Path: path})
}

func (r *Recorder) OnMkdir(parent registry.InodeID, name string, ino registry.InodeID, attr passthrough.Attr) {
	parentPath, ok := r.resolve(parent)
	if !ok {
		return
	}
	r.emit(opcode.DirCreate{Path: join(parentPath, name), Mode: attr.Mode})
}

func (r *Recorder) OnRmdir(parent registry.InodeID, name string) {
	parentPath, ok := r.resolve(parent)
	if !ok {
		return
	}
	r.emit(opcode.DirDelete{Path: join(parentPath, name)})
}

// OnRename emits a FileRename or, for a directory, a DirRename carrying
// every descendant's old/new path pair as observed in the registry right
// after the rename (spec.md §4.G "synthesize a working-copy that reflects
// the post-state directory topology"): the dispatcher has already rewritten
// the registry's subtree by the time this notification fires, so PathsUnder
// on the new path gives the full post-rename tree, and the corresponding
// old path is recovered by trimming the new prefix and re-prepending the
// old one.
func (r *Recorder) OnRename(oldParent registry.InodeID, oldName string, newParent registry.InodeID, newName string, isDir bool) {
	oldParentPath, ok := r.resolve(oldParent)
	if !ok {
		return
	}
	newParentPath, ok := r.resolve(newParent)
	if !ok {
		return
	}
	oldPath := join(oldParentPath, oldName)
	newPath := join(newParentPath, newName)

	if !isDir {
		r.emit(opcode.FileRename{OldPath: oldPath, NewPath: newPath})
		return
	}

	var entries []opcode.RenameEntry
	for _, p := range r.registry.PathsUnder(newPath) {
		suffix := p[len(newPath):]
		entries = append(entries, opcode.RenameEntry{OldPath: oldPath + suffix, NewPath: p})
	}
	r.emit(opcode.DirRename{OldPath: oldPath, NewPath: newPath, Entries: entries})
}

func (r *Recorder) OnSymlink(parent registry.InodeID, name, target string, ino registry.InodeID) {
	parentPath, ok := r.resolve(parent)
	if !ok {
		return
	}
	r.emit(opcode.SymlinkCreate{Path: join(parentPath, name), Target: target})
}

func (r *Recorder) OnLink(existing registry.InodeID, newParent registry.InodeID, newName string, ino registry.InodeID) {
	existingPath, ok := r.resolve(existing)
	if !ok {
		return
	}
	newParentPath, ok := r.resolve(newParent)
	if !ok {
		return
	}
	r.emit(opcode.HardLinkCreate{ExistingPath: existingPath, NewPath: join(newParentPath, newName)})
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
