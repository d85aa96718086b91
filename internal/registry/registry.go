// Package registry implements the bidirectional inode-to-path bookkeeping
// shared between the pass-through filesystem and the recorder (spec.md §3
// "Inode registry", §4.A, §9 "Inode handles as opaque IDs"). It is the
// owning module for InodeID: callers outside this package should never
// synthesize or inspect raw integers, only hold the opaque handles this
// package hands out.
package registry

import (
	"fmt"
	"strings"
	"sync"
)

// InodeID is an opaque, process-lifetime handle assigned by the
// pass-through to each live path. It is not persistent across mounts.
type InodeID uint64

// RootInodeID is always present (invariant I2) and names the mount root.
const RootInodeID InodeID = 1

// entry is one live inode's bookkeeping. External synchronization via
// Registry.mu is required; this mirrors the lookupCount helper pattern the
// teacher uses in fs/inode/lookup_count.go.
type entry struct {
	path     string
	refcount uint64
}

// Registry is the inode <-> relative-path map described in spec.md §4.A.
// Multiple FUSE worker goroutines may call resolve methods concurrently;
// mutating methods (Insert, Remove, Rename, Forget) take the write lock.
//
// LOCK ORDERING: Registry.mu is the only lock in this package. Callers must
// not call back into the registry while already holding mu (e.g. from a
// destroy callback) to avoid self-deadlock.
type Registry struct {
	mu sync.RWMutex

	// GUARDED_BY(mu)
	// INVARIANT: for all keys k, byInode[k].path's reverse entry in byPath
	//            maps back to k (I1).
	// INVARIANT: byInode[RootInodeID] is always present (I2).
	byInode map[InodeID]*entry

	// GUARDED_BY(mu)
	// INVARIANT: for all k/v, byInode[byPath[k]].path == k
	byPath map[string]InodeID

	// GUARDED_BY(mu)
	nextInodeID InodeID
}

// New creates a Registry with only the root inode present, per I2.
func New() *Registry {
	r := &Registry{
		byInode:     make(map[InodeID]*entry),
		byPath:      make(map[string]InodeID),
		nextInodeID: RootInodeID + 1,
	}
	r.byInode[RootInodeID] = &entry{path: "", refcount: 1}
	r.byPath[""] = RootInodeID
	return r
}

// Resolve returns the relative path for a live inode (I4: forgotten inodes
// are not resolvable).
func (r *Registry) Resolve(ino InodeID) (path string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byInode[ino]
	if !ok {
		return "", false
	}
	return e.path, true
}

// ResolveChild computes the relative path of a name within a parent
// directory and reports whether that path is already a tracked, live
// inode.
func (r *Registry) ResolveChild(parent InodeID, name string) (path string, ino InodeID, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parentPath, ok := r.byInode[parent]
	if !ok {
		return "", 0, false
	}

	path = join(parentPath.path, name)
	ino, ok = r.byPath[path]
	return path, ino, ok
}

// Insert adds a mapping from path to ino, incrementing its lookup count if
// the path is already tracked under a different bookkeeping entry. Per
// spec.md §4.A, if ino is zero the registry mints a fresh one; otherwise
// the host-supplied inode is used verbatim. Insert corresponds to a
// successful lookup/create/mkdir/symlink (I3).
func (r *Registry) Insert(path string, ino InodeID) InodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byPath[path]; ok {
		r.byInode[existing].refcount++
		return existing
	}

	if ino == 0 {
		ino = r.nextInodeID
		r.nextInodeID++
	} else if ino >= r.nextInodeID {
		r.nextInodeID = ino + 1
	}

	r.byInode[ino] = &entry{path: path, refcount: 1}
	r.byPath[path] = ino
	return ino
}

// Remove deletes an inode's bookkeeping outright, used once a successful
// unlink/rmdir has dropped the refcount to zero (I3). Most callers should
// prefer Forget, which handles the refcount bookkeeping; Remove is exposed
// for the pass-through to drop an entry immediately on unlink/rmdir ahead
// of the kernel's eventual ForgetInode.
func (r *Registry) Remove(ino InodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(ino)
}

func (r *Registry) removeLocked(ino InodeID) {
	e, ok := r.byInode[ino]
	if !ok {
		return
	}
	delete(r.byPath, e.path)
	delete(r.byInode, ino)
}

// Forget decrements the lookup count by n, destroying the bookkeeping once
// it reaches zero (I4). It mirrors fs/inode/lookup_count.go's Dec.
func (r *Registry) Forget(ino InodeID, n uint64) (destroyed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byInode[ino]
	if !ok {
		return false
	}
	if n > e.refcount {
		panic(fmt.Sprintf("registry: forget count %d exceeds refcount %d for inode %d", n, e.refcount, ino))
	}

	e.refcount -= n
	if e.refcount == 0 {
		r.removeLocked(ino)
		return true
	}
	return false
}

// Rename rewrites oldPath to newPath. For a directory rename this rewrites
// every descendant's path prefix in one atomic critical section (I3), so no
// observer callback can ever read the registry mid-rewrite — the rewrite
// happens entirely under Registry.mu.
func (r *Registry) Rename(oldPath, newPath string, isDir bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ino, ok := r.byPath[oldPath]
	if !ok {
		return fmt.Errorf("registry: rename: no such path %q", oldPath)
	}

	if target, exists := r.byPath[newPath]; exists && target != ino {
		r.removeLocked(target)
	}

	if !isDir {
		e := r.byInode[ino]
		delete(r.byPath, oldPath)
		e.path = newPath
		r.byPath[newPath] = ino
		return nil
	}

	prefix := oldPath + "/"
	type rewrite struct {
		ino     InodeID
		newPath string
	}
	var rewrites []rewrite

	for path, id := range r.byPath {
		if path == oldPath {
			rewrites = append(rewrites, rewrite{ino: id, newPath: newPath})
			continue
		}
		if strings.HasPrefix(path, prefix) {
			rewrites = append(rewrites, rewrite{ino: id, newPath: newPath + "/" + path[len(prefix):]})
		}
	}

	for _, rw := range rewrites {
		e := r.byInode[rw.ino]
		delete(r.byPath, e.path)
		e.path = rw.newPath
	}
	for _, rw := range rewrites {
		r.byPath[rw.newPath] = rw.ino
	}

	return nil
}

// PathsUnder returns every live path equal to dirPath or nested under it
// (i.e. prefixed by dirPath + "/"), in no particular order. The recorder
// uses this right after a directory rename to capture the full subtree's
// post-rename paths at emit time, so the opcode carries enough state for
// the applier to replay the move without consulting the registry itself
// (spec.md §3 O4, §9 "Shared registry between pass-through and recorder").
func (r *Registry) PathsUnder(dirPath string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix := dirPath + "/"
	var out []string
	for path := range r.byPath {
		if path == dirPath || strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	return out
}

// Len reports the number of live inodes, including the root. Exercised by
// tests asserting invariant I1/I2 hold after a sequence of operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byInode)
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
