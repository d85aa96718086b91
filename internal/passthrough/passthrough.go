// Package passthrough implements the observing pass-through filesystem
// from spec.md §4.B: every mutation maps to the equivalent host-filesystem
// call on source_dir/relative_path, preserving native semantics (immediate
// visibility, ordinary permissions, symlinks, hard links). It owns no
// versioning logic; FileSystem only updates the inode registry (spec.md
// §4.A) and returns results. Wrapping each mutating method with observer
// notification is internal/observer's job (spec.md §4.C), not this
// package's.
package passthrough

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fluid-notion-systems/ize/internal/logger"
	"github.com/fluid-notion-systems/ize/internal/registry"
	"golang.org/x/sys/unix"
)

// Config mirrors gcsfuse's fs.ServerConfig: the small set of knobs needed to
// stand up a FileSystem, as opposed to a full on-disk configuration format
// (which spec.md places out of scope).
type Config struct {
	// SourceDir is the host directory being passed through and versioned.
	SourceDir string

	// Uid/Gid own every inode reported by the filesystem.
	Uid uint32
	Gid uint32

	// FileMode/DirMode are the permission bits applied to newly created
	// files and directories absent an explicit mode from the caller.
	FileMode os.FileMode
	DirMode  os.FileMode
}

// FileSystem is the pass-through filesystem. All exported methods are safe
// for concurrent use by multiple FUSE worker goroutines; the registry
// supplies its own internal synchronization and host file descriptors are
// independent per handle.
type FileSystem struct {
	cfg      Config
	registry *registry.Registry

	mu          sync.Mutex
	nextHandle  Handle
	fileHandles map[Handle]*os.File
	dirHandles  map[Handle]*dirHandle
}

type dirHandle struct {
	entries []os.DirEntry
}

// New creates a FileSystem rooted at cfg.SourceDir with only the root
// inode registered.
func New(cfg Config, reg *registry.Registry) *FileSystem {
	return &FileSystem{
		cfg:         cfg,
		registry:    reg,
		nextHandle:  1,
		fileHandles: make(map[Handle]*os.File),
		dirHandles:  make(map[Handle]*dirHandle),
	}
}

func (fs *FileSystem) hostPath(relPath string) string {
	if relPath == "" {
		return fs.cfg.SourceDir
	}
	return filepath.Join(fs.cfg.SourceDir, relPath)
}

func (fs *FileSystem) allocHandle() Handle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := fs.nextHandle
	fs.nextHandle++
	return h
}

////////////////////////////////////////////////////////////////////////
// Inode resolution
////////////////////////////////////////////////////////////////////////

// LookUp resolves name within parent, inserting a registry entry for it on
// success (I3).
func (fs *FileSystem) LookUp(parent registry.InodeID, name string) (registry.InodeID, Attr, error) {
	parentPath, ok := fs.registry.Resolve(parent)
	if !ok {
		return 0, Attr{}, fmt.Errorf("passthrough: lookup: unknown parent inode %d", parent)
	}

	childRel := joinRel(parentPath, name)
	st, err := os.Lstat(fs.hostPath(childRel))
	if err != nil {
		return 0, Attr{}, err
	}

	ino := fs.registry.Insert(childRel, hostInode(st))
	return ino, attrFromFileInfo(ino, st, fs.cfg), nil
}

// GetAttr stats the inode's current path.
func (fs *FileSystem) GetAttr(ino registry.InodeID) (Attr, error) {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return Attr{}, fmt.Errorf("passthrough: getattr: unknown inode %d", ino)
	}

	st, err := os.Lstat(fs.hostPath(path))
	if err != nil {
		return Attr{}, err
	}
	return attrFromFileInfo(ino, st, fs.cfg), nil
}

// Forget decrements ino's lookup count (spec.md §3 I4).
func (fs *FileSystem) Forget(ino registry.InodeID, n uint64) {
	fs.registry.Forget(ino, n)
}

////////////////////////////////////////////////////////////////////////
// Creation
////////////////////////////////////////////////////////////////////////

// Create makes a new regular file and opens it, returning a handle.
func (fs *FileSystem) Create(parent registry.InodeID, name string, mode os.FileMode) (registry.InodeID, Handle, Attr, error) {
	parentPath, ok := fs.registry.Resolve(parent)
	if !ok {
		return 0, 0, Attr{}, fmt.Errorf("passthrough: create: unknown parent inode %d", parent)
	}

	if mode == 0 {
		mode = fs.cfg.FileMode
	}
	childRel := joinRel(parentPath, name)

	f, err := os.OpenFile(fs.hostPath(childRel), os.O_CREATE|os.O_EXCL|os.O_RDWR, mode)
	if err != nil {
		return 0, 0, Attr{}, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, 0, Attr{}, err
	}

	ino := fs.registry.Insert(childRel, hostInode(st))

	h := fs.allocHandle()
	fs.mu.Lock()
	fs.fileHandles[h] = f
	fs.mu.Unlock()

	return ino, h, attrFromFileInfo(ino, st, fs.cfg), nil
}

// Mkdir creates a directory.
func (fs *FileSystem) Mkdir(parent registry.InodeID, name string, mode os.FileMode) (registry.InodeID, Attr, error) {
	parentPath, ok := fs.registry.Resolve(parent)
	if !ok {
		return 0, Attr{}, fmt.Errorf("passthrough: mkdir: unknown parent inode %d", parent)
	}

	if mode == 0 {
		mode = fs.cfg.DirMode
	}
	childRel := joinRel(parentPath, name)

	if err := os.Mkdir(fs.hostPath(childRel), mode); err != nil {
		return 0, Attr{}, err
	}

	st, err := os.Lstat(fs.hostPath(childRel))
	if err != nil {
		return 0, Attr{}, err
	}

	ino := fs.registry.Insert(childRel, hostInode(st))
	return ino, attrFromFileInfo(ino, st, fs.cfg), nil
}

// Symlink creates a symlink whose target is stored verbatim (spec.md §3
// SymlinkCreate).
func (fs *FileSystem) Symlink(parent registry.InodeID, name, target string) (registry.InodeID, Attr, error) {
	parentPath, ok := fs.registry.Resolve(parent)
	if !ok {
		return 0, Attr{}, fmt.Errorf("passthrough: symlink: unknown parent inode %d", parent)
	}

	childRel := joinRel(parentPath, name)
	if err := os.Symlink(target, fs.hostPath(childRel)); err != nil {
		return 0, Attr{}, err
	}

	st, err := os.Lstat(fs.hostPath(childRel))
	if err != nil {
		return 0, Attr{}, err
	}

	ino := fs.registry.Insert(childRel, hostInode(st))
	return ino, attrFromFileInfo(ino, st, fs.cfg), nil
}

// Link adds a hard link at newParent/newName pointing at existing.
func (fs *FileSystem) Link(existing registry.InodeID, newParent registry.InodeID, newName string) (registry.InodeID, Attr, error) {
	existingPath, ok := fs.registry.Resolve(existing)
	if !ok {
		return 0, Attr{}, fmt.Errorf("passthrough: link: unknown inode %d", existing)
	}
	parentPath, ok := fs.registry.Resolve(newParent)
	if !ok {
		return 0, Attr{}, fmt.Errorf("passthrough: link: unknown parent inode %d", newParent)
	}

	newRel := joinRel(parentPath, newName)
	if err := os.Link(fs.hostPath(existingPath), fs.hostPath(newRel)); err != nil {
		return 0, Attr{}, err
	}

	st, err := os.Lstat(fs.hostPath(newRel))
	if err != nil {
		return 0, Attr{}, err
	}

	// A hard link shares the host inode of the existing file; insert
	// records the new path against the same host-assigned inode number so
	// Resolve treats them as one underlying identity for attribute
	// purposes while the registry's path index still distinguishes the
	// two names.
	ino := fs.registry.Insert(newRel, hostInode(st))
	return ino, attrFromFileInfo(ino, st, fs.cfg), nil
}

////////////////////////////////////////////////////////////////////////
// Removal
////////////////////////////////////////////////////////////////////////

// StatKind performs the symlink-aware stat that must happen before a
// destructive unlink/rename call is delegated to the host, resolving
// spec.md §9's "Unlink-before-stat race" Open Question: the probe runs
// first, and its result is threaded through to the caller (and from there
// to the observer notification) rather than re-derived afterward.
func (fs *FileSystem) StatKind(path string) (Kind, error) {
	st, err := os.Lstat(fs.hostPath(path))
	if err != nil {
		return 0, err
	}
	return kindFromFileInfo(st), nil
}

// Unlink removes a regular file or symlink. Callers that need to
// discriminate FileDelete from SymlinkDelete must call StatKind first
// (spec.md §4.E step 2, §9).
func (fs *FileSystem) Unlink(parent registry.InodeID, name string) error {
	parentPath, ok := fs.registry.Resolve(parent)
	if !ok {
		return fmt.Errorf("passthrough: unlink: unknown parent inode %d", parent)
	}

	childRel := joinRel(parentPath, name)
	if err := os.Remove(fs.hostPath(childRel)); err != nil {
		return err
	}

	if ino, found := fs.inodeForPath(childRel); found {
		fs.registry.Remove(ino)
	}
	return nil
}

// Rmdir removes an empty directory.
func (fs *FileSystem) Rmdir(parent registry.InodeID, name string) error {
	parentPath, ok := fs.registry.Resolve(parent)
	if !ok {
		return fmt.Errorf("passthrough: rmdir: unknown parent inode %d", parent)
	}

	childRel := joinRel(parentPath, name)
	if err := os.Remove(fs.hostPath(childRel)); err != nil {
		return err
	}

	if ino, found := fs.inodeForPath(childRel); found {
		fs.registry.Remove(ino)
	}
	return nil
}

func (fs *FileSystem) inodeForPath(path string) (registry.InodeID, bool) {
	// ResolveChild needs a parent inode; walk from root by resolving the
	// parent directory of path and looking up the final component. This is
	// only used right after a successful unlink/rmdir, so the entry (if
	// any) is still present.
	dir, base := filepath.Split(path)
	dir = trimTrailingSlash(dir)

	parentIno, ok := fs.lookupInodeForExactPath(dir)
	if !ok {
		return 0, false
	}
	_, ino, ok := fs.registry.ResolveChild(parentIno, base)
	return ino, ok
}

func (fs *FileSystem) lookupInodeForExactPath(path string) (registry.InodeID, bool) {
	if path == "" {
		return registry.RootInodeID, true
	}
	_, ino, ok := fs.registry.ResolveChild(registry.RootInodeID, path)
	if ok {
		return ino, true
	}
	// Fall back to walking component by component; ResolveChild only joins
	// one level, so for nested paths we need the immediate parent's ino.
	dir, base := filepath.Split(path)
	dir = trimTrailingSlash(dir)
	parentIno, ok := fs.lookupInodeForExactPath(dir)
	if !ok {
		return 0, false
	}
	_, ino, ok = fs.registry.ResolveChild(parentIno, base)
	return ino, ok
}

////////////////////////////////////////////////////////////////////////
// Rename
////////////////////////////////////////////////////////////////////////

// Rename moves oldParent/oldName to newParent/newName, rewriting the
// registry (including the recursive subtree rewrite for directories)
// afterward. Call StatKind on the source path before calling Rename to
// discriminate FileRename from DirRename for the opcode stream.
func (fs *FileSystem) Rename(oldParent registry.InodeID, oldName string, newParent registry.InodeID, newName string, isDir bool) error {
	oldParentPath, ok := fs.registry.Resolve(oldParent)
	if !ok {
		return fmt.Errorf("passthrough: rename: unknown old parent inode %d", oldParent)
	}
	newParentPath, ok := fs.registry.Resolve(newParent)
	if !ok {
		return fmt.Errorf("passthrough: rename: unknown new parent inode %d", newParent)
	}

	oldRel := joinRel(oldParentPath, oldName)
	newRel := joinRel(newParentPath, newName)

	if err := os.Rename(fs.hostPath(oldRel), fs.hostPath(newRel)); err != nil {
		return err
	}

	return fs.registry.Rename(oldRel, newRel, isDir)
}

////////////////////////////////////////////////////////////////////////
// Attributes
////////////////////////////////////////////////////////////////////////

// SetAttr applies req to the inode's current path and returns the new
// attributes. Fields are applied in the order size -> mode -> times ->
// ownership so that, when the recorder emits one opcode per changed
// attribute class, it can simply walk req in this same order (spec.md §4.E
// step 3).
func (fs *FileSystem) SetAttr(ino registry.InodeID, req SetAttrRequest) (Attr, error) {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return Attr{}, fmt.Errorf("passthrough: setattr: unknown inode %d", ino)
	}
	hp := fs.hostPath(path)

	if req.Size != nil {
		if err := os.Truncate(hp, int64(*req.Size)); err != nil {
			return Attr{}, err
		}
	}
	if req.Mode != nil {
		if err := os.Chmod(hp, *req.Mode); err != nil {
			return Attr{}, err
		}
	}
	if req.Atime != nil || req.Mtime != nil {
		st, err := os.Lstat(hp)
		if err != nil {
			return Attr{}, err
		}
		atime, mtime := st.ModTime(), st.ModTime()
		if req.Atime != nil {
			atime = *req.Atime
		}
		if req.Mtime != nil {
			mtime = *req.Mtime
		}
		if err := os.Chtimes(hp, atime, mtime); err != nil {
			return Attr{}, err
		}
	}
	if req.Uid != nil || req.Gid != nil {
		uid, gid := -1, -1
		if req.Uid != nil {
			uid = int(*req.Uid)
		}
		if req.Gid != nil {
			gid = int(*req.Gid)
		}
		if err := os.Chown(hp, uid, gid); err != nil {
			return Attr{}, err
		}
	}

	st, err := os.Lstat(hp)
	if err != nil {
		return Attr{}, err
	}
	return attrFromFileInfo(ino, st, fs.cfg), nil
}

////////////////////////////////////////////////////////////////////////
// File I/O
////////////////////////////////////////////////////////////////////////

// Open opens an existing file for reading and/or writing.
func (fs *FileSystem) Open(ino registry.InodeID, flags int) (Handle, error) {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return 0, fmt.Errorf("passthrough: open: unknown inode %d", ino)
	}

	f, err := os.OpenFile(fs.hostPath(path), flags, 0)
	if err != nil {
		return 0, err
	}

	h := fs.allocHandle()
	fs.mu.Lock()
	fs.fileHandles[h] = f
	fs.mu.Unlock()
	return h, nil
}

// Read reads up to len(buf) bytes at offset.
func (fs *FileSystem) Read(handle Handle, offset int64, buf []byte) (int, error) {
	f, ok := fs.fileHandle(handle)
	if !ok {
		return 0, fmt.Errorf("passthrough: read: unknown handle %d", handle)
	}
	return f.ReadAt(buf, offset)
}

// Write overwrites len(data) bytes at offset, extending the file with
// zeros if needed (handled transparently by the host pwrite semantics).
// Partial writes are reported to the caller verbatim (spec.md §4.B).
func (fs *FileSystem) Write(handle Handle, offset int64, data []byte) (int, error) {
	f, ok := fs.fileHandle(handle)
	if !ok {
		return 0, fmt.Errorf("passthrough: write: unknown handle %d", handle)
	}
	return f.WriteAt(data, offset)
}

// Release closes a file handle.
func (fs *FileSystem) Release(handle Handle) error {
	fs.mu.Lock()
	f, ok := fs.fileHandles[handle]
	delete(fs.fileHandles, handle)
	fs.mu.Unlock()
	if !ok {
		return fmt.Errorf("passthrough: release: unknown handle %d", handle)
	}
	return f.Close()
}

// Flush flushes any host-level buffering for handle (a no-op for a plain
// os.File but kept to preserve the FUSE flush/close(2) distinction).
func (fs *FileSystem) Flush(handle Handle) error {
	_, ok := fs.fileHandle(handle)
	if !ok {
		return fmt.Errorf("passthrough: flush: unknown handle %d", handle)
	}
	return nil
}

// Fsync flushes a handle's data (and metadata, unless dataOnly) to disk.
func (fs *FileSystem) Fsync(handle Handle, dataOnly bool) error {
	f, ok := fs.fileHandle(handle)
	if !ok {
		return fmt.Errorf("passthrough: fsync: unknown handle %d", handle)
	}
	if dataOnly {
		return unix.Fdatasync(int(f.Fd()))
	}
	return f.Sync()
}

func (fs *FileSystem) fileHandle(h Handle) (*os.File, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.fileHandles[h]
	return f, ok
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

// OpenDir opens a directory for reading.
func (fs *FileSystem) OpenDir(ino registry.InodeID) (Handle, error) {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return 0, fmt.Errorf("passthrough: opendir: unknown inode %d", ino)
	}

	f, err := os.Open(fs.hostPath(path))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return 0, err
	}

	h := fs.allocHandle()
	fs.mu.Lock()
	fs.dirHandles[h] = &dirHandle{entries: entries}
	fs.mu.Unlock()
	return h, nil
}

// ReadDir returns entries starting at offset.
func (fs *FileSystem) ReadDir(ino registry.InodeID, handle Handle, offset int) ([]Dirent, error) {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return nil, fmt.Errorf("passthrough: readdir: unknown inode %d", ino)
	}

	fs.mu.Lock()
	dh, ok := fs.dirHandles[handle]
	fs.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("passthrough: readdir: unknown handle %d", handle)
	}

	if offset >= len(dh.entries) {
		return nil, nil
	}

	var out []Dirent
	for _, de := range dh.entries[offset:] {
		childRel := joinRel(path, de.Name())
		info, err := de.Info()
		if err != nil {
			logger.Warnf("passthrough: readdir: stat %s: %v", childRel, err)
			continue
		}
		ino := fs.registry.Insert(childRel, hostInode(info))
		out = append(out, Dirent{Inode: ino, Name: de.Name(), Kind: kindFromFileInfo(info)})
	}
	return out, nil
}

// ReleaseDir releases a directory handle.
func (fs *FileSystem) ReleaseDir(handle Handle) error {
	fs.mu.Lock()
	_, ok := fs.dirHandles[handle]
	delete(fs.dirHandles, handle)
	fs.mu.Unlock()
	if !ok {
		return fmt.Errorf("passthrough: releasedir: unknown handle %d", handle)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Misc
////////////////////////////////////////////////////////////////////////

// Readlink returns a symlink's target verbatim.
func (fs *FileSystem) Readlink(ino registry.InodeID) (string, error) {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return "", fmt.Errorf("passthrough: readlink: unknown inode %d", ino)
	}
	return os.Readlink(fs.hostPath(path))
}

// StatFS reports filesystem-wide statistics for the source directory.
func (fs *FileSystem) StatFS() (StatFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.cfg.SourceDir, &st); err != nil {
		return StatFS{}, err
	}
	return StatFS{
		BlockSize:  uint32(st.Bsize),
		Blocks:     st.Blocks,
		BlocksFree: st.Bfree,
		Files:      st.Files,
		FilesFree:  st.Ffree,
		NameLen:    255,
	}, nil
}

// Access checks whether the source-directory path for ino is accessible
// under mode (the F_OK/R_OK/W_OK/X_OK bits from access(2)).
func (fs *FileSystem) Access(ino registry.InodeID, mode uint32) error {
	path, ok := fs.registry.Resolve(ino)
	if !ok {
		return fmt.Errorf("passthrough: access: unknown inode %d", ino)
	}
	return unix.Access(fs.hostPath(path), mode)
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func kindFromFileInfo(st os.FileInfo) Kind {
	switch {
	case st.Mode()&os.ModeSymlink != 0:
		return KindSymlink
	case st.IsDir():
		return KindDir
	default:
		return KindFile
	}
}

func attrFromFileInfo(ino registry.InodeID, st os.FileInfo, cfg Config) Attr {
	nlink := uint32(1)
	if sys, ok := st.Sys().(*unix.Stat_t); ok {
		nlink = uint32(sys.Nlink)
	}
	return Attr{
		Inode: ino,
		Size:  uint64(st.Size()),
		Mode:  st.Mode(),
		Uid:   cfg.Uid,
		Gid:   cfg.Gid,
		Mtime: st.ModTime(),
		Atime: st.ModTime(),
		Ctime: st.ModTime(),
		Nlink: nlink,
	}
}

func hostInode(st os.FileInfo) registry.InodeID {
	if sys, ok := st.Sys().(*unix.Stat_t); ok {
		return registry.InodeID(sys.Ino)
	}
	return 0
}
