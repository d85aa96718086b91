package passthrough

import (
	"os"
	"time"

	"github.com/fluid-notion-systems/ize/internal/registry"
)

// Handle is an opaque per-open file or directory handle, analogous to
// fuseops.HandleID in the jacobsa/fuse binding this package is designed to
// sit behind.
type Handle uint64

// Kind discriminates what a path names, resolved via a symlink-aware stat.
// The recorder uses this to pick between FileDelete/SymlinkDelete and
// FileRename/DirRename (spec.md §4.E step 2).
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Attr mirrors the subset of host file metadata the pass-through surface
// and the opcode model both care about.
type Attr struct {
	Inode   registry.InodeID
	Size    uint64
	Mode    os.FileMode
	Uid     uint32
	Gid     uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Nlink   uint32
}

// SetAttrRequest carries only the attributes the caller asked to change;
// nil fields are left untouched. The pass-through applies them to the host
// file and the recorder emits one opcode per changed attribute class (Atime
// and Mtime share one opcode, as do Uid and Gid), in the fixed order
// size -> mode -> times -> ownership (spec.md §4.E step 3).
type SetAttrRequest struct {
	Size  *uint64
	Mode  *os.FileMode
	Atime *time.Time
	Mtime *time.Time
	Uid   *uint32
	Gid   *uint32
}

// Dirent is one entry returned by ReadDir.
type Dirent struct {
	Inode registry.InodeID
	Name  string
	Kind  Kind
}

// StatFS mirrors the handful of statfs(2) fields callers generally need.
type StatFS struct {
	BlockSize  uint32
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
	NameLen    uint32
}
