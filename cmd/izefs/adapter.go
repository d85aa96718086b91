// The fuseFS type is the only place in this module that speaks the
// jacobsa/fuse wire-level op types directly: every method here does
// nothing but translate a fuseops.XxxOp into a call on
// internal/observer.Dispatcher (or internal/passthrough.FileSystem for
// read-only operations) and copy the result back into the op's output
// fields, mirroring the shape of gcsfuse's fs/fs.go.
package main

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fluid-notion-systems/ize/internal/mount"
	"github.com/fluid-notion-systems/ize/internal/passthrough"
	"github.com/fluid-notion-systems/ize/internal/registry"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// fuseFS adapts an *mount.Instance to fuseutil.FileSystem. Operations this
// filesystem does not support (extended attributes, file locking) fall
// through to fuseutil.NotImplementedFileSystem's ENOSYS defaults.
type fuseFS struct {
	fuseutil.NotImplementedFileSystem

	inst *mount.Instance
}

func newFuseFS(inst *mount.Instance) *fuseFS {
	return &fuseFS{inst: inst}
}

func toAttr(a passthrough.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Mode:  a.Mode,
		Uid:   a.Uid,
		Gid:   a.Gid,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
		Nlink: a.Nlink,
	}
}

const attrCacheTTL = time.Minute

func (fs *fuseFS) Init(op *fuseops.InitOp) error {
	return nil
}

func (fs *fuseFS) LookUpInode(op *fuseops.LookUpInodeOp) error {
	ino, attr, err := fs.inst.Dispatcher.FS().LookUp(registry.InodeID(op.Parent), op.Name)
	if err != nil {
		return err
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttr(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrCacheTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *fuseFS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.inst.Dispatcher.FS().GetAttr(registry.InodeID(op.Inode))
	if err != nil {
		return err
	}
	op.Attributes = toAttr(attr)
	op.AttributesExpiration = time.Now().Add(attrCacheTTL)
	return nil
}

func (fs *fuseFS) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	var uid, gid *uint32
	attr, err := fs.inst.Dispatcher.SetAttr(registry.InodeID(op.Inode), passthrough.SetAttrRequest{
		Size:  op.Size,
		Mode:  op.Mode,
		Atime: op.Atime,
		Mtime: op.Mtime,
		Uid:   uid,
		Gid:   gid,
	})
	if err != nil {
		return err
	}
	op.Attributes = toAttr(attr)
	op.AttributesExpiration = time.Now().Add(attrCacheTTL)
	return nil
}

func (fs *fuseFS) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.inst.Dispatcher.FS().Forget(registry.InodeID(op.Inode), uint64(op.N))
	return nil
}

func (fs *fuseFS) MkDir(op *fuseops.MkDirOp) error {
	ino, attr, err := fs.inst.Dispatcher.Mkdir(registry.InodeID(op.Parent), op.Name, op.Mode)
	if err != nil {
		return err
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttr(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrCacheTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *fuseFS) CreateFile(op *fuseops.CreateFileOp) error {
	ino, h, attr, err := fs.inst.Dispatcher.Create(registry.InodeID(op.Parent), op.Name, op.Mode)
	if err != nil {
		return err
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttr(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrCacheTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	op.Handle = fuseops.HandleID(h)
	return nil
}

func (fs *fuseFS) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	ino, attr, err := fs.inst.Dispatcher.Symlink(registry.InodeID(op.Parent), op.Name, op.Target)
	if err != nil {
		return err
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttr(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrCacheTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *fuseFS) CreateLink(op *fuseops.CreateLinkOp) error {
	ino, attr, err := fs.inst.Dispatcher.Link(registry.InodeID(op.Target), registry.InodeID(op.Parent), op.Name)
	if err != nil {
		return err
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttr(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrCacheTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *fuseFS) RmDir(op *fuseops.RmDirOp) error {
	return fs.inst.Dispatcher.Rmdir(registry.InodeID(op.Parent), op.Name)
}

func (fs *fuseFS) Unlink(op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.inst.Registry.Resolve(registry.InodeID(op.Parent))
	if !ok {
		return os.ErrNotExist
	}
	path := op.Name
	if parentPath != "" {
		path = parentPath + "/" + op.Name
	}
	return fs.inst.Dispatcher.Unlink(registry.InodeID(op.Parent), op.Name, path)
}

func (fs *fuseFS) Rename(op *fuseops.RenameOp) error {
	oldParentPath, ok := fs.inst.Registry.Resolve(registry.InodeID(op.OldParent))
	if !ok {
		return os.ErrNotExist
	}
	oldPath := op.OldName
	if oldParentPath != "" {
		oldPath = oldParentPath + "/" + op.OldName
	}
	return fs.inst.Dispatcher.Rename(registry.InodeID(op.OldParent), op.OldName, oldPath, registry.InodeID(op.NewParent), op.NewName)
}

func (fs *fuseFS) OpenDir(op *fuseops.OpenDirOp) error {
	h, err := fs.inst.Dispatcher.FS().OpenDir(registry.InodeID(op.Inode))
	if err != nil {
		return err
	}
	op.Handle = fuseops.HandleID(h)
	return nil
}

func (fs *fuseFS) ReadDir(op *fuseops.ReadDirOp) error {
	entries, err := fs.inst.Dispatcher.FS().ReadDir(registry.InodeID(op.Inode), passthrough.Handle(op.Handle), int(op.Offset))
	if err != nil {
		return err
	}

	for i, e := range entries {
		de := fuseutil.Dirent{
			Offset: fuseops.DirOffset(op.Offset) + fuseops.DirOffset(i) + 1,
			Inode:  fuseops.InodeID(e.Inode),
			Name:   e.Name,
			Type:   direntType(e.Kind),
		}
		next := fuseutil.AppendDirent(op.Data, de)
		if len(next) > op.Size {
			break
		}
		op.Data = next
	}
	return nil
}

func direntType(k passthrough.Kind) fuseutil.DirentType {
	switch k {
	case passthrough.KindDir:
		return fuseutil.DT_Directory
	case passthrough.KindSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *fuseFS) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	return fs.inst.Dispatcher.FS().ReleaseDir(passthrough.Handle(op.Handle))
}

func (fs *fuseFS) OpenFile(op *fuseops.OpenFileOp) error {
	h, err := fs.inst.Dispatcher.FS().Open(registry.InodeID(op.Inode), os.O_RDWR)
	if err != nil {
		return err
	}
	op.Handle = fuseops.HandleID(h)
	return nil
}

func (fs *fuseFS) ReadFile(op *fuseops.ReadFileOp) error {
	buf := make([]byte, op.Size)
	n, err := fs.inst.Dispatcher.FS().Read(passthrough.Handle(op.Handle), op.Offset, buf)
	op.Data = buf[:n]
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (fs *fuseFS) WriteFile(op *fuseops.WriteFileOp) error {
	_, err := fs.inst.Dispatcher.Write(passthrough.Handle(op.Handle), registry.InodeID(op.Inode), op.Offset, op.Data)
	return err
}

func (fs *fuseFS) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	target, err := fs.inst.Dispatcher.FS().Readlink(registry.InodeID(op.Inode))
	if err != nil {
		return err
	}
	op.Target = target
	return nil
}

func (fs *fuseFS) SyncFile(op *fuseops.SyncFileOp) error {
	return fs.inst.Dispatcher.FS().Fsync(passthrough.Handle(op.Handle), false)
}

func (fs *fuseFS) FlushFile(op *fuseops.FlushFileOp) error {
	return fs.inst.Dispatcher.FS().Flush(passthrough.Handle(op.Handle))
}

func (fs *fuseFS) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return fs.inst.Dispatcher.FS().Release(passthrough.Handle(op.Handle))
}

func (fs *fuseFS) StatFS(op *fuseops.StatFSOp) error {
	st, err := fs.inst.Dispatcher.FS().StatFS()
	if err != nil {
		return err
	}
	op.BlockSize = st.BlockSize
	op.Blocks = st.Blocks
	op.BlocksFree = st.BlocksFree
	op.BlocksAvailable = st.BlocksFree
	op.IoSize = st.BlockSize
	return nil
}
