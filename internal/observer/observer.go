// Package observer implements the capability-based notification dispatch
// from spec.md §4.C: the pass-through filesystem's mutating operations are
// wrapped so that, after each one succeeds on the host, every registered
// Observer is notified synchronously, with no observer allowed to block the
// filesystem or force a retry.
package observer

import (
	"os"

	"github.com/fluid-notion-systems/ize/internal/logger"
	"github.com/fluid-notion-systems/ize/internal/passthrough"
	"github.com/fluid-notion-systems/ize/internal/registry"
)

// Observer is the capability interface a collaborator implements to learn
// about successful mutations. Every method receives only the information
// needed to reconstruct the corresponding opcode; Dispatcher guarantees
// these are only ever called after the underlying host operation has
// already succeeded (spec.md §4.C "notify-after-success").
type Observer interface {
	OnCreate(parent registry.InodeID, name string, ino registry.InodeID, attr passthrough.Attr)
	OnWrite(ino registry.InodeID, offset int64, data []byte)
	OnSetAttr(ino registry.InodeID, req passthrough.SetAttrRequest, attr passthrough.Attr)
	OnUnlink(parent registry.InodeID, name string, kind passthrough.Kind)
	OnMkdir(parent registry.InodeID, name string, ino registry.InodeID, attr passthrough.Attr)
	OnRmdir(parent registry.InodeID, name string)
	OnRename(oldParent registry.InodeID, oldName string, newParent registry.InodeID, newName string, isDir bool)
	OnSymlink(parent registry.InodeID, name, target string, ino registry.InodeID)
	OnLink(existing registry.InodeID, newParent registry.InodeID, newName string, ino registry.InodeID)
}

// Dispatcher wraps a *passthrough.FileSystem, delegating every call to it
// and then fanning the result out to all registered observers. Dispatcher
// implements no interface of its own; callers at the FUSE binding layer
// call its methods directly in place of the underlying FileSystem's.
type Dispatcher struct {
	fs        *passthrough.FileSystem
	observers []Observer
}

// New wraps fs with zero observers registered.
func New(fs *passthrough.FileSystem) *Dispatcher {
	return &Dispatcher{fs: fs}
}

// Register adds an observer. Not safe to call concurrently with dispatch;
// callers should register all observers before mounting.
func (d *Dispatcher) Register(o Observer) {
	d.observers = append(d.observers, o)
}

// notify invokes fn for every registered observer, isolating each from a
// panic in its neighbors and from ever affecting the caller: a panicking
// observer is logged and skipped, never allowed to crash the filesystem
// operation it rode in on (spec.md §4.C "panic-isolated").
func (d *Dispatcher) notify(fn func(o Observer)) {
	for _, o := range d.observers {
		func(o Observer) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("observer: recovered panic in %T: %v", o, r)
				}
			}()
			fn(o)
		}(o)
	}
}

func (d *Dispatcher) Create(parent registry.InodeID, name string, mode os.FileMode) (registry.InodeID, passthrough.Handle, passthrough.Attr, error) {
	ino, h, attr, err := d.fs.Create(parent, name, mode)
	if err == nil {
		d.notify(func(o Observer) { o.OnCreate(parent, name, ino, attr) })
	}
	return ino, h, attr, err
}

func (d *Dispatcher) Write(handle passthrough.Handle, ino registry.InodeID, offset int64, data []byte) (int, error) {
	n, err := d.fs.Write(handle, offset, data)
	if err == nil {
		d.notify(func(o Observer) { o.OnWrite(ino, offset, data[:n]) })
	}
	return n, err
}

func (d *Dispatcher) SetAttr(ino registry.InodeID, req passthrough.SetAttrRequest) (passthrough.Attr, error) {
	attr, err := d.fs.SetAttr(ino, req)
	if err == nil {
		d.notify(func(o Observer) { o.OnSetAttr(ino, req, attr) })
	}
	return attr, err
}

// Unlink probes the path's kind before delegating, resolving spec.md §9's
// unlink-before-stat race: the classification used for the notification is
// the one observed immediately before the host call, never re-derived
// afterward (the path may no longer exist to stat by then).
func (d *Dispatcher) Unlink(parent registry.InodeID, name string, path string) error {
	kind, statErr := d.fs.StatKind(path)
	err := d.fs.Unlink(parent, name)
	if err == nil {
		if statErr != nil {
			kind = passthrough.KindFile
		}
		d.notify(func(o Observer) { o.OnUnlink(parent, name, kind) })
	}
	return err
}

func (d *Dispatcher) Mkdir(parent registry.InodeID, name string, mode os.FileMode) (registry.InodeID, passthrough.Attr, error) {
	ino, attr, err := d.fs.Mkdir(parent, name, mode)
	if err == nil {
		d.notify(func(o Observer) { o.OnMkdir(parent, name, ino, attr) })
	}
	return ino, attr, err
}

func (d *Dispatcher) Rmdir(parent registry.InodeID, name string) error {
	err := d.fs.Rmdir(parent, name)
	if err == nil {
		d.notify(func(o Observer) { o.OnRmdir(parent, name) })
	}
	return err
}

// Rename probes the source path's kind before delegating, the directory
// analogue of Unlink's race resolution.
func (d *Dispatcher) Rename(oldParent registry.InodeID, oldName string, oldPath string, newParent registry.InodeID, newName string) error {
	kind, statErr := d.fs.StatKind(oldPath)
	isDir := statErr == nil && kind == passthrough.KindDir
	err := d.fs.Rename(oldParent, oldName, newParent, newName, isDir)
	if err == nil {
		d.notify(func(o Observer) { o.OnRename(oldParent, oldName, newParent, newName, isDir) })
	}
	return err
}

func (d *Dispatcher) Symlink(parent registry.InodeID, name, target string) (registry.InodeID, passthrough.Attr, error) {
	ino, attr, err := d.fs.Symlink(parent, name, target)
	if err == nil {
		d.notify(func(o Observer) { o.OnSymlink(parent, name, target, ino) })
	}
	return ino, attr, err
}

func (d *Dispatcher) Link(existing registry.InodeID, newParent registry.InodeID, newName string) (registry.InodeID, passthrough.Attr, error) {
	ino, attr, err := d.fs.Link(existing, newParent, newName)
	if err == nil {
		d.notify(func(o Observer) { o.OnLink(existing, newParent, newName, ino) })
	}
	return ino, attr, err
}

// FS returns the wrapped filesystem for non-mutating operations
// (LookUp, GetAttr, Read, directory listing, Readlink, StatFS, Access),
// which Dispatcher passes through without notification since they never
// mutate host state.
func (d *Dispatcher) FS() *passthrough.FileSystem {
	return d.fs
}
