package applier

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/fluid-notion-systems/ize/internal/patchstore"
)

// buildVirtualWC materializes the single-path (or single-pair, for
// rename/link) virtual working copy an opcode needs before it can be
// diffed against the pristine store (spec.md §4.G step 2-3). It never
// touches the live source tree: every byte it starts from comes from
// store.ReadFileBytes at the channel's current head.
//
// noOp is true for attribute-only opcodes that SPEC_FULL.md's resolution
// of the "Timestamp/ownership opcodes" Open Question treats as no-ops: the
// reference store does not model permissions, timestamps, or ownership.
func (a *Applier) buildVirtualWC(ctx context.Context, txn patchstore.TxnID, op opcode.Operation) (wc map[string][]byte, prefix string, noOp bool, err error) {
	switch o := op.(type) {
	case opcode.FileCreate:
		content := o.Content
		if content == nil {
			content = []byte{}
		}
		return map[string][]byte{o.Path: content}, o.Path, false, nil

	case opcode.FileWrite:
		existing, err := a.readOrEmpty(ctx, txn, o.Path)
		if err != nil {
			return nil, "", false, err
		}
		buf := spliceAt(existing, int(o.Offset), o.Data)
		return map[string][]byte{o.Path: buf}, o.Path, false, nil

	case opcode.FileTruncate:
		existing, ok, err := a.readExisting(ctx, txn, o.Path)
		if err != nil {
			return nil, "", false, err
		}
		if !ok {
			return nil, "", false, fmt.Errorf("applier: truncate %q not in pristine: %w", o.Path, ErrDeterministic)
		}
		buf := resize(existing, int(o.NewSize))
		return map[string][]byte{o.Path: buf}, o.Path, false, nil

	case opcode.FileDelete:
		return map[string][]byte{}, o.Path, false, nil

	case opcode.SymlinkDelete:
		return map[string][]byte{}, o.Path, false, nil

	case opcode.DirDelete:
		return map[string][]byte{}, o.Path, false, nil

	case opcode.DirCreate:
		// Bare directories carry no content under the reference store's
		// flat path->bytes model, the same resolution SPEC_FULL.md gives
		// SetPermissions/SetTimestamps/SetOwnership for attribute-only
		// opcodes: nothing to diff, so this is a no-op rather than an
		// unhandled opcode type.
		return nil, "", true, nil

	case opcode.FileRename:
		return a.buildRenameWC(ctx, txn, o.OldPath, o.NewPath)

	case opcode.DirRename:
		return a.buildDirRenameWC(ctx, txn, o)

	case opcode.SymlinkCreate:
		// A symlink's target is modeled as its pristine "content"; this is
		// a deliberate simplification, since the concrete store's symlink
		// semantics are unspecified (spec.md §9).
		return map[string][]byte{o.Path: []byte(o.Target)}, o.Path, false, nil

	case opcode.HardLinkCreate:
		existing, ok, err := a.readExisting(ctx, txn, o.ExistingPath)
		if err != nil {
			return nil, "", false, err
		}
		if !ok {
			return nil, "", false, fmt.Errorf("applier: hardlink source %q not in pristine: %w", o.ExistingPath, ErrDeterministic)
		}
		// Hard links are modeled as a second, independently diffed
		// pristine path carrying the same bytes (SPEC_FULL.md's
		// resolution of the "Hard-link semantics" Open Question), not as
		// a single shared identity.
		return map[string][]byte{o.NewPath: existing}, o.NewPath, false, nil

	case opcode.SetPermissions, opcode.SetTimestamps, opcode.SetOwnership:
		return nil, "", true, nil

	default:
		return nil, "", false, fmt.Errorf("applier: unhandled opcode type %T", op)
	}
}

// buildDirRenameWC moves a directory's recorded subtree from oldPath to
// newPath using the old/new path pairs the recorder captured off the
// registry at emit time (opcode.DirRename.Entries), rather than a single
// marker path: scoping Record's diff to oldPath means every pristine path
// still found there (the old tree) is recorded as deleted, while every
// entry this function places in the returned working copy (the new tree)
// is recorded as created, together producing a real move instead of
// destroying the renamed subtree's history (spec.md §4.G).
func (a *Applier) buildDirRenameWC(ctx context.Context, txn patchstore.TxnID, o opcode.DirRename) (map[string][]byte, string, bool, error) {
	entries := o.Entries
	if len(entries) == 0 {
		entries = []opcode.RenameEntry{{OldPath: o.OldPath, NewPath: o.NewPath}}
	}

	wc := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, ok, err := a.readExisting(ctx, txn, e.OldPath)
		if err != nil {
			return nil, "", false, err
		}
		if !ok {
			// Not every captured path is modeled content (e.g. a nested
			// directory marker); skip anything the pristine store never
			// recorded in the first place.
			continue
		}
		wc[e.NewPath] = data
	}
	return wc, o.OldPath, false, nil
}

func (a *Applier) buildRenameWC(ctx context.Context, txn patchstore.TxnID, oldPath, newPath string) (map[string][]byte, string, bool, error) {
	existing, ok, err := a.readExisting(ctx, txn, oldPath)
	if err != nil {
		return nil, "", false, err
	}
	if !ok {
		existing = []byte{}
	}
	// Scoping the diff to oldPath lets Record observe that oldPath
	// disappeared from the working copy (it is absent from wc) without
	// also flagging every unrelated file in the channel as deleted.
	return map[string][]byte{newPath: existing}, oldPath, false, nil
}

func (a *Applier) readExisting(ctx context.Context, txn patchstore.TxnID, path string) ([]byte, bool, error) {
	data, err := a.store.ReadFileBytes(ctx, txn, a.channel, path)
	if errors.Is(err, patchstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("applier: read %q: %w", path, err)
	}
	return data, true, nil
}

func (a *Applier) readOrEmpty(ctx context.Context, txn patchstore.TxnID, path string) ([]byte, error) {
	data, ok, err := a.readExisting(ctx, txn, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte{}, nil
	}
	return data, nil
}

// spliceAt overwrites existing starting at offset with data, extending
// existing with zero bytes first if offset+len(data) exceeds its length.
func spliceAt(existing []byte, offset int, data []byte) []byte {
	end := offset + len(data)
	buf := existing
	if end > len(buf) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	} else {
		buf = append([]byte(nil), buf...)
	}
	copy(buf[offset:end], data)
	return buf
}

// resize truncates or zero-extends existing to exactly size bytes.
func resize(existing []byte, size int) []byte {
	if size <= len(existing) {
		out := make([]byte, size)
		copy(out, existing[:size])
		return out
	}
	out := make([]byte, size)
	copy(out, existing)
	return out
}
