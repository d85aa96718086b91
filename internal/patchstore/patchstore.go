// Package patchstore defines the capability-bounded interface the applier
// consumes to reach the pristine patch-based history database (spec.md
// §4.H). The concrete store is explicitly out of scope for this repo; this
// package only pins down the contract plus an in-memory reference
// implementation suitable for tests and for the CLI's local-experiment
// mode.
package patchstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a channel or path is requested that the
// store has no record of.
var ErrNotFound = errors.New("patchstore: not found")

// TxnID identifies a single begin/commit bracket.
type TxnID = uuid.UUID

// Hash identifies a saved patch by content address.
type Hash string

// PatchAction is one recorded change within a patch; the concrete shape is
// deliberately store-specific, so this package models it as an opaque
// blob the store itself knows how to interpret and diff.
type PatchAction struct {
	Path string
	Kind string
	Data []byte
}

// Header carries the metadata recorded alongside a patch (author, message,
// timestamp); left free-form since the concrete store determines what it
// can usefully persist.
type Header struct {
	Description string
	TimestampNS int64
}

// Store is the capability interface the applier depends on (spec.md
// §4.H). All methods take a context so a real store backed by disk or
// network I/O can honor cancellation.
type Store interface {
	// Init creates a new bare repository at bareDir: a pristine database,
	// a content-addressed changes blob store, and a config file.
	Init(ctx context.Context, bareDir string) error

	// Open attaches to an existing bare repository.
	Open(ctx context.Context, bareDir string) error

	// BeginTxn starts a read-only transaction.
	BeginTxn(ctx context.Context) (TxnID, error)

	// BeginMutTxn starts a read-write transaction.
	BeginMutTxn(ctx context.Context) (TxnID, error)

	// Commit finalizes a transaction started by BeginTxn/BeginMutTxn.
	Commit(ctx context.Context, txn TxnID) error

	// LoadChannel checks that a channel exists, erroring with ErrNotFound
	// if it does not.
	LoadChannel(ctx context.Context, name string) error

	// CreateChannel creates a new, empty channel.
	CreateChannel(ctx context.Context, name string) error

	// SetCurrent marks name as the store's active channel.
	SetCurrent(ctx context.Context, name string) error

	// ForkChannel creates channel to as a copy of from's current head.
	ForkChannel(ctx context.Context, from, to string) error

	// ListChannels returns every known channel name.
	ListChannels(ctx context.Context) ([]string, error)

	// ReadFileBytes materializes path's content at channel's head within
	// txn (the "virtual working copy" read, spec.md §4.G step 2).
	ReadFileBytes(ctx context.Context, txn TxnID, channel, path string) ([]byte, error)

	// Record diffs every path of the virtual working copy virtualWC
	// against the pristine state and treats pristine paths under prefix
	// that virtualWC lacks as deleted, producing the actions that
	// describe the difference. An empty action slice with a nil error
	// means no difference was found (spec.md §4.G "Idempotence").
	Record(ctx context.Context, txn TxnID, channel string, virtualWC map[string][]byte, prefix string) ([]PatchAction, error)

	// SavePatch persists actions under a content-addressed hash.
	SavePatch(ctx context.Context, actions []PatchAction, header Header) (Hash, error)

	// ApplyLocal applies the patch identified by hash to channel's head
	// within txn.
	ApplyLocal(ctx context.Context, txn TxnID, channel string, actions []PatchAction, hash Hash) error
}
