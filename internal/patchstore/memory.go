package patchstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// channelState is one channel's current materialized file set, keyed by
// relative path. This stands in for the pristine database's "head" for a
// given channel.
type channelState struct {
	files map[string][]byte
}

func newChannelState() *channelState {
	return &channelState{files: make(map[string][]byte)}
}

func (c *channelState) clone() *channelState {
	out := newChannelState()
	for k, v := range c.files {
		buf := make([]byte, len(v))
		copy(buf, v)
		out.files[k] = buf
	}
	return out
}

// patchRecord is a saved patch: the actions it carries plus its header,
// kept around purely for introspection (tests, a future `ize log`).
type patchRecord struct {
	actions []PatchAction
	header  Header
}

// MemoryStore is an in-memory reference implementation of Store. It is not
// durable: all state is lost on process exit, which is acceptable for the
// capability-bounded boundary spec.md §1 draws around the concrete patch
// store (out of scope for this repo) while still giving the applier a real
// collaborator to run against in tests and in local experimentation.
type MemoryStore struct {
	mu       sync.Mutex
	opened   bool
	channels map[string]*channelState
	current  string
	patches  map[Hash]patchRecord
	txns     map[TxnID]bool // value: true if mutable
}

// NewMemoryStore creates an unopened store; call Init or Open before use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]*channelState),
		patches:  make(map[Hash]patchRecord),
		txns:     make(map[TxnID]bool),
	}
}

func (m *MemoryStore) Init(ctx context.Context, bareDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	m.channels["main"] = newChannelState()
	m.current = "main"
	return nil
}

func (m *MemoryStore) Open(ctx context.Context, bareDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return fmt.Errorf("patchstore: %s not initialized", bareDir)
	}
	return nil
}

func (m *MemoryStore) BeginTxn(ctx context.Context) (TxnID, error) {
	return m.begin(false)
}

func (m *MemoryStore) BeginMutTxn(ctx context.Context) (TxnID, error) {
	return m.begin(true)
}

func (m *MemoryStore) begin(mutable bool) (TxnID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.txns[id] = mutable
	return id, nil
}

func (m *MemoryStore) Commit(ctx context.Context, txn TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[txn]; !ok {
		return fmt.Errorf("patchstore: commit: unknown transaction %s", txn)
	}
	delete(m.txns, txn)
	return nil
}

func (m *MemoryStore) LoadChannel(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[name]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) CreateChannel(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[name]; ok {
		return fmt.Errorf("patchstore: channel %q already exists", name)
	}
	m.channels[name] = newChannelState()
	return nil
}

func (m *MemoryStore) SetCurrent(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[name]; !ok {
		return ErrNotFound
	}
	m.current = name
	return nil
}

func (m *MemoryStore) ForkChannel(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.channels[from]
	if !ok {
		return ErrNotFound
	}
	if _, exists := m.channels[to]; exists {
		return fmt.Errorf("patchstore: channel %q already exists", to)
	}
	m.channels[to] = src.clone()
	return nil
}

func (m *MemoryStore) ListChannels(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryStore) ReadFileBytes(ctx context.Context, txn TxnID, channel, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channel]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := ch.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Record computes, for every path in virtualWC (whether or not it lies
// under prefix), whether its content differs from the channel's current
// state. prefix scopes only deletion detection: paths present in the
// channel under prefix (see hasPrefix) but absent from virtualWC are
// recorded as delete actions, and an empty prefix covers the whole channel.
// No difference anywhere yields a nil actions slice and a nil error,
// satisfying the applier's idempotence requirement.
func (m *MemoryStore) Record(ctx context.Context, txn TxnID, channel string, virtualWC map[string][]byte, prefix string) ([]PatchAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channel]
	if !ok {
		return nil, ErrNotFound
	}

	var actions []PatchAction
	seen := make(map[string]bool)
	for path, data := range virtualWC {
		seen[path] = true
		existing, had := ch.files[path]
		if had && bytesEqual(existing, data) {
			continue
		}
		kind := "write"
		if !had {
			kind = "create"
		}
		actions = append(actions, PatchAction{Path: path, Kind: kind, Data: data})
	}
	for path := range ch.files {
		if len(prefix) > 0 && !hasPrefix(path, prefix) {
			continue
		}
		if !seen[path] {
			if _, stillInWC := virtualWC[path]; !stillInWC {
				actions = append(actions, PatchAction{Path: path, Kind: "delete"})
			}
		}
	}
	return actions, nil
}

func (m *MemoryStore) SavePatch(ctx context.Context, actions []PatchAction, header Header) (Hash, error) {
	if len(actions) == 0 {
		return "", nil
	}

	h := sha256.New()
	for _, a := range actions {
		h.Write([]byte(a.Kind))
		h.Write([]byte(a.Path))
		h.Write(a.Data)
	}
	sum := Hash(hex.EncodeToString(h.Sum(nil)))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches[sum] = patchRecord{actions: actions, header: header}
	return sum, nil
}

func (m *MemoryStore) ApplyLocal(ctx context.Context, txn TxnID, channel string, actions []PatchAction, hash Hash) error {
	if len(actions) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channel]
	if !ok {
		return ErrNotFound
	}

	for _, a := range actions {
		switch a.Kind {
		case "delete":
			delete(ch.files, a.Path)
		default:
			buf := make([]byte, len(a.Data))
			copy(buf, a.Data)
			ch.files[a.Path] = buf
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hasPrefix reports whether path is scoped by prefix: either path is
// exactly prefix (the file-scoped case — a single path like "a.txt" never
// matches a sibling like "a.txt.bak") or path is nested under prefix as a
// directory ("old" matches "old/a" but not "oldXYZ"). A raw string-prefix
// test would conflate the two and delete unrelated paths that merely
// share a textual prefix.
func hasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
