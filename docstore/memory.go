package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// MEMORY STORE - In-memory Collection (for testing/dev)
// =============================================================================

// Memory is an in-memory Collection. Listener callbacks are invoked
// after the store lock is released; callbacks may issue further store
// operations but must not block indefinitely. Snapshots are computed
// under the commit lock but delivered outside it, so concurrent writers
// can deliver out of commit order; the next commit's delivery carries
// the current set.
type Memory struct {
	mu        sync.RWMutex
	docs      map[string]Doc
	listeners map[uuid.UUID]*memListener

	// rejected simulates a store-side index gap: any query touching one
	// of these fields is refused with ErrUnsupportedQuery.
	rejected map[string]bool
}

type memListener struct {
	q     Query
	fn    SnapshotFunc
	errFn ErrorFunc
}

var _ Collection = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		docs:      make(map[string]Doc),
		listeners: make(map[uuid.UUID]*memListener),
		rejected:  make(map[string]bool),
	}
}

// RejectQueriesOn makes every subsequent query touching field fail.
// Test hook simulating a missing composite index.
func (m *Memory) RejectQueriesOn(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[field] = true
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Memory) Get(_ context.Context, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *Memory) Set(ctx context.Context, id string, fields Doc) error {
	return m.Apply(ctx, []Write{{Kind: WriteSet, ID: id, Fields: fields}})
}

func (m *Memory) Update(ctx context.Context, id string, fields Doc) error {
	err := m.Apply(ctx, []Write{{Kind: WriteUpdate, ID: id, Fields: fields}})
	// Single-write batches surface the underlying cause directly.
	var be *BatchError
	if errors.As(err, &be) {
		return be.Cause
	}
	return err
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	return m.Apply(ctx, []Write{{Kind: WriteDelete, ID: id}})
}

// Apply commits all writes or none. Update targets are verified before
// any mutation, so a missing document rolls the whole batch back.
func (m *Memory) Apply(_ context.Context, writes []Write) error {
	m.mu.Lock()

	for i, w := range writes {
		if w.Kind == WriteUpdate {
			if _, ok := m.docs[w.ID]; !ok {
				m.mu.Unlock()
				return &BatchError{Index: i, ID: w.ID, Cause: ErrNotFound}
			}
		}
	}

	for _, w := range writes {
		switch w.Kind {
		case WriteSet, WriteUpdate:
			m.mergeLocked(w.ID, w.Fields)
		case WriteDelete:
			delete(m.docs, w.ID)
		}
	}

	pending := m.snapshotListenersLocked()
	m.mu.Unlock()

	for _, p := range pending {
		p.fn(p.snaps)
	}
	return nil
}

func (m *Memory) mergeLocked(id string, fields Doc) {
	d, ok := m.docs[id]
	if !ok {
		d = make(Doc, len(fields))
		m.docs[id] = d
	}
	for k, v := range fields {
		if v == nil {
			delete(d, k)
			continue
		}
		d[k] = v
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *Memory) RunQuery(_ context.Context, q Query) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkQueryLocked(q); err != nil {
		return nil, err
	}
	return m.evalLocked(q), nil
}

func (m *Memory) Listen(q Query, fn SnapshotFunc, errFn ErrorFunc) (CancelFunc, error) {
	m.mu.Lock()
	if err := m.checkQueryLocked(q); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	id := uuid.New()
	m.listeners[id] = &memListener{q: q, fn: fn, errFn: errFn}
	initial := m.evalLocked(q)
	m.mu.Unlock()

	fn(initial)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
	return cancel, nil
}

func (m *Memory) checkQueryLocked(q Query) error {
	for _, p := range q.Predicates {
		if m.rejected[p.Field] {
			return &QueryError{Field: p.Field, Cause: ErrUnsupportedQuery}
		}
	}
	return nil
}

func (m *Memory) evalLocked(q Query) []Snapshot {
	var out []Snapshot
	for id, d := range m.docs {
		if Matches(d, q) {
			out = append(out, Snapshot{ID: id, Data: d.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type pendingNotify struct {
	fn    SnapshotFunc
	snaps []Snapshot
}

func (m *Memory) snapshotListenersLocked() []pendingNotify {
	out := make([]pendingNotify, 0, len(m.listeners))
	for _, l := range m.listeners {
		out = append(out, pendingNotify{fn: l.fn, snaps: m.evalLocked(l.q)})
	}
	return out
}
