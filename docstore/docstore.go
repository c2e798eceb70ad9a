/*
docstore.go - Abstract document store interface

PURPOSE:
  Defines the capability contract between the domain logic and the
  persistence engine. The store holds schemaless documents (maps of
  field name to scalar value) and supports merge upserts, atomic
  batches, one-shot queries, and live subscriptions.

KEY INTERFACES:
  Collection: Document persistence (get/set/update/delete),
              atomic batch application, querying, and listening.

PREDICATES:
  A Query is a conjunction of predicates. Each predicate is an equality
  or half-open range condition on a single field. Matching is
  type-faithful: a predicate only matches values of the same kind, so a
  day stored as a timestamp never matches a string range. The store
  provides no joins and no foreign keys.

LIVE SUBSCRIPTIONS:
  Listen delivers the full matching document set immediately, then
  again after every committed write. Delivery is push-based; callers
  never poll. The returned cancel function is idempotent.

ATOMIC BATCHES:
  Apply ensures all-or-nothing semantics. When reviewing twenty entries
  in one action, either all twenty mutations commit or none do. Update
  writes inside a batch fail the whole batch if their target document
  does not exist.

IMPLEMENTATIONS:
  - docstore/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go: SQLite-backed production store

SEE ALSO:
  - hours/reconcile.go: Primary consumer of Listen
  - hours/review.go: Primary consumer of Apply
*/
package docstore

import "context"

// =============================================================================
// DOCUMENTS
// =============================================================================

// Doc is a schemaless document: field name to scalar value.
// Supported value kinds: string, float64 (any integer kind is widened),
// bool, time.Time, and nil. A nil value clears the field on write.
type Doc map[string]any

// Snapshot pairs a document with its identifier, as returned by queries.
type Snapshot struct {
	ID   string
	Data Doc
}

// Clone returns a shallow copy of the document (values are scalars).
func (d Doc) Clone() Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// =============================================================================
// PREDICATES
// =============================================================================

type Op string

const (
	OpEq  Op = "=="
	OpGte Op = ">="
	OpLt  Op = "<"
)

// Predicate is one condition on one field.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Query is a conjunction of predicates. An empty query matches every
// document in the collection.
type Query struct {
	Predicates []Predicate
}

func Where(field string, op Op, value any) Query {
	return Query{Predicates: []Predicate{{Field: field, Op: op, Value: value}}}
}

// And returns a new query with an additional predicate.
func (q Query) And(field string, op Op, value any) Query {
	preds := make([]Predicate, len(q.Predicates), len(q.Predicates)+1)
	copy(preds, q.Predicates)
	return Query{Predicates: append(preds, Predicate{Field: field, Op: op, Value: value})}
}

// =============================================================================
// WRITES
// =============================================================================

type WriteKind int

const (
	// WriteSet merges fields into the document, creating it if absent.
	WriteSet WriteKind = iota
	// WriteUpdate merges fields but fails if the document does not exist.
	WriteUpdate
	// WriteDelete removes the document.
	WriteDelete
)

// Write is one mutation inside an atomic batch.
type Write struct {
	Kind   WriteKind
	ID     string
	Fields Doc
}

// =============================================================================
// COLLECTION - The store contract
// =============================================================================

// SnapshotFunc receives the full matching set, sorted by document id.
type SnapshotFunc func(snaps []Snapshot)

// ErrorFunc receives asynchronous subscription failures.
type ErrorFunc func(err error)

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// Collection handles persistence for one logical document collection.
type Collection interface {
	// Get returns the document, or ErrNotFound.
	Get(ctx context.Context, id string) (Doc, error)

	// Set merges fields into the document, creating it if absent.
	// A nil field value clears that field.
	Set(ctx context.Context, id string, fields Doc) error

	// Update merges fields into an existing document.
	// Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, id string, fields Doc) error

	// Delete removes the document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, id string) error

	// Apply commits a batch of writes atomically. Either every write
	// takes effect or none do.
	Apply(ctx context.Context, writes []Write) error

	// RunQuery evaluates the query once, returning matches sorted by id.
	RunQuery(ctx context.Context, q Query) ([]Snapshot, error)

	// Listen subscribes to the query: the current matching set is
	// delivered before Listen returns, then again after every committed
	// write. Under concurrent writers deliveries are not guaranteed to
	// arrive in commit order: a delivery may briefly reflect an older
	// commit, and the delivery for the following commit carries the
	// current set. Returns ErrUnsupportedQuery if the store cannot serve
	// the predicate shape.
	Listen(q Query, fn SnapshotFunc, errFn ErrorFunc) (CancelFunc, error)
}
