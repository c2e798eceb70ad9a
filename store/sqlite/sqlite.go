/*
Package sqlite provides a SQLite-backed document store.

PURPOSE:
  Production implementation of docstore.Collection on SQLite. Documents
  are schemaless, so each field is stored as one row with a kind tag
  and a kind-specific value column. That keeps predicate evaluation
  type-faithful in SQL: a string range only scans str_val rows, a
  timestamp range only ts_val rows, mirroring how the store treats a
  timestamp-typed day as invisible to a string predicate.

SCHEMA:
  documents(doc_id, field, kind, str_val, num_val, bool_val, ts_val)
  PRIMARY KEY (doc_id, field)

TIMESTAMPS:
  Stored as fixed-width UTC text (nanosecond precision, no zone
  suffix) so lexicographic order equals chronological order and range
  predicates work as plain string comparisons.

ATOMICITY:
  Every write path runs inside one SQL transaction. Batch application
  verifies update targets before mutating, so a missing document rolls
  the whole batch back.

LIVE SUBSCRIPTIONS:
  An in-process listener registry is notified after every committed
  write; each listener's query is re-evaluated and the full matching
  set pushed. Consumers never poll.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./entries.db")   // or ":memory:"
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - docstore/docstore.go: The Collection contract
  - docstore/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/timesheet-engine/docstore"
)

const tsLayout = "2006-01-02T15:04:05.000000000"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id   TEXT NOT NULL,
	field    TEXT NOT NULL,
	kind     TEXT NOT NULL,
	str_val  TEXT,
	num_val  REAL,
	bool_val INTEGER,
	ts_val   TEXT,
	PRIMARY KEY (doc_id, field)
);
CREATE INDEX IF NOT EXISTS idx_documents_field_kind ON documents(field, kind);
`

// Store implements docstore.Collection on SQLite.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	listeners map[uuid.UUID]*listener
}

type listener struct {
	q     docstore.Query
	fn    docstore.SnapshotFunc
	errFn docstore.ErrorFunc
}

var _ docstore.Collection = (*Store)(nil)

// New opens (or creates) the database and initializes the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, listeners: make(map[uuid.UUID]*listener)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// =============================================================================
// VALUE ENCODING
// =============================================================================

type encoded struct {
	kind    string
	str     sql.NullString
	num     sql.NullFloat64
	boolean sql.NullInt64
	ts      sql.NullString
}

func encode(v any) (encoded, error) {
	switch val := v.(type) {
	case string:
		return encoded{kind: "string", str: sql.NullString{String: val, Valid: true}}, nil
	case float64:
		return encoded{kind: "number", num: sql.NullFloat64{Float64: val, Valid: true}}, nil
	case int:
		return encoded{kind: "number", num: sql.NullFloat64{Float64: float64(val), Valid: true}}, nil
	case int64:
		return encoded{kind: "number", num: sql.NullFloat64{Float64: float64(val), Valid: true}}, nil
	case bool:
		n := int64(0)
		if val {
			n = 1
		}
		return encoded{kind: "bool", boolean: sql.NullInt64{Int64: n, Valid: true}}, nil
	case time.Time:
		return encoded{kind: "time", ts: sql.NullString{String: val.UTC().Format(tsLayout), Valid: true}}, nil
	}
	return encoded{}, fmt.Errorf("unsupported value type %T", v)
}

func decode(kind string, str sql.NullString, num sql.NullFloat64, boolean sql.NullInt64, ts sql.NullString) (any, error) {
	switch kind {
	case "string":
		return str.String, nil
	case "number":
		return num.Float64, nil
	case "bool":
		return boolean.Int64 != 0, nil
	case "time":
		t, err := time.Parse(tsLayout, ts.String)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

// valueColumn maps a kind to the column a predicate compares against.
func valueColumn(kind string) string {
	switch kind {
	case "string":
		return "str_val"
	case "number":
		return "num_val"
	case "bool":
		return "bool_val"
	default:
		return "ts_val"
	}
}

func sqlOp(op docstore.Op) (string, error) {
	switch op {
	case docstore.OpEq:
		return "=", nil
	case docstore.OpGte:
		return ">=", nil
	case docstore.OpLt:
		return "<", nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) Set(ctx context.Context, id string, fields docstore.Doc) error {
	return s.Apply(ctx, []docstore.Write{{Kind: docstore.WriteSet, ID: id, Fields: fields}})
}

func (s *Store) Update(ctx context.Context, id string, fields docstore.Doc) error {
	err := s.Apply(ctx, []docstore.Write{{Kind: docstore.WriteUpdate, ID: id, Fields: fields}})
	// Single-write batches surface the underlying cause directly.
	var be *docstore.BatchError
	if errors.As(err, &be) {
		return be.Cause
	}
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.Apply(ctx, []docstore.Write{{Kind: docstore.WriteDelete, ID: id}})
}

// Apply commits all writes in one SQL transaction, then notifies
// listeners. Update targets are verified inside the transaction, so a
// missing document aborts the whole batch.
func (s *Store) Apply(ctx context.Context, writes []docstore.Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for i, w := range writes {
		if w.Kind == docstore.WriteUpdate {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM documents WHERE doc_id = ? LIMIT 1`, w.ID).Scan(&one)
			if err == sql.ErrNoRows {
				return &docstore.BatchError{Index: i, ID: w.ID, Cause: docstore.ErrNotFound}
			}
			if err != nil {
				return &docstore.BatchError{Index: i, ID: w.ID, Cause: err}
			}
		}
		switch w.Kind {
		case docstore.WriteSet, docstore.WriteUpdate:
			if err := mergeFields(ctx, tx, w.ID, w.Fields); err != nil {
				return &docstore.BatchError{Index: i, ID: w.ID, Cause: err}
			}
		case docstore.WriteDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, w.ID); err != nil {
				return &docstore.BatchError{Index: i, ID: w.ID, Cause: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	s.broadcast()
	return nil
}

func mergeFields(ctx context.Context, tx *sql.Tx, id string, fields docstore.Doc) error {
	for field, v := range fields {
		if v == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE doc_id = ? AND field = ?`, id, field); err != nil {
				return err
			}
			continue
		}
		enc, err := encode(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, field, kind, str_val, num_val, bool_val, ts_val)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, field) DO UPDATE SET
				kind = excluded.kind,
				str_val = excluded.str_val,
				num_val = excluded.num_val,
				bool_val = excluded.bool_val,
				ts_val = excluded.ts_val`,
			id, field, enc.kind, enc.str, enc.num, enc.boolean, enc.ts)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) Get(ctx context.Context, id string) (docstore.Doc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, kind, str_val, num_val, bool_val, ts_val
		FROM documents WHERE doc_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc := docstore.Doc{}
	for rows.Next() {
		var field, kind string
		var str, ts sql.NullString
		var num sql.NullFloat64
		var boolean sql.NullInt64
		if err := rows.Scan(&field, &kind, &str, &num, &boolean, &ts); err != nil {
			return nil, err
		}
		v, err := decode(kind, str, num, boolean, ts)
		if err != nil {
			return nil, fmt.Errorf("doc %s field %s: %w", id, field, err)
		}
		doc[field] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, docstore.ErrNotFound
	}
	return doc, nil
}

func (s *Store) RunQuery(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	ids, err := s.matchIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	snaps := make([]docstore.Snapshot, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue // deleted between match and load
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, docstore.Snapshot{ID: id, Data: doc})
	}
	return snaps, nil
}

// matchIDs intersects the id sets of all predicates, sorted ascending.
func (s *Store) matchIDs(ctx context.Context, q docstore.Query) ([]string, error) {
	if len(q.Predicates) == 0 {
		return s.allIDs(ctx)
	}

	var result map[string]bool
	for _, p := range q.Predicates {
		enc, err := encode(p.Value)
		if err != nil {
			return nil, &docstore.QueryError{Field: p.Field, Cause: err}
		}
		op, err := sqlOp(p.Op)
		if err != nil {
			return nil, &docstore.QueryError{Field: p.Field, Cause: err}
		}
		col := valueColumn(enc.kind)
		var arg any
		switch col {
		case "str_val":
			arg = enc.str.String
		case "num_val":
			arg = enc.num.Float64
		case "bool_val":
			arg = enc.boolean.Int64
		default:
			arg = enc.ts.String
		}

		query := fmt.Sprintf(
			`SELECT doc_id FROM documents WHERE field = ? AND kind = ? AND %s %s ?`, col, op)
		matched, err := s.queryIDs(ctx, query, p.Field, enc.kind, arg)
		if err != nil {
			return nil, &docstore.QueryError{Field: p.Field, Cause: err}
		}

		if result == nil {
			result = matched
		} else {
			for id := range result {
				if !matched[id] {
					delete(result, id)
				}
			}
		}
		if len(result) == 0 {
			return nil, nil
		}
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matched := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		matched[id] = true
	}
	return matched, rows.Err()
}

func (s *Store) allIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT doc_id FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// LIVE SUBSCRIPTIONS
// =============================================================================

func (s *Store) Listen(q docstore.Query, fn docstore.SnapshotFunc, errFn docstore.ErrorFunc) (docstore.CancelFunc, error) {
	initial, err := s.RunQuery(context.Background(), q)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	s.mu.Lock()
	s.listeners[id] = &listener{q: q, fn: fn, errFn: errFn}
	s.mu.Unlock()

	fn(initial)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
	return cancel, nil
}

// broadcast re-evaluates every listener's query after a committed write.
// Runs on the writer's goroutine, so concurrent writers can deliver out
// of commit order; each delivery carries the set current at evaluation
// time and the next commit re-delivers.
func (s *Store) broadcast() {
	s.mu.Lock()
	active := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		active = append(active, l)
	}
	s.mu.Unlock()

	for _, l := range active {
		snaps, err := s.RunQuery(context.Background(), l.q)
		if err != nil {
			if l.errFn != nil {
				l.errFn(err)
			}
			continue
		}
		l.fn(snaps)
	}
}
