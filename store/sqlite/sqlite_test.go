package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/docstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_SetGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created := time.Date(2024, 7, 5, 16, 30, 0, 123456789, time.UTC)

	require.NoError(t, s.Set(ctx, "u1_2024-07-05", docstore.Doc{
		"ownerId":    "u1",
		"day":        "2024-07-05",
		"briefCount": 1.5,
		"hasDispute": false,
		"createdAt":  created,
	}))

	doc, err := s.Get(ctx, "u1_2024-07-05")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc["ownerId"])
	assert.Equal(t, "2024-07-05", doc["day"])
	assert.Equal(t, 1.5, doc["briefCount"])
	assert.Equal(t, false, doc["hasDispute"])
	got, ok := doc["createdAt"].(time.Time)
	require.True(t, ok)
	assert.True(t, created.Equal(got))
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.True(t, docstore.IsNotFound(err))
}

func TestStore_SetMergesAndNilClears(t *testing.T) {
	// Merge semantics identical to the in-memory store: partial writes
	// keep untouched fields, nil removes a field.
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"a": "one", "note": "bad"}))
	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"b": "two", "note": nil}))

	doc, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, docstore.Doc{"a": "one", "b": "two"}, doc)
}

func TestStore_TypeOverwrite(t *testing.T) {
	// Rewriting a field with a different kind replaces the old value
	// entirely, it does not leave a stale row behind.
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"day": time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"day": "2024-07-05"}))

	doc, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-05", doc["day"])

	snaps, err := s.RunQuery(ctx, docstore.Where("day", docstore.OpGte, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Empty(t, snaps, "old timestamp kind must be gone")
}

func TestStore_UpdateRequiresExistence(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "missing", docstore.Doc{"a": 1.0})
	assert.True(t, docstore.IsNotFound(err))

	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"a": 1.0}))
	require.NoError(t, s.Update(ctx, "d1", docstore.Doc{"a": 2.0}))
	doc, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, doc["a"])
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"a": 1.0}))
	require.NoError(t, s.Delete(ctx, "d1"))
	_, err := s.Get(ctx, "d1")
	assert.True(t, docstore.IsNotFound(err))
}

// =============================================================================
// BATCHES
// =============================================================================

func TestStore_ApplyRollsBackOnMissingUpdateTarget(t *testing.T) {
	// GIVEN: A batch updating an existing and a missing document
	// WHEN: Applied
	// THEN: The transaction rolls back; the existing document is untouched

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"state": "pending"}))

	err := s.Apply(ctx, []docstore.Write{
		{Kind: docstore.WriteUpdate, ID: "d1", Fields: docstore.Doc{"state": "approved"}},
		{Kind: docstore.WriteUpdate, ID: "ghost", Fields: docstore.Doc{"state": "approved"}},
	})
	require.ErrorIs(t, err, docstore.ErrBatchFailed)

	var be *docstore.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "ghost", be.ID)

	doc, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "pending", doc["state"])
}

func TestStore_ApplyMixedBatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "old", docstore.Doc{"a": 1.0}))

	require.NoError(t, s.Apply(ctx, []docstore.Write{
		{Kind: docstore.WriteSet, ID: "new", Fields: docstore.Doc{"a": 2.0}},
		{Kind: docstore.WriteUpdate, ID: "old", Fields: docstore.Doc{"a": 3.0}},
		{Kind: docstore.WriteDelete, ID: "old"},
	}))

	_, err := s.Get(ctx, "old")
	assert.True(t, docstore.IsNotFound(err))
	doc, err := s.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 2.0, doc["a"])
}

// =============================================================================
// QUERIES
// =============================================================================

func seedJulyDocs(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "str-in", docstore.Doc{
		"ownerId": "u1", "day": "2024-07-10"}))
	require.NoError(t, s.Set(ctx, "str-out", docstore.Doc{
		"ownerId": "u1", "day": "2024-08-02"}))
	require.NoError(t, s.Set(ctx, "ts-in", docstore.Doc{
		"ownerId": "u2", "day": time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, s.Set(ctx, "ts-out", docstore.Doc{
		"ownerId": "u2", "day": time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)}))
}

func queryIDs(snaps []docstore.Snapshot) []string {
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestStore_QueryKindsAreIsolated(t *testing.T) {
	// A string range sees only string-typed days; a timestamp range only
	// timestamp-typed ones.
	s := newStore(t)
	seedJulyDocs(t, s)
	ctx := context.Background()

	snaps, err := s.RunQuery(ctx, docstore.
		Where("day", docstore.OpGte, "2024-07-01").
		And("day", docstore.OpLt, "2024-08-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"str-in"}, queryIDs(snaps))

	snaps, err = s.RunQuery(ctx, docstore.
		Where("day", docstore.OpGte, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)).
		And("day", docstore.OpLt, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, []string{"ts-in"}, queryIDs(snaps))
}

func TestStore_QueryPredicatesIntersect(t *testing.T) {
	s := newStore(t)
	seedJulyDocs(t, s)

	snaps, err := s.RunQuery(context.Background(), docstore.
		Where("ownerId", docstore.OpEq, "u1").
		And("day", docstore.OpGte, "2024-07-01").
		And("day", docstore.OpLt, "2024-08-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"str-in"}, queryIDs(snaps))
}

func TestStore_EmptyQueryReturnsAllSorted(t *testing.T) {
	s := newStore(t)
	seedJulyDocs(t, s)

	snaps, err := s.RunQuery(context.Background(), docstore.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"str-in", "str-out", "ts-in", "ts-out"}, queryIDs(snaps))
}

func TestStore_TimestampOrderSurvivesEncoding(t *testing.T) {
	// Range predicates compare encoded timestamp text; ordering must
	// match chronological order across zone and sub-second differences.
	s := newStore(t)
	ctx := context.Background()
	paris := time.FixedZone("CET", 3600)
	require.NoError(t, s.Set(ctx, "early", docstore.Doc{
		"createdAt": time.Date(2024, 7, 10, 0, 30, 0, 0, paris)})) // 23:30 UTC on the 9th
	require.NoError(t, s.Set(ctx, "late", docstore.Doc{
		"createdAt": time.Date(2024, 7, 10, 8, 0, 0, 500, time.UTC)}))

	snaps, err := s.RunQuery(ctx, docstore.
		Where("createdAt", docstore.OpGte, time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, queryIDs(snaps))
}

// =============================================================================
// LIVE SUBSCRIPTIONS
// =============================================================================

func TestStore_ListenPushesOnCommit(t *testing.T) {
	// GIVEN: A listener on a period equality query
	// WHEN: Matching and non-matching documents are written
	// THEN: Every commit re-delivers the full matching set

	s := newStore(t)
	ctx := context.Background()

	var deliveries [][]docstore.Snapshot
	cancel, err := s.Listen(docstore.Where("period", docstore.OpEq, "2024-07"),
		func(snaps []docstore.Snapshot) { deliveries = append(deliveries, snaps) },
		func(err error) { t.Errorf("unexpected listener error: %v", err) })
	require.NoError(t, err)
	defer cancel()

	require.Len(t, deliveries, 1)
	assert.Empty(t, deliveries[0])

	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"period": "2024-07"}))
	require.NoError(t, s.Set(ctx, "d2", docstore.Doc{"period": "2024-08"}))

	require.Len(t, deliveries, 3)
	assert.Equal(t, []string{"d1"}, queryIDs(deliveries[1]))
	assert.Equal(t, []string{"d1"}, queryIDs(deliveries[2]))
}

func TestStore_ListenCancelIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	count := 0
	cancel, err := s.Listen(docstore.Query{},
		func([]docstore.Snapshot) { count++ }, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	cancel()
	cancel()

	require.NoError(t, s.Set(ctx, "d1", docstore.Doc{"a": 1.0}))
	assert.Equal(t, 1, count)
}
