package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/docstore"
)

// =============================================================================
// WRITES
// =============================================================================

func TestMemory_SetMerges(t *testing.T) {
	// GIVEN: An existing document
	// WHEN: Set writes a partial field map
	// THEN: New fields land, untouched fields survive

	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"a": "one", "b": "two"}))
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"b": "deux", "c": "three"}))

	d, err := mem.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, docstore.Doc{"a": "one", "b": "deux", "c": "three"}, d)
}

func TestMemory_NilValueClearsField(t *testing.T) {
	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"note": "bad", "keep": true}))
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"note": nil}))

	d, err := mem.Get(ctx, "d1")
	require.NoError(t, err)
	_, present := d["note"]
	assert.False(t, present)
	assert.Equal(t, true, d["keep"])
}

func TestMemory_UpdateRequiresExistence(t *testing.T) {
	mem := docstore.NewMemory()
	ctx := context.Background()

	err := mem.Update(ctx, "missing", docstore.Doc{"a": 1.0})
	assert.True(t, docstore.IsNotFound(err))

	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"a": 1.0}))
	assert.NoError(t, mem.Update(ctx, "d1", docstore.Doc{"a": 2.0}))
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	// Mutating a returned doc must not reach the store.
	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"a": "x"}))

	d, err := mem.Get(ctx, "d1")
	require.NoError(t, err)
	d["a"] = "mutated"

	again, err := mem.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "x", again["a"])
}

func TestMemory_ApplyIsAtomic(t *testing.T) {
	// GIVEN: A batch whose second update targets a missing document
	// WHEN: Applied
	// THEN: The whole batch is rejected; the first write never landed

	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"state": "pending"}))

	err := mem.Apply(ctx, []docstore.Write{
		{Kind: docstore.WriteUpdate, ID: "d1", Fields: docstore.Doc{"state": "done"}},
		{Kind: docstore.WriteUpdate, ID: "ghost", Fields: docstore.Doc{"state": "done"}},
	})
	require.ErrorIs(t, err, docstore.ErrBatchFailed)

	var be *docstore.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Index)
	assert.Equal(t, "ghost", be.ID)
	assert.True(t, docstore.IsNotFound(be.Cause))

	d, err := mem.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "pending", d["state"])
}

func TestMemory_ApplyMixedBatch(t *testing.T) {
	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "old", docstore.Doc{"a": 1.0}))

	require.NoError(t, mem.Apply(ctx, []docstore.Write{
		{Kind: docstore.WriteSet, ID: "new", Fields: docstore.Doc{"a": 2.0}},
		{Kind: docstore.WriteDelete, ID: "old"},
	}))

	_, err := mem.Get(ctx, "old")
	assert.True(t, docstore.IsNotFound(err))
	d, err := mem.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 2.0, d["a"])
}

// =============================================================================
// QUERIES - Type-faithful matching
// =============================================================================

func TestMemory_QueryTypeFaithful(t *testing.T) {
	// A string range never matches a timestamp value and vice versa.
	// Cross-kind comparisons are not an error, they simply do not match.

	mem := docstore.NewMemory()
	ctx := context.Background()
	ts := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mem.Set(ctx, "str-day", docstore.Doc{"day": "2024-07-10"}))
	require.NoError(t, mem.Set(ctx, "ts-day", docstore.Doc{"day": ts}))

	strRange := docstore.Where("day", docstore.OpGte, "2024-07-01").
		And("day", docstore.OpLt, "2024-08-01")
	snaps, err := mem.RunQuery(ctx, strRange)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "str-day", snaps[0].ID)

	tsRange := docstore.Where("day", docstore.OpGte, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)).
		And("day", docstore.OpLt, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
	snaps, err = mem.RunQuery(ctx, tsRange)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "ts-day", snaps[0].ID)
}

func TestMemory_QueryNumericWidening(t *testing.T) {
	// int and float64 values compare as numbers.
	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"count": 3}))

	snaps, err := mem.RunQuery(ctx, docstore.Where("count", docstore.OpEq, 3.0))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestMemory_QueryMissingFieldNeverMatches(t *testing.T) {
	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"other": "x"}))

	snaps, err := mem.RunQuery(ctx, docstore.Where("day", docstore.OpGte, ""))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestMemory_EmptyQueryMatchesAll(t *testing.T) {
	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "b", docstore.Doc{"x": 1.0}))
	require.NoError(t, mem.Set(ctx, "a", docstore.Doc{"y": 2.0}))

	snaps, err := mem.RunQuery(ctx, docstore.Query{})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// Deterministic id order.
	assert.Equal(t, "a", snaps[0].ID)
	assert.Equal(t, "b", snaps[1].ID)
}

func TestMemory_RejectQueriesOn(t *testing.T) {
	mem := docstore.NewMemory()
	mem.RejectQueriesOn("createdAt")

	_, err := mem.RunQuery(context.Background(), docstore.Where("createdAt", docstore.OpGte, time.Now()))
	require.ErrorIs(t, err, docstore.ErrUnsupportedQuery)

	var qe *docstore.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "createdAt", qe.Field)

	_, err = mem.Listen(docstore.Where("createdAt", docstore.OpGte, time.Now()),
		func([]docstore.Snapshot) {}, func(error) {})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedQuery)

	// Other fields still work.
	_, err = mem.RunQuery(context.Background(), docstore.Where("day", docstore.OpEq, "2024-07-01"))
	assert.NoError(t, err)
}

// =============================================================================
// LISTENERS
// =============================================================================

func TestMemory_ListenDeliversInitialAndUpdates(t *testing.T) {
	// GIVEN: A store with one matching document
	// WHEN: Listening, then writing a second matching document
	// THEN: The initial set arrives synchronously, the updated set on write

	mem := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"period": "2024-07"}))

	var deliveries [][]docstore.Snapshot
	cancel, err := mem.Listen(docstore.Where("period", docstore.OpEq, "2024-07"),
		func(snaps []docstore.Snapshot) { deliveries = append(deliveries, snaps) },
		func(error) {})
	require.NoError(t, err)
	defer cancel()

	require.Len(t, deliveries, 1)
	assert.Len(t, deliveries[0], 1)

	require.NoError(t, mem.Set(ctx, "d2", docstore.Doc{"period": "2024-07"}))
	require.Len(t, deliveries, 2)
	assert.Len(t, deliveries[1], 2)

	// Non-matching writes still trigger a (re-evaluated) delivery with
	// the same membership.
	require.NoError(t, mem.Set(ctx, "elsewhere", docstore.Doc{"period": "2024-08"}))
	require.Len(t, deliveries, 3)
	assert.Len(t, deliveries[2], 2)
}

func TestMemory_ListenCancelStopsDeliveries(t *testing.T) {
	mem := docstore.NewMemory()
	ctx := context.Background()

	count := 0
	cancel, err := mem.Listen(docstore.Query{},
		func([]docstore.Snapshot) { count++ },
		func(error) {})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	cancel()
	cancel() // idempotent

	require.NoError(t, mem.Set(ctx, "d1", docstore.Doc{"a": 1.0}))
	assert.Equal(t, 1, count)
}
