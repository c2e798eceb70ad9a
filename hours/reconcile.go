/*
reconcile.go - Multi-predicate live reconciliation

PURPOSE:
  A single query predicate cannot reliably retrieve all entries for a
  period: historical documents stored day/period under several
  conventions. The reconciler runs seven independent live queries, each
  expressing one hypothesis about how a matching record could be found,
  and merges their last-known result sets into one canonical, ordered,
  deduplicated view on every change from any stream.

THE SEVEN PREDICATES, most specific first:
  byPeriod        period == "2024-07"          (canonical padded string)
  byPeriodAlt     period == "2024-7"           (legacy unpadded string)
  byDayRange      "2024-07-01" <= day < "2024-08-01"   (string days)
  byYearRange     "2024-" <= day < "2025-"     (malformed string days)
  byDayTimestamp  start <= day < end           (timestamp-typed days)
  byCreatedAt     start <= createdAt < end     (period inferred)
  all             unfiltered safety net, lowest precedence

MERGE:
  Each stream owns a private last-known set keyed by document id. On
  any update the seven sets are merged (most specific source wins on
  id collisions), normalized, filtered to the requested period, and
  sorted by day with a display-name tiebreak. The merge is a pure
  function of the seven sets and is safe to re-run at any frequency.

FAN-IN:
  Stream callbacks post (source, snapshot) messages to one channel; a
  single goroutine owns the sets and emits. No shared mutable closures.

FAILURE:
  A failing predicate stream contributes an empty set and is reported
  on the diagnostics callback; the other six continue independently.
  Cancellation tears down all seven subscriptions, is all-or-nothing,
  and is safe to call twice.
*/
package hours

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/timesheet-engine/docstore"
)

// =============================================================================
// SOURCES
// =============================================================================

type source int

const (
	srcByPeriod source = iota
	srcByPeriodAlt
	srcByDayRange
	srcByYearRange
	srcByDayTimestamp
	srcByCreatedAt
	srcAll

	numSources
)

var sourceNames = [numSources]string{
	"byPeriod", "byPeriodAlt", "byDayRange", "byYearRange",
	"byDayTimestamp", "byCreatedAt", "all",
}

func (s source) String() string { return sourceNames[s] }

// DiagnosticFunc receives out-of-band reconciliation failures: predicate
// streams the store rejected and records that could not be normalized.
type DiagnosticFunc func(stage string, err error)

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler merges the seven predicate streams into one view. Two
// Reconciler instances share no mutable state even when they observe
// the same underlying documents.
type Reconciler struct {
	Entries docstore.Collection

	// Diagnostics is optional; nil drops diagnostics silently.
	Diagnostics DiagnosticFunc
}

func NewReconciler(entries docstore.Collection) *Reconciler {
	return &Reconciler{Entries: entries}
}

func (r *Reconciler) report(stage string, err error) {
	if r.Diagnostics != nil {
		r.Diagnostics(stage, err)
	}
}

// periodBounds holds every boundary spelling the seven predicates need.
type periodBounds struct {
	padded       string // "2024-07"
	noPad        string // "2024-7"
	dayStart     string // "2024-07-01"
	dayEnd       string // "2024-08-01" (exclusive)
	yearStart    string // "2024-"
	yearEnd      string // "2025-" (exclusive)
	tsStart      time.Time
	tsEnd        time.Time // exclusive
}

func boundsFor(period string) (periodBounds, error) {
	padded, noPad, ok := periodVariants(period)
	if !ok {
		return periodBounds{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("%q is not a YYYY-MM period", period)}
	}
	start, err := time.ParseInLocation("2006-01", padded, time.Local)
	if err != nil {
		return periodBounds{}, &ValidationError{Field: "period", Reason: err.Error()}
	}
	end := start.AddDate(0, 1, 0)
	return periodBounds{
		padded:    padded,
		noPad:     noPad,
		dayStart:  start.Format(dayLayout),
		dayEnd:    end.Format(dayLayout),
		yearStart: fmt.Sprintf("%04d-", start.Year()),
		yearEnd:   fmt.Sprintf("%04d-", start.Year()+1),
		tsStart:   start,
		tsEnd:     end,
	}, nil
}

// buildQueries constructs the seven predicate queries. ownerID, when
// non-empty, layers an extra equality filter onto each of the seven.
// When the padded and unpadded period spellings coincide (months 10-12)
// the alt source is marked inactive rather than duplicating byPeriod.
func buildQueries(b periodBounds, ownerID string) (queries [numSources]docstore.Query, active [numSources]bool) {
	queries[srcByPeriod] = docstore.Where(FieldPeriod, docstore.OpEq, b.padded)
	queries[srcByPeriodAlt] = docstore.Where(FieldPeriod, docstore.OpEq, b.noPad)
	queries[srcByDayRange] = docstore.Where(FieldDay, docstore.OpGte, b.dayStart).
		And(FieldDay, docstore.OpLt, b.dayEnd)
	queries[srcByYearRange] = docstore.Where(FieldDay, docstore.OpGte, b.yearStart).
		And(FieldDay, docstore.OpLt, b.yearEnd)
	queries[srcByDayTimestamp] = docstore.Where(FieldDay, docstore.OpGte, b.tsStart).
		And(FieldDay, docstore.OpLt, b.tsEnd)
	queries[srcByCreatedAt] = docstore.Where(FieldCreatedAt, docstore.OpGte, b.tsStart).
		And(FieldCreatedAt, docstore.OpLt, b.tsEnd)
	queries[srcAll] = docstore.Query{}

	for i := range active {
		active[i] = true
	}
	if b.noPad == b.padded {
		active[srcByPeriodAlt] = false
	}
	if ownerID != "" {
		for i := range queries {
			queries[i] = queries[i].And(FieldOwnerID, docstore.OpEq, ownerID)
		}
	}
	return queries, active
}

// =============================================================================
// PURE MERGE
// =============================================================================

type sourceSets [numSources]map[string]docstore.Doc

// mergeView is the pure merge: precedence resolution, normalization,
// period filtering, and ordering. It reads the seven sets and nothing
// else, so it is safe to re-run at arbitrary frequency.
func mergeView(sets *sourceSets, period string, diag DiagnosticFunc) []TimeEntry {
	merged := make(map[string]docstore.Doc)
	// Least specific first; later (more specific) sources overwrite.
	for src := numSources - 1; src >= 0; src-- {
		for id, d := range sets[src] {
			merged[id] = d
		}
	}

	entries := make([]TimeEntry, 0, len(merged))
	for id, d := range merged {
		e, err := Normalize(id, d)
		if err != nil {
			if diag != nil {
				diag("normalize", err)
			}
			continue
		}
		if e.Period != period {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.OwnerDisplayName != b.OwnerDisplayName {
			return a.OwnerDisplayName < b.OwnerDisplayName
		}
		return a.DocID < b.DocID
	})
	return entries
}

func snapsToSet(snaps []docstore.Snapshot) map[string]docstore.Doc {
	set := make(map[string]docstore.Doc, len(snaps))
	for _, s := range snaps {
		set[s.ID] = s.Data
	}
	return set
}

// =============================================================================
// LIVE SUBSCRIPTIONS
// =============================================================================

type sourceUpdate struct {
	src   source
	snaps []docstore.Snapshot
	err   error
}

// SubscribePeriod delivers the reconciled view for a period to fn on
// every change from any predicate stream. The returned cancel tears
// down all seven subscriptions and is idempotent.
func (r *Reconciler) SubscribePeriod(period string, fn func([]TimeEntry)) (docstore.CancelFunc, error) {
	return r.subscribe(period, "", fn)
}

// SubscribeOwnerPeriod is the agent-scoped variant: the same seven
// predicates, each with an additional ownerId equality filter.
func (r *Reconciler) SubscribeOwnerPeriod(period, ownerID string, fn func([]TimeEntry)) (docstore.CancelFunc, error) {
	return r.subscribe(period, ownerID, fn)
}

func (r *Reconciler) subscribe(period, ownerID string, fn func([]TimeEntry)) (docstore.CancelFunc, error) {
	b, err := boundsFor(period)
	if err != nil {
		return nil, err
	}
	queries, active := buildQueries(b, ownerID)

	events := make(chan sourceUpdate)
	done := make(chan struct{})

	// Single consumer owning the seven last-known sets.
	go func() {
		var sets sourceSets
		for i := range sets {
			sets[i] = map[string]docstore.Doc{}
		}
		for {
			select {
			case <-done:
				return
			case u := <-events:
				if u.err != nil {
					r.report(u.src.String(), u.err)
					sets[u.src] = map[string]docstore.Doc{}
				} else {
					sets[u.src] = snapsToSet(u.snaps)
				}
				fn(mergeView(&sets, b.padded, r.report))
			}
		}
	}()

	post := func(u sourceUpdate) {
		select {
		case events <- u:
		case <-done:
		}
	}

	cancels := make([]docstore.CancelFunc, 0, numSources)
	for i := source(0); i < numSources; i++ {
		if !active[i] {
			continue
		}
		src := i
		cancel, err := r.Entries.Listen(queries[i],
			func(snaps []docstore.Snapshot) { post(sourceUpdate{src: src, snaps: snaps}) },
			func(err error) { post(sourceUpdate{src: src, err: err}) },
		)
		if err != nil {
			// A rejected predicate contributes nothing; the others
			// keep operating independently.
			r.report(src.String(), err)
			continue
		}
		cancels = append(cancels, cancel)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			for _, c := range cancels {
				c()
			}
		})
	}
	return unsubscribe, nil
}

// =============================================================================
// ONE-SHOT COLLECTION
// =============================================================================

// CollectPeriod runs the seven predicates once and returns the same
// reconciled view the live subscription would emit.
func (r *Reconciler) CollectPeriod(ctx context.Context, period string) ([]TimeEntry, error) {
	return r.collect(ctx, period, "")
}

// CollectOwnerPeriod is the agent-scoped one-shot variant.
func (r *Reconciler) CollectOwnerPeriod(ctx context.Context, period, ownerID string) ([]TimeEntry, error) {
	return r.collect(ctx, period, ownerID)
}

func (r *Reconciler) collect(ctx context.Context, period, ownerID string) ([]TimeEntry, error) {
	b, err := boundsFor(period)
	if err != nil {
		return nil, err
	}
	queries, active := buildQueries(b, ownerID)

	var sets sourceSets
	for i := source(0); i < numSources; i++ {
		sets[i] = map[string]docstore.Doc{}
		if !active[i] {
			continue
		}
		snaps, err := r.Entries.RunQuery(ctx, queries[i])
		if err != nil {
			r.report(i.String(), err)
			continue
		}
		sets[i] = snapsToSet(snaps)
	}
	return mergeView(&sets, b.padded, r.report), nil
}
