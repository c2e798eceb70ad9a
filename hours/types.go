/*
Package hours implements the time-entry reconciliation and review core.

PURPOSE:
  Agents declare their worked time once per calendar day. This package
  keeps exactly one canonical record per (agent, day) despite years of
  schema drift in how "period" and "day" were persisted, reconciles
  several overlapping live queries into one consistent ordered view, and
  drives the supervisor approval workflow (pending/approved/rejected
  with an orthogonal dispute flag), including atomic bulk transitions.

KEY CONCEPTS IN THIS FILE (types.go):
  - TimeEntry: one agent's declared working time for one calendar day
  - Window: a clock-time pair for a half-day ("HH:MM")
  - EntryID: the deterministic {ownerId}_{day} document identifier
  - Worked-hours math using decimal.Decimal (never float64)

DESIGN PRINCIPLES:
  1. Canonical period: period always equals the first 7 characters of
     the normalized day; the stored period field is a hint, never
     authoritative.
  2. Denormalized owner snapshot: ownerDisplayName/ownerEmail are copied
     at submission time, by intent. Do not re-derive them from a join.
  3. Upsert, not insert: resubmitting a day overwrites the previous
     declaration and resets the review state.

SEE ALSO:
  - normalize.go: Canonicalizes raw stored records
  - submit.go: Deterministic idempotent submission
  - reconcile.go: Multi-predicate live reconciliation
  - review.go: Approval state machine and bulk operator
*/
package hours

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/docstore"
)

// =============================================================================
// STATUS ENUMS
// =============================================================================

type EntryStatus string

const (
	StatusDraft     EntryStatus = "draft"
	StatusSubmitted EntryStatus = "submitted"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// =============================================================================
// PERSISTED FIELD NAMES
// =============================================================================

// Field names as persisted in the entries collection. Legacy documents
// may carry drifted values (unpadded periods, timestamp-typed days);
// the names themselves are stable.
const (
	FieldOwnerID          = "ownerId"
	FieldDay              = "day"
	FieldPeriod           = "period"
	FieldIncludeMorning   = "includeMorning"
	FieldMorningStart     = "morningStart"
	FieldMorningEnd       = "morningEnd"
	FieldIncludeAfternoon = "includeAfternoon"
	FieldAfternoonStart   = "afternoonStart"
	FieldAfternoonEnd     = "afternoonEnd"
	FieldProject          = "project"
	FieldNotes            = "notes"
	FieldBriefCount       = "briefCount"
	FieldStatus           = "status"
	FieldReviewStatus     = "reviewStatus"
	FieldHasDispute       = "hasDispute"
	FieldRejectionNote    = "rejectionNote"
	FieldDisputeMessage   = "disputeMessage"
	FieldSupervisorLabel  = "supervisorLabel"
	FieldOwnerDisplayName = "ownerDisplayName"
	FieldOwnerEmail       = "ownerEmail"
	FieldCreatedAt        = "createdAt"
)

// =============================================================================
// TIME ENTRY
// =============================================================================

// Window is a clock-time pair for one half-day, "HH:MM" 24h format.
type Window struct {
	Start string
	End   string
}

// Valid checks the HH:MM shape and start <= end.
func (w Window) Valid() error {
	start, err := parseClock(w.Start)
	if err != nil {
		return fmt.Errorf("invalid window start %q: %w", w.Start, err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return fmt.Errorf("invalid window end %q: %w", w.End, err)
	}
	if start > end {
		return fmt.Errorf("window start %s after end %s", w.Start, w.End)
	}
	return nil
}

// Minutes returns the window length in minutes.
func (w Window) Minutes() int {
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil || end < start {
		return 0
	}
	return end - start
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time out of range")
	}
	return h*60 + m, nil
}

// TimeEntry is the canonical, normalized record. Day is always
// YYYY-MM-DD and Period always equals Day[:7].
type TimeEntry struct {
	DocID   string
	OwnerID string
	Day     string
	Period  string

	Morning   *Window // nil = morning not worked
	Afternoon *Window // nil = afternoon not worked

	Project    string
	Notes      string
	BriefCount decimal.Decimal // fractional hours subtracted from worked time

	Status       EntryStatus
	ReviewStatus ReviewStatus
	HasDispute   bool

	RejectionNote  string
	DisputeMessage string

	SupervisorLabel string

	// Denormalized snapshot of the owner identity at submission time.
	OwnerDisplayName string
	OwnerEmail       string

	CreatedAt time.Time
}

// EntryID is the deterministic document identifier for an agent's day.
// External contract: resubmission must overwrite, never duplicate.
func EntryID(ownerID, day string) string {
	return ownerID + "_" + day
}

// WorkedHours returns the declared hours for the day: the sum of both
// half-day windows minus the brief-count adjustment, floored at zero.
func (e TimeEntry) WorkedHours() decimal.Decimal {
	minutes := 0
	if e.Morning != nil {
		minutes += e.Morning.Minutes()
	}
	if e.Afternoon != nil {
		minutes += e.Afternoon.Minutes()
	}
	h := decimal.NewFromInt(int64(minutes)).Div(decimal.NewFromInt(60))
	h = h.Sub(e.BriefCount)
	if h.IsNegative() {
		return decimal.Zero
	}
	return h
}

// PeriodTotal sums worked hours over a reconciled entry list.
func PeriodTotal(entries []TimeEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.WorkedHours())
	}
	return total
}

// OwnerTotals returns per-owner worked-hour sums, sorted by owner id.
type OwnerTotal struct {
	OwnerID          string
	OwnerDisplayName string
	Days             int
	Hours            decimal.Decimal
}

func OwnerTotals(entries []TimeEntry) []OwnerTotal {
	byOwner := make(map[string]*OwnerTotal)
	for _, e := range entries {
		t, ok := byOwner[e.OwnerID]
		if !ok {
			t = &OwnerTotal{OwnerID: e.OwnerID, OwnerDisplayName: e.OwnerDisplayName, Hours: decimal.Zero}
			byOwner[e.OwnerID] = t
		}
		t.Days++
		t.Hours = t.Hours.Add(e.WorkedHours())
	}
	out := make([]OwnerTotal, 0, len(byOwner))
	for _, t := range byOwner {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

// =============================================================================
// DOCUMENT CODEC
// =============================================================================

// toDoc flattens an entry into persisted fields. Nil windows are
// persisted as include=false with empty bounds, matching the legacy
// document shape.
func (e TimeEntry) toDoc() docstore.Doc {
	d := docstore.Doc{
		FieldOwnerID:          e.OwnerID,
		FieldDay:              e.Day,
		FieldPeriod:           e.Period,
		FieldIncludeMorning:   e.Morning != nil,
		FieldMorningStart:     "",
		FieldMorningEnd:       "",
		FieldIncludeAfternoon: e.Afternoon != nil,
		FieldAfternoonStart:   "",
		FieldAfternoonEnd:     "",
		FieldProject:          e.Project,
		FieldNotes:            e.Notes,
		FieldBriefCount:       e.BriefCount.InexactFloat64(),
		FieldStatus:           string(e.Status),
		FieldReviewStatus:     string(e.ReviewStatus),
		FieldHasDispute:       e.HasDispute,
		FieldSupervisorLabel:  e.SupervisorLabel,
		FieldOwnerDisplayName: e.OwnerDisplayName,
		FieldOwnerEmail:       e.OwnerEmail,
	}
	if e.Morning != nil {
		d[FieldMorningStart] = e.Morning.Start
		d[FieldMorningEnd] = e.Morning.End
	}
	if e.Afternoon != nil {
		d[FieldAfternoonStart] = e.Afternoon.Start
		d[FieldAfternoonEnd] = e.Afternoon.End
	}
	if !e.CreatedAt.IsZero() {
		d[FieldCreatedAt] = e.CreatedAt
	}
	return d
}

// Raw field readers tolerant of legacy documents.

func docString(d docstore.Doc, field string) string {
	if s, ok := d[field].(string); ok {
		return s
	}
	return ""
}

func docBool(d docstore.Doc, field string) bool {
	if b, ok := d[field].(bool); ok {
		return b
	}
	return false
}

func docFloat(d docstore.Doc, field string) float64 {
	switch n := d[field].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func docTime(d docstore.Doc, field string) (time.Time, bool) {
	t, ok := d[field].(time.Time)
	return t, ok
}
