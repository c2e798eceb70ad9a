/*
submit.go - Deterministic, idempotent agent submission

PURPOSE:
  Turns an agent's daily declaration into a single merge-upsert against
  the deterministic document id {ownerId}_{day}. Submitting the same
  day twice overwrites the first declaration; a new submission always
  resets the review to pending and clears any prior rejection note.

CONTRACT:
  - day must be a valid calendar date (re-padded to YYYY-MM-DD)
  - windows, if present, must satisfy start <= end
  - period is always computed from day; caller-supplied periods are
    never trusted
  - the owner identity snapshot is denormalized into the document at
    submission time, by intent
  - nothing is authoritative until the store acknowledges the write;
    failures surface to the caller, no local state is kept
*/
package hours

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/docstore"
)

// Declaration is the agent-side input for one worked day.
type Declaration struct {
	Day       string // any Y-M-D spelling; canonicalized before writing
	Morning   *Window
	Afternoon *Window

	Project    string
	Notes      string
	BriefCount decimal.Decimal

	SupervisorLabel string

	// HasDispute carries an already-raised dispute through a
	// resubmission. Left false, a resubmission clears the flag.
	HasDispute bool
}

// OwnerSnapshot is the point-in-time identity of the submitting agent.
type OwnerSnapshot struct {
	DisplayName string
	Email       string
}

// SubmissionService writes agent declarations.
type SubmissionService struct {
	Entries docstore.Collection

	// Now is the write-timestamp source; defaults to time.Now.
	Now func() time.Time
}

func NewSubmissionService(entries docstore.Collection) *SubmissionService {
	return &SubmissionService{Entries: entries, Now: time.Now}
}

// Submit validates the declaration and upserts the entry, returning the
// deterministic document id. A second submission for the same
// (ownerID, day) overwrites the first: status returns to submitted,
// reviewStatus to pending, and any prior rejection note is cleared.
func (s *SubmissionService) Submit(ctx context.Context, ownerID string, d Declaration, owner OwnerSnapshot) (string, error) {
	if ownerID == "" {
		return "", &ValidationError{Field: "ownerId", Reason: "must not be empty"}
	}
	day, ok := CanonicalDay(d.Day)
	if !ok {
		return "", &ValidationError{Field: "day", Reason: fmt.Sprintf("%q is not a valid calendar date", d.Day)}
	}
	if d.Morning != nil {
		if err := d.Morning.Valid(); err != nil {
			return "", &ValidationError{Field: "morningWindow", Reason: err.Error()}
		}
	}
	if d.Afternoon != nil {
		if err := d.Afternoon.Valid(); err != nil {
			return "", &ValidationError{Field: "afternoonWindow", Reason: err.Error()}
		}
	}
	if d.BriefCount.IsNegative() {
		return "", &ValidationError{Field: "briefCount", Reason: "must not be negative"}
	}

	entry := TimeEntry{
		OwnerID:          ownerID,
		Day:              day,
		Period:           day[:7],
		Morning:          d.Morning,
		Afternoon:        d.Afternoon,
		Project:          d.Project,
		Notes:            d.Notes,
		BriefCount:       d.BriefCount,
		Status:           StatusSubmitted,
		ReviewStatus:     ReviewPending,
		HasDispute:       d.HasDispute,
		SupervisorLabel:  d.SupervisorLabel,
		OwnerDisplayName: owner.DisplayName,
		OwnerEmail:       owner.Email,
		CreatedAt:        s.now(),
	}

	fields := entry.toDoc()
	// A fresh submission always clears a prior rejection.
	fields[FieldRejectionNote] = nil

	id := EntryID(ownerID, day)
	if err := s.Entries.Set(ctx, id, fields); err != nil {
		return "", fmt.Errorf("submit entry %s: %w", id, err)
	}
	return id, nil
}

func (s *SubmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
