/*
review.go - Approval state machine and bulk operator

PURPOSE:
  Governs the pending/approved/rejected lifecycle of an entry plus the
  orthogonal dispute flag, and applies one transition uniformly to many
  entries as a single atomic batch.

TRANSITIONS:
  approve   reviewStatus=approved, dispute cleared, note cleared;
            valid from any state (re-approval is idempotent)
  reject    requires a note; reviewStatus=rejected, status=draft
            (kicks the entry back to the agent), dispute raised
  reset     back to pending/draft, dispute and note cleared
  dispute   agent-side reclamation after a rejection; flag and message
            only, review status untouched
  edit      supervisor overwrite of schedule/project/brief/label
            fields; never changes reviewStatus
  delete    terminal removal

BULK:
  BulkTransition deduplicates the id list, rejects requests above the
  store's batch-operation ceiling, and commits via one atomic batch of
  update writes: a vanished document aborts the whole batch, so either
  every entry moves or none does. Restricting bulk actions to the
  pending working set is the caller's policy, not enforced here.
*/
package hours

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/docstore"
)

// DefaultMaxBatch is the store's batch-write operation ceiling.
const DefaultMaxBatch = 500

// ReviewService mutates entry review state.
type ReviewService struct {
	Entries docstore.Collection

	// MaxBatch caps one bulk transition; 0 means DefaultMaxBatch.
	MaxBatch int
}

func NewReviewService(entries docstore.Collection) *ReviewService {
	return &ReviewService{Entries: entries}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition is one uniform state change, applicable to a single entry
// or to a bulk batch.
type Transition struct {
	name   string
	fields docstore.Doc
}

func (t Transition) Name() string { return t.name }

func TransitionApprove() Transition {
	return Transition{name: "approve", fields: docstore.Doc{
		FieldReviewStatus:  string(ReviewApproved),
		FieldHasDispute:    false,
		FieldRejectionNote: nil,
	}}
}

func TransitionReject(note string) (Transition, error) {
	if note == "" {
		return Transition{}, ErrEmptyNote
	}
	return Transition{name: "reject", fields: docstore.Doc{
		FieldReviewStatus:  string(ReviewRejected),
		FieldStatus:        string(StatusDraft),
		FieldHasDispute:    true,
		FieldRejectionNote: note,
	}}, nil
}

func TransitionReset() Transition {
	return Transition{name: "reset", fields: docstore.Doc{
		FieldReviewStatus:  string(ReviewPending),
		FieldStatus:        string(StatusDraft),
		FieldHasDispute:    false,
		FieldRejectionNote: nil,
	}}
}

// =============================================================================
// SINGLE-ENTRY OPERATIONS
// =============================================================================

// Approve marks the entry approved and clears dispute state. Valid from
// any state; re-approving is a no-op beyond the write itself.
func (s *ReviewService) Approve(ctx context.Context, entryID string) error {
	return s.apply(ctx, entryID, TransitionApprove())
}

// Reject requires a non-empty note, kicks the entry back to draft, and
// raises the dispute flag so the agent sees it in their working set.
func (s *ReviewService) Reject(ctx context.Context, entryID, note string) error {
	t, err := TransitionReject(note)
	if err != nil {
		return err
	}
	return s.apply(ctx, entryID, t)
}

// ResetToDraft walks an entry back to pending/draft, clearing dispute
// and note. Used to undo an accidental bulk action.
func (s *ReviewService) ResetToDraft(ctx context.Context, entryID string) error {
	return s.apply(ctx, entryID, TransitionReset())
}

// Dispute records the agent's reclamation after a rejection. It sets
// the flag and message only; reviewStatus is independent and untouched.
func (s *ReviewService) Dispute(ctx context.Context, entryID, message string) error {
	if message == "" {
		return ErrEmptyDisputeMessage
	}
	return s.Entries.Update(ctx, entryID, docstore.Doc{
		FieldHasDispute:     true,
		FieldDisputeMessage: message,
	})
}

// Delete permanently removes the entry. Terminal.
func (s *ReviewService) Delete(ctx context.Context, entryID string) error {
	return s.Entries.Delete(ctx, entryID)
}

func (s *ReviewService) apply(ctx context.Context, entryID string, t Transition) error {
	if err := s.Entries.Update(ctx, entryID, t.fields); err != nil {
		return fmt.Errorf("%s entry %s: %w", t.name, entryID, err)
	}
	return nil
}

// =============================================================================
// FIELD EDITS
// =============================================================================

// FieldPatch is a supervisor/administrator overwrite of schedule,
// project, brief, and label fields. Nil pointers leave fields alone;
// the Clear flags remove a half-day window entirely.
type FieldPatch struct {
	Morning        *Window
	ClearMorning   bool
	Afternoon      *Window
	ClearAfternoon bool

	Project         *string
	Notes           *string
	BriefCount      *decimal.Decimal
	SupervisorLabel *string
}

func (p FieldPatch) fields() (docstore.Doc, error) {
	d := docstore.Doc{}
	switch {
	case p.ClearMorning:
		d[FieldIncludeMorning] = false
		d[FieldMorningStart] = ""
		d[FieldMorningEnd] = ""
	case p.Morning != nil:
		if err := p.Morning.Valid(); err != nil {
			return nil, &ValidationError{Field: "morningWindow", Reason: err.Error()}
		}
		d[FieldIncludeMorning] = true
		d[FieldMorningStart] = p.Morning.Start
		d[FieldMorningEnd] = p.Morning.End
	}
	switch {
	case p.ClearAfternoon:
		d[FieldIncludeAfternoon] = false
		d[FieldAfternoonStart] = ""
		d[FieldAfternoonEnd] = ""
	case p.Afternoon != nil:
		if err := p.Afternoon.Valid(); err != nil {
			return nil, &ValidationError{Field: "afternoonWindow", Reason: err.Error()}
		}
		d[FieldIncludeAfternoon] = true
		d[FieldAfternoonStart] = p.Afternoon.Start
		d[FieldAfternoonEnd] = p.Afternoon.End
	}
	if p.Project != nil {
		d[FieldProject] = *p.Project
	}
	if p.Notes != nil {
		d[FieldNotes] = *p.Notes
	}
	if p.BriefCount != nil {
		if p.BriefCount.IsNegative() {
			return nil, &ValidationError{Field: "briefCount", Reason: "must not be negative"}
		}
		d[FieldBriefCount] = p.BriefCount.InexactFloat64()
	}
	if p.SupervisorLabel != nil {
		d[FieldSupervisorLabel] = *p.SupervisorLabel
	}
	if len(d) == 0 {
		return nil, ErrEmptyPatch
	}
	return d, nil
}

// EditFields overwrites the patched fields regardless of review state.
// It never touches reviewStatus.
func (s *ReviewService) EditFields(ctx context.Context, entryID string, patch FieldPatch) error {
	fields, err := patch.fields()
	if err != nil {
		return err
	}
	return s.Entries.Update(ctx, entryID, fields)
}

// =============================================================================
// BULK OPERATOR
// =============================================================================

// BulkTransition applies one transition to every listed entry as a
// single atomic batch: either all entries move or none do. The id list
// is deduplicated first; an empty list is a no-op.
func (s *ReviewService) BulkTransition(ctx context.Context, entryIDs []string, t Transition) error {
	ids := dedupe(entryIDs)
	if len(ids) == 0 {
		return nil
	}
	ceiling := s.MaxBatch
	if ceiling <= 0 {
		ceiling = DefaultMaxBatch
	}
	if len(ids) > ceiling {
		return &BatchSizeError{Requested: len(ids), Ceiling: ceiling}
	}

	writes := make([]docstore.Write, 0, len(ids))
	for _, id := range ids {
		writes = append(writes, docstore.Write{Kind: docstore.WriteUpdate, ID: id, Fields: t.fields})
	}
	if err := s.Entries.Apply(ctx, writes); err != nil {
		return fmt.Errorf("bulk %s of %d entries: %w", t.name, len(ids), err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
