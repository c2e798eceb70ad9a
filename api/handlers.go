/*
handlers.go - HTTP API handlers for the time-entry system

PURPOSE:
  Exposes the reconciliation and review core via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Agent:
    POST   /api/agents/{ownerID}/entries          Submit a daily declaration
    GET    /api/agents/{ownerID}/entries?period=  Agent-scoped reconciled list

  Review:
    GET    /api/entries?period=                   Reconciled approval list
    GET    /api/entries/stream?period=            Live reconciled stream (SSE)
    GET    /api/entries/summary?period=           Worked-hours rollup
    POST   /api/entries/{id}/approve
    POST   /api/entries/{id}/reject               {note}
    POST   /api/entries/{id}/reset
    POST   /api/entries/{id}/dispute              {message}
    PATCH  /api/entries/{id}                      Supervisor field edit
    DELETE /api/entries/{id}
    POST   /api/entries/bulk                      {ids, action, note?}

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (submitter, reconciler, review service)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, oversized bulk batches
  - 404: Entry not found
  - 500: Store errors

BULK POLICY:
  Bulk transitions are restricted to the pending working set (entries
  with reviewStatus != approved, or a raised dispute). That restriction
  is this layer's policy; the state machine does not enforce it.

SECURITY NOTE:
  No authentication or authorization; role resolution is an external
  collaborator and out of scope here.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/timesheet-engine/docstore"
	"github.com/warp/timesheet-engine/hours"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Entries     docstore.Collection
	Submissions *hours.SubmissionService
	Review      *hours.ReviewService
	Reconciler  *hours.Reconciler
}

// NewHandler wires the domain services over one entries collection.
func NewHandler(entries docstore.Collection) *Handler {
	return &Handler{
		Entries:     entries,
		Submissions: hours.NewSubmissionService(entries),
		Review:      hours.NewReviewService(entries),
		Reconciler:  hours.NewReconciler(entries),
	}
}

// =============================================================================
// AGENT ENDPOINTS
// =============================================================================

// SubmitEntry handles POST /api/agents/{ownerID}/entries
func (h *Handler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	var req SubmitEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Submissions.Submit(r.Context(), ownerID, req.declaration(), hours.OwnerSnapshot{
		DisplayName: req.OwnerDisplayName,
		Email:       req.OwnerEmail,
	})
	if err != nil {
		if errors.Is(err, hours.ErrInvalidDeclaration) {
			writeError(w, http.StatusBadRequest, "Invalid declaration", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to submit entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitEntryResponse{ID: id})
}

// ListOwnerEntries handles GET /api/agents/{ownerID}/entries?period=YYYY-MM
func (h *Handler) ListOwnerEntries(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	period := r.URL.Query().Get("period")

	entries, err := h.Reconciler.CollectOwnerPeriod(r.Context(), period, ownerID)
	if err != nil {
		if errors.Is(err, hours.ErrInvalidDeclaration) {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTOs(entries))
}

// =============================================================================
// REVIEW ENDPOINTS
// =============================================================================

// ListEntries handles GET /api/entries?period=YYYY-MM
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")

	entries, err := h.Reconciler.CollectPeriod(r.Context(), period)
	if err != nil {
		if errors.Is(err, hours.ErrInvalidDeclaration) {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTOs(entries))
}

// StreamEntries handles GET /api/entries/stream?period=YYYY-MM
// Server-Sent Events: one "entries" event per reconciled emission.
func (h *Handler) StreamEntries(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	// Latest-wins buffer: a slow client never blocks the reconciler.
	updates := make(chan []hours.TimeEntry, 1)
	cancel, err := h.Reconciler.SubscribePeriod(period, func(entries []hours.TimeEntry) {
		select {
		case updates <- entries:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- entries
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case entries := <-updates:
			payload, err := json.Marshal(entryDTOs(entries))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: entries\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// PeriodSummary handles GET /api/entries/summary?period=YYYY-MM
func (h *Handler) PeriodSummary(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")

	entries, err := h.Reconciler.CollectPeriod(r.Context(), period)
	if err != nil {
		if errors.Is(err, hours.ErrInvalidDeclaration) {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}

	totals := hours.OwnerTotals(entries)
	owners := make([]OwnerTotalDTO, 0, len(totals))
	for _, t := range totals {
		owners = append(owners, OwnerTotalDTO{
			OwnerID:          t.OwnerID,
			OwnerDisplayName: t.OwnerDisplayName,
			Days:             t.Days,
			Hours:            t.Hours.String(),
		})
	}
	writeJSON(w, http.StatusOK, PeriodSummaryDTO{
		Period:     period,
		Entries:    len(entries),
		TotalHours: hours.PeriodTotal(entries).String(),
		Owners:     owners,
	})
}

// ApproveEntry handles POST /api/entries/{id}/approve
func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Review.Approve(r.Context(), id); err != nil {
		writeReviewError(w, "Failed to approve entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "approved"})
}

// RejectEntry handles POST /api/entries/{id}/reject
func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RejectEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Review.Reject(r.Context(), id, req.Note); err != nil {
		if errors.Is(err, hours.ErrEmptyNote) {
			writeError(w, http.StatusBadRequest, "A rejection note is required", err)
			return
		}
		writeReviewError(w, "Failed to reject entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rejected", "note": req.Note})
}

// ResetEntry handles POST /api/entries/{id}/reset
func (h *Handler) ResetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Review.ResetToDraft(r.Context(), id); err != nil {
		writeReviewError(w, "Failed to reset entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
}

// DisputeEntry handles POST /api/entries/{id}/dispute
func (h *Handler) DisputeEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DisputeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Review.Dispute(r.Context(), id, req.Message); err != nil {
		if errors.Is(err, hours.ErrEmptyDisputeMessage) {
			writeError(w, http.StatusBadRequest, "A dispute message is required", err)
			return
		}
		writeReviewError(w, "Failed to record dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "disputed"})
}

// EditEntry handles PATCH /api/entries/{id}
func (h *Handler) EditEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EditEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Review.EditFields(r.Context(), id, req.patch()); err != nil {
		if errors.Is(err, hours.ErrEmptyPatch) || errors.Is(err, hours.ErrInvalidDeclaration) {
			writeError(w, http.StatusBadRequest, "Invalid field patch", err)
			return
		}
		writeReviewError(w, "Failed to edit entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

// DeleteEntry handles DELETE /api/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Review.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// BulkTransition handles POST /api/entries/bulk
func (h *Handler) BulkTransition(w http.ResponseWriter, r *http.Request) {
	var req BulkTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var transition hours.Transition
	switch req.Action {
	case "approve":
		transition = hours.TransitionApprove()
	case "reset":
		transition = hours.TransitionReset()
	case "reject":
		t, err := hours.TransitionReject(req.Note)
		if err != nil {
			writeError(w, http.StatusBadRequest, "A rejection note is required", err)
			return
		}
		transition = t
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown action %q", req.Action), nil)
		return
	}

	applied, skipped, err := h.filterWorkingSet(r, req.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load entries", err)
		return
	}

	if err := h.Review.BulkTransition(r.Context(), applied, transition); err != nil {
		if errors.Is(err, hours.ErrBatchTooLarge) {
			writeError(w, http.StatusBadRequest, "Too many entries in one batch", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Bulk transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, BulkTransitionResponse{
		Action:  req.Action,
		Applied: applied,
		Skipped: skipped,
	})
}

// filterWorkingSet keeps only ids in the pending working set: entries
// whose reviewStatus is not approved, or with a raised dispute.
func (h *Handler) filterWorkingSet(r *http.Request, ids []string) (applied, skipped []string, err error) {
	for _, id := range ids {
		doc, err := h.Entries.Get(r.Context(), id)
		if docstore.IsNotFound(err) {
			skipped = append(skipped, id)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		status, _ := doc[hours.FieldReviewStatus].(string)
		disputed, _ := doc[hours.FieldHasDispute].(bool)
		if status == string(hours.ReviewApproved) && !disputed {
			skipped = append(skipped, id)
			continue
		}
		applied = append(applied, id)
	}
	return applied, skipped, nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeReviewError(w http.ResponseWriter, message string, err error) {
	if docstore.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Entry not found", err)
		return
	}
	writeError(w, http.StatusInternalServerError, message, err)
}
