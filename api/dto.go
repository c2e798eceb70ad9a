/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - hours/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/hours"
)

// =============================================================================
// ENTRY TYPES
// =============================================================================

// WindowDTO is one half-day clock-time pair.
type WindowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// EntryDTO is a normalized time entry in API responses.
type EntryDTO struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId"`
	Day              string     `json:"day"`
	Period           string     `json:"period"`
	Morning          *WindowDTO `json:"morningWindow,omitempty"`
	Afternoon        *WindowDTO `json:"afternoonWindow,omitempty"`
	Project          string     `json:"project"`
	Notes            string     `json:"notes,omitempty"`
	BriefCount       string     `json:"briefCount"`
	Status           string     `json:"status"`
	ReviewStatus     string     `json:"reviewStatus"`
	HasDispute       bool       `json:"hasDispute"`
	RejectionNote    string     `json:"rejectionNote,omitempty"`
	DisputeMessage   string     `json:"disputeMessage,omitempty"`
	SupervisorLabel  string     `json:"supervisorLabel,omitempty"`
	OwnerDisplayName string     `json:"ownerDisplayName,omitempty"`
	OwnerEmail       string     `json:"ownerEmail,omitempty"`
	WorkedHours      string     `json:"workedHours"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
}

func entryDTO(e hours.TimeEntry) EntryDTO {
	dto := EntryDTO{
		ID:               e.DocID,
		OwnerID:          e.OwnerID,
		Day:              e.Day,
		Period:           e.Period,
		Project:          e.Project,
		Notes:            e.Notes,
		BriefCount:       e.BriefCount.String(),
		Status:           string(e.Status),
		ReviewStatus:     string(e.ReviewStatus),
		HasDispute:       e.HasDispute,
		RejectionNote:    e.RejectionNote,
		DisputeMessage:   e.DisputeMessage,
		SupervisorLabel:  e.SupervisorLabel,
		OwnerDisplayName: e.OwnerDisplayName,
		OwnerEmail:       e.OwnerEmail,
		WorkedHours:      e.WorkedHours().String(),
	}
	if e.Morning != nil {
		dto.Morning = &WindowDTO{Start: e.Morning.Start, End: e.Morning.End}
	}
	if e.Afternoon != nil {
		dto.Afternoon = &WindowDTO{Start: e.Afternoon.Start, End: e.Afternoon.End}
	}
	if !e.CreatedAt.IsZero() {
		t := e.CreatedAt
		dto.CreatedAt = &t
	}
	return dto
}

func entryDTOs(entries []hours.TimeEntry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, entryDTO(e))
	}
	return dtos
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitEntryRequest is an agent's daily declaration.
type SubmitEntryRequest struct {
	Day             string     `json:"day"`
	Morning         *WindowDTO `json:"morningWindow,omitempty"`
	Afternoon       *WindowDTO `json:"afternoonWindow,omitempty"`
	Project         string     `json:"project"`
	Notes           string     `json:"notes,omitempty"`
	BriefCount      float64    `json:"briefCount,omitempty"`
	SupervisorLabel string     `json:"supervisorLabel,omitempty"`
	HasDispute      bool       `json:"hasDispute,omitempty"`

	OwnerDisplayName string `json:"ownerDisplayName,omitempty"`
	OwnerEmail       string `json:"ownerEmail,omitempty"`
}

func (r SubmitEntryRequest) declaration() hours.Declaration {
	d := hours.Declaration{
		Day:             r.Day,
		Project:         r.Project,
		Notes:           r.Notes,
		BriefCount:      decimal.NewFromFloat(r.BriefCount),
		SupervisorLabel: r.SupervisorLabel,
		HasDispute:      r.HasDispute,
	}
	if r.Morning != nil {
		d.Morning = &hours.Window{Start: r.Morning.Start, End: r.Morning.End}
	}
	if r.Afternoon != nil {
		d.Afternoon = &hours.Window{Start: r.Afternoon.Start, End: r.Afternoon.End}
	}
	return d
}

// RejectEntryRequest carries the mandatory rejection note.
type RejectEntryRequest struct {
	Note string `json:"note"`
}

// DisputeEntryRequest carries the agent's reclamation message.
type DisputeEntryRequest struct {
	Message string `json:"message"`
}

// EditEntryRequest is a supervisor field overwrite. Absent fields are
// left untouched; clearMorning/clearAfternoon remove a window.
type EditEntryRequest struct {
	Morning        *WindowDTO `json:"morningWindow,omitempty"`
	ClearMorning   bool       `json:"clearMorning,omitempty"`
	Afternoon      *WindowDTO `json:"afternoonWindow,omitempty"`
	ClearAfternoon bool       `json:"clearAfternoon,omitempty"`

	Project         *string  `json:"project,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
	BriefCount      *float64 `json:"briefCount,omitempty"`
	SupervisorLabel *string  `json:"supervisorLabel,omitempty"`
}

func (r EditEntryRequest) patch() hours.FieldPatch {
	p := hours.FieldPatch{
		ClearMorning:    r.ClearMorning,
		ClearAfternoon:  r.ClearAfternoon,
		Project:         r.Project,
		Notes:           r.Notes,
		SupervisorLabel: r.SupervisorLabel,
	}
	if r.Morning != nil {
		p.Morning = &hours.Window{Start: r.Morning.Start, End: r.Morning.End}
	}
	if r.Afternoon != nil {
		p.Afternoon = &hours.Window{Start: r.Afternoon.Start, End: r.Afternoon.End}
	}
	if r.BriefCount != nil {
		bc := decimal.NewFromFloat(*r.BriefCount)
		p.BriefCount = &bc
	}
	return p
}

// BulkTransitionRequest applies one action to many entries atomically.
type BulkTransitionRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"` // approve | reject | reset
	Note   string   `json:"note,omitempty"`
}

// BulkTransitionResponse reports what the batch covered.
type BulkTransitionResponse struct {
	Action  string   `json:"action"`
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped,omitempty"` // outside the pending working set
}

// =============================================================================
// SUMMARY TYPES
// =============================================================================

// OwnerTotalDTO is one agent's worked-hour rollup for a period.
type OwnerTotalDTO struct {
	OwnerID          string `json:"ownerId"`
	OwnerDisplayName string `json:"ownerDisplayName,omitempty"`
	Days             int    `json:"days"`
	Hours            string `json:"hours"`
}

// PeriodSummaryDTO is the read-only worked-hours derivation for a period.
type PeriodSummaryDTO struct {
	Period     string          `json:"period"`
	Entries    int             `json:"entries"`
	TotalHours string          `json:"totalHours"`
	Owners     []OwnerTotalDTO `json:"owners"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SubmitEntryResponse returns the deterministic entry id.
type SubmitEntryResponse struct {
	ID string `json:"id"`
}
