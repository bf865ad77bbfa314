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
  - *Response: Complex response wrappers

MONEY FIELDS:
  All amounts cross the wire as decimal strings ("50.00", not 50.0).
  Floats are never used for value.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/order"
)

// =============================================================================
// ORDER TYPES
// =============================================================================

// CreateOrderRequest is the request to create an order. RedeemPoints is
// optional; when set, available points are consumed at creation time.
type CreateOrderRequest struct {
	ID           string `json:"id,omitempty"`
	CustomerID   string `json:"customer_id"`
	Subtotal     string `json:"subtotal"`
	AgentID      string `json:"agent_id,omitempty"`
	RedeemPoints string `json:"redeem_points,omitempty"`
}

// TransitionRequest moves an order to a new status.
type TransitionRequest struct {
	Status string `json:"status"`
}

// OrderDTO represents an order in API responses.
type OrderDTO struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id"`
	Subtotal       string            `json:"subtotal"`
	Status         string            `json:"status"`
	AgentID        string            `json:"agent_id,omitempty"`
	CommissionRate string            `json:"commission_rate"`
	Commission     string            `json:"commission_amount"`
	RewardPoints   string            `json:"reward_points"`
	RedeemedPoints string            `json:"redeemed_points"`
	Timeline       []TimelineNoteDTO `json:"timeline,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

// TimelineNoteDTO is one audit line of an order's history.
type TimelineNoteDTO struct {
	At      string `json:"at"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func toOrderDTO(o *order.Order) OrderDTO {
	dto := OrderDTO{
		ID:             string(o.ID),
		CustomerID:     string(o.CustomerID),
		Subtotal:       o.Subtotal.String(),
		Status:         string(o.Status),
		AgentID:        string(o.Commission.AgentID),
		CommissionRate: o.Commission.Rate.String(),
		Commission:     o.Commission.Amount.String(),
		RewardPoints:   o.Reward.Points.String(),
		RedeemedPoints: o.RedeemedPoints.String(),
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      o.UpdatedAt.Format(time.RFC3339),
	}
	for _, n := range o.Timeline {
		dto.Timeline = append(dto.Timeline, TimelineNoteDTO{
			At:      n.At.Format(time.RFC3339),
			Status:  string(n.Status),
			Message: n.Message,
		})
	}
	return dto
}

// =============================================================================
// BALANCE AND STATEMENT TYPES
// =============================================================================

// BalanceDTO is the two-part balance of a subject in one currency.
type BalanceDTO struct {
	SubjectID      string `json:"subject_id"`
	Currency       string `json:"currency"`
	Locked         string `json:"locked"`
	Available      string `json:"available"`
	LifetimeEarned string `json:"lifetime_earned"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		SubjectID:      string(b.SubjectID),
		Currency:       string(b.Currency),
		Locked:         b.Locked.Value.String(),
		Available:      b.Available.Value.String(),
		LifetimeEarned: b.LifetimeEarned.Value.String(),
	}
}

// EntryDTO is one ledger entry in a statement.
type EntryDTO struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	OrderID   string `json:"order_id,omitempty"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Note      string `json:"note,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:        string(e.ID),
		SubjectID: string(e.SubjectID),
		OrderID:   string(e.OrderID),
		Kind:      string(e.Kind),
		Amount:    e.Amount.Value.String(),
		Currency:  string(e.Amount.Currency),
		Note:      e.Note,
		Status:    string(e.Status),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// StatementDTO is the full statement view: balance plus entry history.
type StatementDTO struct {
	Balance BalanceDTO `json:"balance"`
	Entries []EntryDTO `json:"entries"`
}

// AuditDTO reports whether a subject's cached balance matches the sums
// over its entry stream.
type AuditDTO struct {
	SubjectID       string `json:"subject_id"`
	Currency        string `json:"currency"`
	CachedLocked    string `json:"cached_locked"`
	CachedAvailable string `json:"cached_available"`
	StreamLocked    string `json:"stream_locked"`
	StreamAvailable string `json:"stream_available"`
	Consistent      bool   `json:"consistent"`
}

// =============================================================================
// REDEMPTION AND PAYOUT TYPES
// =============================================================================

// RedeemRequest spends available points against a new order.
type RedeemRequest struct {
	OrderID  string `json:"order_id"`
	Points   string `json:"points"`
	Subtotal string `json:"subtotal"`
}

// RedeemResponse reports the points actually consumed, which may be less
// than requested.
type RedeemResponse struct {
	Requested string     `json:"requested"`
	Used      string     `json:"used"`
	Balance   BalanceDTO `json:"balance"`
}

// PayoutRequest withdraws available commission for an agent.
type PayoutRequest struct {
	AgentID string `json:"agent_id"`
	Amount  string `json:"amount"`
}

// PayoutResponse returns the pending payout entry.
type PayoutResponse struct {
	EntryID string `json:"entry_id"`
	Status  string `json:"status"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// RateBandDTO is one tier of the commission rate schedule.
type RateBandDTO struct {
	MinSubtotal string `json:"min_subtotal"`
	Rate        string `json:"rate"`
}

// SweepResultDTO reports one on-demand maturity sweep over a subject.
type SweepResultDTO struct {
	SubjectID string `json:"subject_id"`
	Matured   string `json:"matured"`
	Entries   int    `json:"entries"`
	Clamped   bool   `json:"clamped"`
}

// SweepRunDTO is a persisted sweep audit record.
type SweepRunDTO struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subject_id"`
	Currency    string `json:"currency"`
	Matured     string `json:"matured"`
	EntryCount  int    `json:"entry_count"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
