package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	ProfileImage    string    `json:"profile_image"`
	AvailableCredit int       `json:"available_credit"`
	TotalCredit     int       `json:"total_credit"`
	Role            Role      `json:"role"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	PurchaseStatusPaid               = "paid"
	PurchaseStatusUnrecognizedAmount = "unrecognized_amount"
)

// Purchase is one completed checkout, unique per payment session.
type Purchase struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	PlanID     *int64    `json:"plan_id,omitempty"`
	Amount     int       `json:"amount"`
	Currency   string    `json:"currency"`
	Credits    int       `json:"credits"`
	Status     string    `json:"status"`
	RawPayload string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Plan struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"price_minor_units"`
	Credits         int       `json:"credits"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Price renders the plan price in major units, e.g. 900 -> "9.00".
func (p Plan) Price() string {
	return decimal.New(int64(p.PriceMinorUnits), -2).StringFixed(2)
}

// MarshalJSON adds the formatted price next to the stored fields.
func (p Plan) MarshalJSON() ([]byte, error) {
	type plan Plan
	return json.Marshal(struct {
		plan
		Price string `json:"price"`
	}{plan: plan(p), Price: p.Price()})
}

type GenerationStatus string

const (
	GenerationSucceeded GenerationStatus = "succeeded"
	GenerationFailed    GenerationStatus = "failed"
)

type GenerationLog struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Workflow  string           `json:"workflow"`
	Cost      int              `json:"cost"`
	Status    GenerationStatus `json:"status"`
	RequestID string           `json:"request_id,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type ArchiveStatus string

const (
	ArchivePending ArchiveStatus = "pending"
	ArchiveRunning ArchiveStatus = "running"
	ArchiveDone    ArchiveStatus = "done"
	ArchiveFailed  ArchiveStatus = "failed"
)

type ArchiveJob struct {
	ID           int64         `json:"id"`
	UserID       string        `json:"user_id"`
	GenerationID int64         `json:"generation_id"`
	SourceURL    string        `json:"source_url"`
	StoredURL    string        `json:"stored_url,omitempty"`
	Status       ArchiveStatus `json:"status"`
	Attempts     int           `json:"attempts"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"created_at"`
}
