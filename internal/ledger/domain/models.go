package domain

import (
	"context"
	"errors"
	"time"
)

// Subscription lifecycle states.
const (
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

// Typed debit rejections. The engine and the HTTP layer dispatch on these
// with errors.Is; none of them carry dynamic detail on purpose.
var (
	ErrInvalidAmount        = errors.New("invalid_debit_amount")
	ErrAccountNotFound      = errors.New("credit_account_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrSubscriptionExpired  = errors.New("subscription_expired")
	ErrServiceMismatch      = errors.New("subscription_service_mismatch")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
)

// CreditAccount is the per-user aggregate balance. Used is the single booked
// source of truth for spend; remaining is always derived.
type CreditAccount struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"size:64;uniqueIndex;not null"`
	TotalAllocated float64   `json:"total_allocated" gorm:"type:decimal(10,2);not null;default:0"`
	Used           float64   `json:"used" gorm:"type:decimal(10,2);not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (CreditAccount) TableName() string {
	return "credit_accounts"
}

func (a *CreditAccount) Remaining() float64 {
	return a.TotalAllocated - a.Used
}

// Subscription is a per-service credit sub-balance carved out of the user's
// account. A debit against a subscription also books against the account.
type Subscription struct {
	ID               int64      `json:"id" gorm:"primaryKey"`
	UserID           string     `json:"user_id" gorm:"size:64;index;not null"`
	ServiceID        int64      `json:"service_id" gorm:"index;not null"`
	Status           string     `json:"status" gorm:"size:16;not null;default:active"`
	CreditsAllocated float64    `json:"credits_allocated" gorm:"type:decimal(10,2);not null;default:0"`
	CreditsRemaining float64    `json:"credits_remaining" gorm:"type:decimal(10,2);not null;default:0"`
	StartedAt        time.Time  `json:"started_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// DebitRequest describes one billable deduction. SubscriptionID zero means
// the debit books against the account balance alone (pay as you go).
// ServiceID, when set, must match the subscription's bound service: a
// sub-balance carved out for one service never pays for another.
type DebitRequest struct {
	UserID         string
	SubscriptionID int64
	ServiceID      int64
	Amount         float64
}

// DebitReceipt reports the balance the debit was billed against, before and
// after. For subscription debits it is the subscription sub-balance.
type DebitReceipt struct {
	Amount        float64
	CreditsBefore float64
	CreditsAfter  float64
}

// Ledger is the atomic check-and-debit surface.
type Ledger interface {
	CheckAndDebit(ctx context.Context, req DebitRequest) (*DebitReceipt, error)
	Account(ctx context.Context, userID string) (*CreditAccount, error)
}
