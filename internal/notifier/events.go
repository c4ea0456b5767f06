package notifier

import "time"

// Event types published by the execution engine.
const (
	TypeAPICall       = "api_call"
	TypeBalanceUpdate = "credit_balance_update"
)

// Event is one notification on a user or admin stream.
type Event struct {
	Type        string         `json:"type"`
	UserID      string         `json:"user_id"`
	ServiceSlug string         `json:"service_slug,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// NewAPICallEvent reports one completed (or failed) billable call.
func NewAPICallEvent(userID, slug, source string, success bool, creditsDeducted float64, at time.Time) Event {
	return Event{
		Type:        TypeAPICall,
		UserID:      userID,
		ServiceSlug: slug,
		At:          at,
		Data: map[string]any{
			"success":          success,
			"data_source":      source,
			"credits_deducted": creditsDeducted,
		},
	}
}

// NewBalanceUpdateEvent reports the balance left after a debit.
func NewBalanceUpdateEvent(userID string, before, after float64, at time.Time) Event {
	return Event{
		Type:   TypeBalanceUpdate,
		UserID: userID,
		At:     at,
		Data: map[string]any{
			"credits_before": before,
			"credits_after":  after,
		},
	}
}
