package models

import (
	"encoding/json"
	"time"
)

// Audit actions recorded in subscription history.
const (
	HistoryActionCreated   = "created"
	HistoryActionUpgraded  = "upgraded"
	HistoryActionCancelled = "cancelled"
	HistoryActionRenewed   = "renewed"
	HistoryActionExpired   = "expired"
)

// HistoryMetadata is the typed payload stored with a history entry. Only the
// fields relevant to the action are set; the struct replaces the free-form
// metadata blobs the gateway events carry so malformed audit data is rejected
// at the boundary instead of silently stored.
type HistoryMetadata struct {
	Reason               string `json:"reason,omitempty"`
	BillingCycle         string `json:"billing_cycle,omitempty"`
	StripeSubscriptionID string `json:"stripe_subscription_id,omitempty"`
	StripeEventID        string `json:"stripe_event_id,omitempty"`
	AmountCents          int64  `json:"amount_cents,omitempty"`
}

// SubscriptionHistory is an append-only audit trail of subscription
// transitions. Rows are never mutated or deleted.
type SubscriptionHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	Action         string    `gorm:"type:varchar(20);not null;index" json:"action"`
	OldPlanID      *uint     `gorm:"default:null" json:"old_plan_id,omitempty"`
	NewPlanID      *uint     `gorm:"default:null" json:"new_plan_id,omitempty"`
	MetadataJSON   string    `gorm:"type:text" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// SetMetadata serializes the typed metadata payload onto the row.
func (h *SubscriptionHistory) SetMetadata(m HistoryMetadata) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	h.MetadataJSON = string(b)
	return nil
}

// Metadata deserializes the stored payload; an empty column yields the zero value.
func (h *SubscriptionHistory) Metadata() (HistoryMetadata, error) {
	var m HistoryMetadata
	if h.MetadataJSON == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(h.MetadataJSON), &m)
	return m, err
}
