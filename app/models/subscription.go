package models

import "time"

// Org-level subscription statuses, mirroring the gateway vocabulary.
const (
	SubscriptionActive     = "active"
	SubscriptionTrialing   = "trialing"
	SubscriptionPastDue    = "past_due"
	SubscriptionCancelled  = "cancelled"
	SubscriptionExpired    = "expired"
	SubscriptionIncomplete = "incomplete"
	SubscriptionPaused     = "paused"
)

// Subscription is the organization-level subscription record. One row per
// organization, upserted by OrgID so webhook replays converge instead of
// duplicating.
type Subscription struct {
	ID                   uint          `gorm:"primaryKey" json:"id"`
	OrgID                uint          `gorm:"uniqueIndex;not null" json:"org_id"`
	Org                  *Organization `gorm:"foreignKey:OrgID" json:"-"`
	PlanCode             string        `gorm:"type:varchar(50);not null;default:'free'" json:"plan_code"`
	Status               string        `gorm:"type:varchar(20);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart   *time.Time    `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time    `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool          `gorm:"default:false" json:"cancel_at_period_end"`
	StripeCustomerID     string        `gorm:"type:varchar(191);default:'';index" json:"-"`
	StripeSubscriptionID string        `gorm:"type:varchar(191);uniqueIndex" json:"-"`
	StripePriceID        string        `gorm:"type:varchar(191);default:''" json:"-"`
	CreatedAt            time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the org currently has paid access.
func (s *Subscription) IsEntitling() bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
		return true
	default:
		return false
	}
}
