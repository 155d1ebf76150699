package models

import "time"

// Legacy per-user subscription statuses.
const (
	UserSubscriptionTrial     = "trial"
	UserSubscriptionActive    = "active"
	UserSubscriptionPastDue   = "past_due"
	UserSubscriptionCancelled = "cancelled"
	UserSubscriptionExpired   = "expired"
)

// UserSubscription is the legacy per-user subscription record. The
// reconciler preserves the invariant that at most one row per user has
// status trial or active: creating a new subscription cancels any prior
// entitling row inside the same transaction.
type UserSubscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;index" json:"user_id"`
	PlanID               uint       `gorm:"not null;index" json:"plan_id"`
	Plan                 *Plan      `gorm:"foreignKey:PlanID" json:"-"`
	Status               string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	BillingCycle         string     `gorm:"type:varchar(10);not null;default:'monthly'" json:"billing_cycle"`
	StartDate            time.Time  `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate              *time.Time `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	NextBillingDate      *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	AutoRenew            bool       `gorm:"default:true" json:"auto_renew"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);uniqueIndex" json:"-"`
	StripeCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	CancelledAt          *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the row currently grants plan access.
func (s *UserSubscription) IsEntitling() bool {
	return s.Status == UserSubscriptionActive || s.Status == UserSubscriptionTrial
}
