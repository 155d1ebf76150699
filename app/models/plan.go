package models

import "time"

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Plan is an internal subscription tier. The stripe price ids are what the
// plan/price mapper translates back into plan codes when webhook events
// arrive carrying only a price reference.
type Plan struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Code               string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Name               string    `gorm:"type:varchar(100);not null" json:"name"`
	PriceMonthlyCents  int64     `gorm:"not null;default:0" json:"price_monthly_cents"`
	PriceYearlyCents   int64     `gorm:"not null;default:0" json:"price_yearly_cents"`
	StripePriceMonthly string    `gorm:"type:varchar(191);default:''" json:"-"`
	StripePriceYearly  string    `gorm:"type:varchar(191);default:''" json:"-"`
	TrialDays          int       `gorm:"not null;default:0" json:"trial_days"`
	IsActive           bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceCentsFor returns the plan price for a billing cycle.
func (p *Plan) PriceCentsFor(cycle string) int64 {
	if cycle == BillingCycleYearly {
		return p.PriceYearlyCents
	}
	return p.PriceMonthlyCents
}

// StripePriceFor returns the gateway price id for a billing cycle.
func (p *Plan) StripePriceFor(cycle string) string {
	if cycle == BillingCycleYearly {
		return p.StripePriceYearly
	}
	return p.StripePriceMonthly
}

// HasTrial reports whether new subscriptions start with a trial period.
func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}
