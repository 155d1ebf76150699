package models

import "time"

const (
	InvoicePaid   = "paid"
	InvoiceFailed = "failed"
)

// Invoice records a single payment attempt against a legacy user
// subscription. One row per attempt; failed attempts are rows too.
type Invoice struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	InvoiceNumber         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"invoice_number"`
	UserID                uint      `gorm:"not null;index" json:"user_id"`
	SubscriptionID        uint      `gorm:"not null;index" json:"subscription_id"`
	PlanName              string    `gorm:"type:varchar(100);default:''" json:"plan_name"`
	AmountCents           int64     `gorm:"not null;default:0" json:"amount_cents"`
	TotalAmountCents      int64     `gorm:"not null;default:0" json:"total_amount_cents"`
	PaymentStatus         string    `gorm:"type:varchar(10);not null;index" json:"payment_status"`
	PaymentDate           time.Time `gorm:"type:timestamp;not null" json:"payment_date"`
	StripeInvoiceID       string    `gorm:"type:varchar(191);default:'';index" json:"-"`
	StripePaymentIntentID string    `gorm:"type:varchar(191);default:'';index" json:"-"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
