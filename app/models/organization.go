package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Organization is a team account that can hold a single org-level
// subscription covering all of its members.
type Organization struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Slug             string         `gorm:"type:varchar(150);uniqueIndex" json:"slug" validate:"required,min=2,max=150"`
	OwnerID          uint           `gorm:"not null;index" json:"owner_id"`
	Owner            *User          `gorm:"foreignKey:OwnerID" json:"-"`
	BillingEmail     string         `gorm:"type:varchar(200);default:''" json:"billing_email" validate:"omitempty,email"`
	StripeCustomerID string         `gorm:"type:varchar(191);default:'';index" json:"-"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (o *Organization) Validate() error {
	return validator.New().Struct(o)
}

// IsOwnedBy reports whether the given user may manage the org subscription.
func (o *Organization) IsOwnedBy(userID uint) bool {
	return o.OwnerID == userID
}
