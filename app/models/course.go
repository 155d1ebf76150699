package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Course is a purchasable catalog entry authored by an instructor.
// PriceCents is the current one-time purchase price; the amount actually
// paid is recorded on the enrollment after checkout settles.
type Course struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	InstructorID   uint           `gorm:"not null;index" json:"instructor_id"`
	Instructor     *User          `gorm:"foreignKey:InstructorID" json:"-"`
	Title          string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=3,max=200"`
	Slug           string         `gorm:"type:varchar(200);uniqueIndex" json:"slug" validate:"required,min=3,max=200"`
	Description    string         `gorm:"type:text" json:"description" validate:"max=10000"`
	PriceCents     int64          `gorm:"not null;default:0" json:"price_cents" validate:"gte=0"`
	Currency       string         `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"len=3"`
	CoverObjectKey string         `gorm:"type:varchar(255);default:''" json:"-"`
	Published      bool           `gorm:"default:false;index" json:"published"`
	ViewCount      int64          `gorm:"not null;default:0" json:"view_count"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Course) Validate() error {
	return validator.New().Struct(c)
}

// IsFree reports whether the course can be enrolled without checkout.
func (c *Course) IsFree() bool {
	return c.PriceCents == 0
}
