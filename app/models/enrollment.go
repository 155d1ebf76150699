package models

import "time"

const (
	EnrollmentPending   = "pending"
	EnrollmentActive    = "active"
	EnrollmentCancelled = "cancelled"
)

// Enrollment links a user to a purchased (or in-flight) course. A row is
// created Pending when checkout is initiated and flipped to Active only by a
// verified checkout.session.completed webhook whose metadata matches the
// stored user/course pair. At most one row exists per (user, course).
type Enrollment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index:ux_enrollments_user_course,unique,priority:1" json:"user_id"`
	CourseID    uint      `gorm:"not null;index:ux_enrollments_user_course,unique,priority:2" json:"course_id"`
	Course      *Course   `gorm:"foreignKey:CourseID" json:"-"`
	AmountCents int64     `gorm:"not null;default:0" json:"amount_cents"`
	Status      string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the enrollment grants course access.
func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentActive
}
