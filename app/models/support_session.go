package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	SupportSessionScheduled = "scheduled"
	SupportSessionLive      = "live"
	SupportSessionEnded     = "ended"
)

// SupportSession is a live video help session an instructor opens for a
// course. Join requests from enrolled users queue up in Redis; this row only
// keeps the room bookkeeping the video provider needs.
type SupportSession struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CourseID     uint       `gorm:"not null;index" json:"course_id"`
	InstructorID uint       `gorm:"not null;index" json:"instructor_id"`
	RoomName     string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"room_name"`
	Status       string     `gorm:"type:varchar(20);not null;default:'scheduled';index" json:"status"`
	ScheduledAt  time.Time  `gorm:"type:timestamp;not null" json:"scheduled_at"`
	StartedAt    *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	EndedAt      *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewRoomName generates a collision-resistant room identifier for the
// video-call provider.
func NewRoomName(courseID uint) string {
	return uuid.NewString()[:13] + "-c" + strconv.FormatUint(uint64(courseID), 10)
}
