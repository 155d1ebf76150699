package repository

import (
	"time"

	"github.com/DanielKirsch/CourseHive/app/models"
	"gorm.io/gorm"
)

// supportSessionRepository implements the SupportSessionRepository interface
type supportSessionRepository struct {
	db *gorm.DB
}

// NewSupportSessionRepository creates a new support session repository instance
func NewSupportSessionRepository(db *gorm.DB) SupportSessionRepository {
	return &supportSessionRepository{db: db}
}

// Create creates a new support session
func (r *supportSessionRepository) Create(session *models.SupportSession) error {
	return r.db.Create(session).Error
}

// GetByID retrieves a support session by its ID
func (r *supportSessionRepository) GetByID(id uint) (*models.SupportSession, error) {
	var session models.SupportSession
	err := r.db.First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetByRoomName retrieves a support session by its video room name
func (r *supportSessionRepository) GetByRoomName(roomName string) (*models.SupportSession, error) {
	var session models.SupportSession
	err := r.db.Where("room_name = ?", roomName).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetUpcomingByCourseID retrieves scheduled and live sessions for a course
func (r *supportSessionRepository) GetUpcomingByCourseID(courseID uint) ([]models.SupportSession, error) {
	var sessions []models.SupportSession
	err := r.db.Where("course_id = ? AND status IN ?", courseID, []string{
		models.SupportSessionScheduled,
		models.SupportSessionLive,
	}).Where("scheduled_at >= ? OR status = ?", time.Now().Add(-24*time.Hour), models.SupportSessionLive).
		Order("scheduled_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// GetByInstructorID retrieves all sessions belonging to an instructor
func (r *supportSessionRepository) GetByInstructorID(instructorID uint) ([]models.SupportSession, error) {
	var sessions []models.SupportSession
	err := r.db.Where("instructor_id = ?", instructorID).Order("scheduled_at DESC").Find(&sessions).Error
	return sessions, err
}

// GetLive retrieves all currently running sessions
func (r *supportSessionRepository) GetLive() ([]models.SupportSession, error) {
	var sessions []models.SupportSession
	err := r.db.Where("status = ?", models.SupportSessionLive).Find(&sessions).Error
	return sessions, err
}

// Update updates an existing support session
func (r *supportSessionRepository) Update(session *models.SupportSession) error {
	return r.db.Save(session).Error
}

// Delete removes a support session
func (r *supportSessionRepository) Delete(id uint) error {
	return r.db.Delete(&models.SupportSession{}, id).Error
}
