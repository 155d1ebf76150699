package repository

import (
	"github.com/DanielKirsch/CourseHive/app/models"
	"gorm.io/gorm"
)

// enrollmentRepository implements the EnrollmentRepository interface
type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository creates a new enrollment repository instance
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

// GetByID retrieves an enrollment by its ID
func (r *enrollmentRepository) GetByID(id uint) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.Preload("Course").First(&enrollment, id).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// GetByUserAndCourse retrieves the single enrollment for a (user, course) pair
func (r *enrollmentRepository) GetByUserAndCourse(userID, courseID uint) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.Where("user_id = ? AND course_id = ?", userID, courseID).First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// GetActiveByUserID retrieves the user's active enrollments with their courses
func (r *enrollmentRepository) GetActiveByUserID(userID uint) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.Preload("Course").
		Where("user_id = ? AND status = ?", userID, models.EnrollmentActive).
		Order("created_at DESC").
		Find(&enrollments).Error
	return enrollments, err
}

// GetByCourseID retrieves a paginated list of enrollments for a course
func (r *enrollmentRepository) GetByCourseID(courseID uint, offset, limit int) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.Where("course_id = ?", courseID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&enrollments).Error
	return enrollments, err
}

// Update updates an existing enrollment
func (r *enrollmentRepository) Update(enrollment *models.Enrollment) error {
	return r.db.Save(enrollment).Error
}

// Cancel marks an enrollment cancelled without deleting the row
func (r *enrollmentRepository) Cancel(id uint) error {
	return r.db.Model(&models.Enrollment{}).
		Where("id = ?", id).
		Update("status", models.EnrollmentCancelled).Error
}

// Count returns the total number of enrollments
func (r *enrollmentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Enrollment{}).Count(&count).Error
	return count, err
}

// CountActiveByCourseID returns the number of active students in a course
func (r *enrollmentRepository) CountActiveByCourseID(courseID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Enrollment{}).
		Where("course_id = ? AND status = ?", courseID, models.EnrollmentActive).
		Count(&count).Error
	return count, err
}

// HasActiveEnrollment reports whether the user currently has course access
func (r *enrollmentRepository) HasActiveEnrollment(userID, courseID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, models.EnrollmentActive).
		Count(&count).Error
	return count > 0, err
}
