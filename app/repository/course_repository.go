package repository

import (
	"strings"

	"github.com/DanielKirsch/CourseHive/app/models"
	"gorm.io/gorm"
)

// courseRepository implements the CourseRepository interface
type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository creates a new course repository instance
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

// Create creates a new course in the database
func (r *courseRepository) Create(course *models.Course) error {
	return r.db.Create(course).Error
}

// GetByID retrieves a course by its ID
func (r *courseRepository) GetByID(id uint) (*models.Course, error) {
	var course models.Course
	err := r.db.Preload("Instructor").First(&course, id).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// GetBySlug retrieves a course by its slug
func (r *courseRepository) GetBySlug(slug string) (*models.Course, error) {
	var course models.Course
	err := r.db.Preload("Instructor").Where("slug = ?", slug).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// GetByInstructorID retrieves all courses authored by the given instructor
func (r *courseRepository) GetByInstructorID(instructorID uint) ([]models.Course, error) {
	var courses []models.Course
	err := r.db.Where("instructor_id = ?", instructorID).Order("created_at DESC").Find(&courses).Error
	return courses, err
}

// GetPublished retrieves a paginated list of published courses
func (r *courseRepository) GetPublished(offset, limit int) ([]models.Course, error) {
	var courses []models.Course
	err := r.db.Preload("Instructor").
		Where("published = ?", true).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&courses).Error
	return courses, err
}

// GetPopular retrieves the most viewed published courses
func (r *courseRepository) GetPopular(limit int) ([]models.Course, error) {
	var courses []models.Course
	err := r.db.Preload("Instructor").
		Where("published = ?", true).
		Order("view_count DESC").
		Limit(limit).
		Find(&courses).Error
	return courses, err
}

// Update updates an existing course in the database
func (r *courseRepository) Update(course *models.Course) error {
	return r.db.Save(course).Error
}

// Delete soft deletes a course by its ID
func (r *courseRepository) Delete(id uint) error {
	return r.db.Delete(&models.Course{}, id).Error
}

// Count returns the total number of courses
func (r *courseRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Course{}).Count(&count).Error
	return count, err
}

// CountPublished returns the number of published courses
func (r *courseRepository) CountPublished() (int64, error) {
	var count int64
	err := r.db.Model(&models.Course{}).Where("published = ?", true).Count(&count).Error
	return count, err
}

// Search searches published courses by title or description
func (r *courseRepository) Search(query string) ([]models.Course, error) {
	var courses []models.Course
	searchPattern := "%" + strings.TrimSpace(query) + "%"
	err := r.db.Preload("Instructor").
		Where("published = ? AND (title LIKE ? OR description LIKE ?)", true, searchPattern, searchPattern).
		Order("view_count DESC").
		Find(&courses).Error
	return courses, err
}

// SlugExists checks whether a course slug is already taken
func (r *courseRepository) SlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Course{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// SlugExistsExceptID checks slug uniqueness ignoring the given course
func (r *courseRepository) SlugExistsExceptID(slug string, id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Course{}).Where("slug = ? AND id <> ?", slug, id).Count(&count).Error
	return count > 0, err
}
