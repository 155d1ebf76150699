package repository

import (
	"github.com/DanielKirsch/CourseHive/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByActivationToken(token string) (*models.User, error)
	GetByStripeCustomerID(customerID string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
	GetWithStats(offset, limit int) ([]UserWithStats, error)
	SearchWithStats(query string) ([]UserWithStats, error)
}

// CourseRepository defines the interface for course catalog operations
type CourseRepository interface {
	Create(course *models.Course) error
	GetByID(id uint) (*models.Course, error)
	GetBySlug(slug string) (*models.Course, error)
	GetByInstructorID(instructorID uint) ([]models.Course, error)
	GetPublished(offset, limit int) ([]models.Course, error)
	GetPopular(limit int) ([]models.Course, error)
	Update(course *models.Course) error
	Delete(id uint) error
	Count() (int64, error)
	CountPublished() (int64, error)
	Search(query string) ([]models.Course, error)
	SlugExists(slug string) (bool, error)
	SlugExistsExceptID(slug string, id uint) (bool, error)
}

// EnrollmentRepository defines the interface for enrollment operations
type EnrollmentRepository interface {
	GetByID(id uint) (*models.Enrollment, error)
	GetByUserAndCourse(userID, courseID uint) (*models.Enrollment, error)
	GetActiveByUserID(userID uint) ([]models.Enrollment, error)
	GetByCourseID(courseID uint, offset, limit int) ([]models.Enrollment, error)
	Update(enrollment *models.Enrollment) error
	Cancel(id uint) error
	Count() (int64, error)
	CountActiveByCourseID(courseID uint) (int64, error)
	HasActiveEnrollment(userID, courseID uint) (bool, error)
}

// SupportSessionRepository defines the interface for live help sessions
type SupportSessionRepository interface {
	Create(session *models.SupportSession) error
	GetByID(id uint) (*models.SupportSession, error)
	GetByRoomName(roomName string) (*models.SupportSession, error)
	GetUpcomingByCourseID(courseID uint) ([]models.SupportSession, error)
	GetByInstructorID(instructorID uint) ([]models.SupportSession, error)
	GetLive() ([]models.SupportSession, error)
	Update(session *models.SupportSession) error
	Delete(id uint) error
}

// UserWithStats represents a user with additional statistics
type UserWithStats struct {
	User            models.User
	EnrollmentCount int64
	CourseCount     int64
	SpentCents      int64
}

// Repositories struct holds all repository instances
type Repositories struct {
	User           UserRepository
	Course         CourseRepository
	Enrollment     EnrollmentRepository
	SupportSession SupportSessionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:           NewUserRepository(db),
		Course:         NewCourseRepository(db),
		Enrollment:     NewEnrollmentRepository(db),
		SupportSession: NewSupportSessionRepository(db),
	}
}
