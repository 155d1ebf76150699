package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/DanielKirsch/CourseHive/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Transaction
// yields a Repository bound to the transaction handle, so multi-step
// reconciliation commits or rolls back as one unit.
type Repository interface {
	Transaction(fn func(Repository) error) error

	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	GetOrganization(id uint) (*models.Organization, error)
	UpsertOrgSubscription(sub *models.Subscription) error
	FindOrgSubscriptionByProviderID(providerSubID string) (*models.Subscription, error)
	SaveOrgSubscription(sub *models.Subscription) error

	GetUser(id uint) (*models.User, error)
	GetUserByStripeCustomerID(customerID string) (*models.User, error)
	SaveUser(user *models.User) error

	ListActivePlans() ([]models.Plan, error)
	GetPlanByCode(code string) (*models.Plan, error)

	FindUserSubscriptionByProviderID(providerSubID string) (*models.UserSubscription, error)
	ListEntitlingUserSubscriptions(userID uint) ([]models.UserSubscription, error)
	CreateUserSubscription(sub *models.UserSubscription) error
	SaveUserSubscription(sub *models.UserSubscription) error

	AppendHistory(entry *models.SubscriptionHistory) error
	CreateInvoice(inv *models.Invoice) error
	SaveInvoice(inv *models.Invoice) error
	FindInvoiceByStripeInvoiceID(stripeInvoiceID string) (*models.Invoice, error)

	GetEnrollment(id uint) (*models.Enrollment, error)
	SaveEnrollment(e *models.Enrollment) error
	GetCourse(id uint) (*models.Course, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetOrganization(id uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.First(&org, id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *gormRepository) UpsertOrgSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "org_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_code",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"stripe_customer_id",
			"stripe_subscription_id",
			"stripe_price_id",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("org_id = ?", sub.OrgID).First(sub).Error
}

func (r *gormRepository) FindOrgSubscriptionByProviderID(providerSubID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", providerSubID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveOrgSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) ListActivePlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetPlanByCode(code string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("code = ?", code).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) FindUserSubscriptionByProviderID(providerSubID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	if err := r.db.Where("stripe_subscription_id = ?", providerSubID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListEntitlingUserSubscriptions(userID uint) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	err := r.db.Where("user_id = ? AND status IN ?", userID, []string{
		models.UserSubscriptionTrial,
		models.UserSubscriptionActive,
	}).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateUserSubscription(sub *models.UserSubscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveUserSubscription(sub *models.UserSubscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) AppendHistory(entry *models.SubscriptionHistory) error {
	return r.db.Create(entry).Error
}

// CreateInvoice inserts an invoice, regenerating the invoice number on
// unique collisions. Any other error surfaces immediately; after the
// retries we give up and surface the collision.
func (r *gormRepository) CreateInvoice(inv *models.Invoice) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if inv.InvoiceNumber == "" || attempt > 0 {
			inv.InvoiceNumber = NewInvoiceNumber(time.Now())
		}
		err = r.db.Create(inv).Error
		if err == nil {
			return nil
		}
		if !isDuplicateKey(err) {
			return err
		}
	}
	return err
}

// isDuplicateKey matches unique-constraint violations across the drivers we
// run against (MySQL in production, SQLite in tests).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func (r *gormRepository) SaveInvoice(inv *models.Invoice) error {
	return r.db.Save(inv).Error
}

func (r *gormRepository) FindInvoiceByStripeInvoiceID(stripeInvoiceID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("stripe_invoice_id = ?", stripeInvoiceID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) GetEnrollment(id uint) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := r.db.First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) SaveEnrollment(e *models.Enrollment) error {
	return r.db.Save(e).Error
}

func (r *gormRepository) GetCourse(id uint) (*models.Course, error) {
	var c models.Course
	if err := r.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
