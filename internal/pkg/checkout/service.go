package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/internal/pkg/billing"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	ErrRateLimited          = errors.New("checkout: rate limit exceeded")
	ErrAlreadyEnrolled      = errors.New("checkout: already enrolled")
	ErrCourseUnavailable    = errors.New("checkout: course unavailable")
	ErrPlanUnavailable      = errors.New("checkout: plan unavailable")
	ErrNotOrgOwner          = errors.New("checkout: not organization owner")
	ErrNoActiveSubscription = errors.New("checkout: no active subscription")
	ErrPaymentGateway       = errors.New("checkout: payment gateway unavailable")
)

// Config holds checkout configuration.
type Config struct {
	SuccessURL string
	CancelURL  string
	RateLimit  int64
	RateWindow time.Duration
}

// Service initiates hosted checkouts and manages subscription actions the
// user triggers from the site. All billing state transitions resulting from
// payment stay with the webhook reconciler; this service only opens sessions
// and records the pending side.
type Service struct {
	db      *gorm.DB
	gateway billing.Gateway
	limiter RateLimiter
	cfg     Config
}

// NewService creates a checkout service.
func NewService(db *gorm.DB, gateway billing.Gateway, limiter RateLimiter, cfg Config) *Service {
	return &Service{db: db, gateway: gateway, limiter: limiter, cfg: cfg}
}

// BeginCourseCheckout opens a one-off payment session for a course. Free
// courses enroll immediately without touching the payment provider. The
// returned URL is where the caller redirects the user.
func (s *Service) BeginCourseCheckout(ctx context.Context, userID, courseID uint) (string, error) {
	if err := s.allow(ctx, userID); err != nil {
		return "", err
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return "", err
	}
	var course models.Course
	if err := s.db.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrCourseUnavailable
		}
		return "", err
	}
	if !course.Published {
		return "", ErrCourseUnavailable
	}

	enrollment, err := s.pendingEnrollment(&user, &course)
	if err != nil {
		return "", err
	}

	if course.IsFree() {
		if err := s.db.Model(enrollment).Updates(map[string]interface{}{
			"status":       models.EnrollmentActive,
			"amount_cents": 0,
		}).Error; err != nil {
			return "", err
		}
		return s.cfg.SuccessURL, nil
	}

	customer, err := s.ensureUserCustomer(ctx, &user)
	if err != nil {
		return "", err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID:  customer,
		Mode:        billing.CheckoutModePayment,
		AmountCents: course.PriceCents,
		Currency:    course.Currency,
		ProductName: course.Title,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		Metadata: map[string]string{
			billing.MetaUserID:       formatUint(user.ID),
			billing.MetaCourseID:     formatUint(course.ID),
			billing.MetaEnrollmentID: formatUint(enrollment.ID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return sess.URL, nil
}

// BeginSubscriptionCheckout opens a subscription session for a personal plan.
func (s *Service) BeginSubscriptionCheckout(ctx context.Context, userID uint, planCode, cycle string) (string, error) {
	if err := s.allow(ctx, userID); err != nil {
		return "", err
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return "", err
	}
	plan, priceID, cycle, err := s.resolvePlan(planCode, cycle)
	if err != nil {
		return "", err
	}

	customer, err := s.ensureUserCustomer(ctx, &user)
	if err != nil {
		return "", err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID: customer,
		Mode:       billing.CheckoutModeSubscription,
		PriceID:    priceID,
		TrialDays:  int64(plan.TrialDays),
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: map[string]string{
			billing.MetaUserID:       formatUint(user.ID),
			billing.MetaPlanCode:     plan.Code,
			billing.MetaBillingCycle: cycle,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return sess.URL, nil
}

// BeginOrgSubscriptionCheckout opens a subscription session on behalf of an
// organization. Only the owner may start one.
func (s *Service) BeginOrgSubscriptionCheckout(ctx context.Context, userID, orgID uint, planCode, cycle string) (string, error) {
	if err := s.allow(ctx, userID); err != nil {
		return "", err
	}

	var org models.Organization
	if err := s.db.First(&org, orgID).Error; err != nil {
		return "", err
	}
	if !org.IsOwnedBy(userID) {
		return "", ErrNotOrgOwner
	}
	plan, priceID, cycle, err := s.resolvePlan(planCode, cycle)
	if err != nil {
		return "", err
	}

	customer, err := s.ensureOrgCustomer(ctx, &org)
	if err != nil {
		return "", err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID: customer,
		Mode:       billing.CheckoutModeSubscription,
		PriceID:    priceID,
		TrialDays:  int64(plan.TrialDays),
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: map[string]string{
			billing.MetaUserID:       formatUint(userID),
			billing.MetaOrgID:        formatUint(org.ID),
			billing.MetaPlanCode:     plan.Code,
			billing.MetaBillingCycle: cycle,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return sess.URL, nil
}

// CancelSubscription schedules the user's entitling subscription for
// cancellation at period end. The status flip itself arrives via webhook;
// only auto renew is reflected immediately.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) error {
	var sub models.UserSubscription
	err := s.db.Where("user_id = ? AND status IN ?", userID, []string{
		models.UserSubscriptionTrial,
		models.UserSubscriptionActive,
	}).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}

	if sub.StripeSubscriptionID != "" {
		if err := s.gateway.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
			return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
	}
	return s.db.Model(&sub).Update("auto_renew", false).Error
}

// HardCancelSubscription terminates a user's subscription immediately at the
// provider and revokes entitlement locally without waiting for the deleted
// webhook. Admin-only; regular cancellation runs out the paid period.
func (s *Service) HardCancelSubscription(ctx context.Context, userID uint) error {
	var sub models.UserSubscription
	err := s.db.Where("user_id = ? AND status IN ?", userID, []string{
		models.UserSubscriptionTrial,
		models.UserSubscriptionActive,
		models.UserSubscriptionPastDue,
	}).Order("created_at DESC").First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}

	if sub.StripeSubscriptionID != "" {
		if err := s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
			return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
	}
	now := time.Now()
	return s.db.Model(&sub).Updates(map[string]interface{}{
		"status":     models.UserSubscriptionCancelled,
		"auto_renew": false,
		"end_date":   now,
	}).Error
}

// UpgradeSubscription moves the user's entitling subscription to another
// plan by swapping the provider price. The plan change lands locally when
// the provider emits the corresponding subscription.updated event.
func (s *Service) UpgradeSubscription(ctx context.Context, userID uint, planCode, cycle string) error {
	var sub models.UserSubscription
	err := s.db.Where("user_id = ? AND status IN ?", userID, []string{
		models.UserSubscriptionTrial,
		models.UserSubscriptionActive,
	}).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}
	if sub.StripeSubscriptionID == "" {
		return ErrNoActiveSubscription
	}

	_, priceID, _, err := s.resolvePlan(planCode, cycle)
	if err != nil {
		return err
	}
	if err := s.gateway.UpdateSubscriptionPrice(ctx, sub.StripeSubscriptionID, priceID); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return nil
}

// ResyncSubscription pulls the subscription state from the provider and
// overwrites the local row with it. Useful when a webhook delivery was
// missed and the user reports a stale plan.
func (s *Service) ResyncSubscription(ctx context.Context, userID uint) error {
	var sub models.UserSubscription
	err := s.db.Where("user_id = ? AND status IN ?", userID, []string{
		models.UserSubscriptionTrial,
		models.UserSubscriptionActive,
		models.UserSubscriptionPastDue,
	}).Order("created_at DESC").First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}
	if sub.StripeSubscriptionID == "" {
		return ErrNoActiveSubscription
	}

	remote, err := s.gateway.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	sub.Status = billing.UserSubscriptionStatusFromProvider(string(remote.Status))
	sub.AutoRenew = !remote.CancelAtPeriodEnd
	if remote.CurrentPeriodEnd > 0 {
		t := time.Unix(remote.CurrentPeriodEnd, 0)
		sub.NextBillingDate = &t
		sub.EndDate = &t
	}

	var priceID string
	if remote.Items != nil && len(remote.Items.Data) > 0 && remote.Items.Data[0].Price != nil {
		priceID = remote.Items.Data[0].Price.ID
	}
	if priceID != "" {
		var plans []models.Plan
		if err := s.db.Where("is_active = ?", true).Find(&plans).Error; err != nil {
			return err
		}
		if code, matched := billing.PlanCodeForPrice(plans, priceID, ""); matched {
			var plan models.Plan
			if err := s.db.Where("code = ?", code).First(&plan).Error; err == nil {
				sub.PlanID = plan.ID
				sub.BillingCycle = billing.BillingCycleForPrice(plans, priceID)
			}
		}
	}

	return s.db.Save(&sub).Error
}

// CancelOrgSubscription schedules an organization subscription for
// cancellation at period end. Only the owner may do this.
func (s *Service) CancelOrgSubscription(ctx context.Context, userID, orgID uint) error {
	var org models.Organization
	if err := s.db.First(&org, orgID).Error; err != nil {
		return err
	}
	if !org.IsOwnedBy(userID) {
		return ErrNotOrgOwner
	}

	var sub models.Subscription
	if err := s.db.Where("org_id = ?", orgID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}
	if !sub.IsEntitling() || sub.StripeSubscriptionID == "" {
		return ErrNoActiveSubscription
	}

	if err := s.gateway.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return s.db.Model(&sub).Update("cancel_at_period_end", true).Error
}

func (s *Service) allow(ctx context.Context, userID uint) error {
	if s.limiter == nil {
		return nil
	}
	ok, _ := s.limiter.Allow(ctx, fmt.Sprintf("rate:checkout:user:%d", userID))
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// pendingEnrollment returns the user's enrollment row for the course,
// creating a pending one when none exists. An already active enrollment
// aborts with ErrAlreadyEnrolled.
func (s *Service) pendingEnrollment(user *models.User, course *models.Course) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{
		UserID:      user.ID,
		CourseID:    course.ID,
		Status:      models.EnrollmentPending,
		AmountCents: course.PriceCents,
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "course_id"},
		},
		DoNothing: true,
	}).Create(enrollment).Error; err != nil {
		return nil, err
	}
	if err := s.db.Where("user_id = ? AND course_id = ?", user.ID, course.ID).
		First(enrollment).Error; err != nil {
		return nil, err
	}
	if enrollment.IsActive() {
		return nil, ErrAlreadyEnrolled
	}
	// A reused row is refreshed to the course's current price and, when it
	// was cancelled before, reopened as pending.
	updates := map[string]interface{}{"amount_cents": course.PriceCents}
	if enrollment.Status == models.EnrollmentCancelled {
		updates["status"] = models.EnrollmentPending
	}
	if err := s.db.Model(enrollment).Updates(updates).Error; err != nil {
		return nil, err
	}
	enrollment.Status = models.EnrollmentPending
	enrollment.AmountCents = course.PriceCents
	return enrollment, nil
}

func (s *Service) resolvePlan(planCode, cycle string) (*models.Plan, string, string, error) {
	var plan models.Plan
	if err := s.db.Where("code = ? AND is_active = ?", planCode, true).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", "", ErrPlanUnavailable
		}
		return nil, "", "", err
	}
	cycle = billing.NormalizeBillingCycle(cycle)
	priceID := plan.StripePriceFor(cycle)
	if priceID == "" {
		return nil, "", "", ErrPlanUnavailable
	}
	return &plan, priceID, cycle, nil
}

// ensureUserCustomer returns the user's provider customer id, creating and
// persisting one first if the user has none. Persisting before the session
// is opened keeps the webhook able to map the customer back to the user.
func (s *Service) ensureUserCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	id, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name, map[string]string{
		billing.MetaUserID: formatUint(user.ID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if err := s.db.Model(user).Update("stripe_customer_id", id).Error; err != nil {
		return "", err
	}
	user.StripeCustomerID = id
	return id, nil
}

func (s *Service) ensureOrgCustomer(ctx context.Context, org *models.Organization) (string, error) {
	if org.StripeCustomerID != "" {
		return org.StripeCustomerID, nil
	}
	email := org.BillingEmail
	if email == "" {
		var owner models.User
		if err := s.db.First(&owner, org.OwnerID).Error; err != nil {
			return "", err
		}
		email = owner.Email
	}
	id, err := s.gateway.CreateCustomer(ctx, email, org.Name, map[string]string{
		billing.MetaOrgID: formatUint(org.ID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if err := s.db.Model(org).Update("stripe_customer_id", id).Error; err != nil {
		return "", err
	}
	org.StripeCustomerID = id
	return id, nil
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
