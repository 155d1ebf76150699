package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/internal/pkg/billing"
)

type fakeGateway struct {
	customers     int
	sessions      []billing.CheckoutParams
	cancelled     []string
	terminated    []string
	priceUpdates  map[string]string
	createSessErr error
	remoteSub     *stripe.Subscription
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{priceUpdates: make(map[string]string)}
}

func (f *fakeGateway) CreateCustomer(_ context.Context, _, _ string, _ map[string]string) (string, error) {
	f.customers++
	return fmt.Sprintf("cus_fake_%d", f.customers), nil
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
	if f.createSessErr != nil {
		return nil, f.createSessErr
	}
	f.sessions = append(f.sessions, p)
	return &billing.CheckoutSession{ID: "cs_fake", URL: "https://checkout.example/cs_fake"}, nil
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if f.remoteSub != nil && f.remoteSub.ID == id {
		return f.remoteSub, nil
	}
	return nil, fmt.Errorf("no such subscription: %s", id)
}

func (f *fakeGateway) CancelSubscriptionAtPeriodEnd(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeGateway) UpdateSubscriptionPrice(_ context.Context, id, priceID string) error {
	f.priceUpdates[id] = priceID
	return nil
}

type stubLimiter struct {
	allowed bool
	keys    []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, nil
}

type fixture struct {
	db      *gorm.DB
	svc     *Service
	gateway *fakeGateway
	limiter *stubLimiter
	user    models.User
	org     models.Organization
	course  models.Course
	pro     models.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Course{},
		&models.Enrollment{},
		&models.Plan{},
		&models.UserSubscription{},
		&models.Subscription{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	f := &fixture{
		db:      db,
		gateway: newFakeGateway(),
		limiter: &stubLimiter{allowed: true},
	}
	f.svc = NewService(db, f.gateway, f.limiter, Config{
		SuccessURL: "https://coursehive.example/billing/success",
		CancelURL:  "https://coursehive.example/billing/cancel",
		RateLimit:  5,
		RateWindow: time.Minute,
	})

	f.user = models.User{Name: "Test User", Email: "user@example.com", Password: "x"}
	if err := db.Create(&f.user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	f.org = models.Organization{Name: "Acme", Slug: "acme", OwnerID: f.user.ID}
	if err := db.Create(&f.org).Error; err != nil {
		t.Fatalf("failed to seed org: %v", err)
	}
	f.course = models.Course{InstructorID: f.user.ID, Title: "Go Basics", Slug: "go-basics", PriceCents: 4999, Currency: "usd", Published: true}
	if err := db.Create(&f.course).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}
	f.pro = models.Plan{Code: "pro", Name: "Pro", PriceMonthlyCents: 999, PriceYearlyCents: 9990, StripePriceMonthly: "price_pro_m", StripePriceYearly: "price_pro_y", TrialDays: 14, IsActive: true}
	if err := db.Create(&f.pro).Error; err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	return f
}

func TestBeginCourseCheckout(t *testing.T) {
	f := newFixture(t)

	url, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, f.course.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://checkout.example/cs_fake" {
		t.Fatalf("unexpected redirect url: %s", url)
	}

	var enrollment models.Enrollment
	if err := f.db.Where("user_id = ? AND course_id = ?", f.user.ID, f.course.ID).First(&enrollment).Error; err != nil {
		t.Fatalf("pending enrollment missing: %v", err)
	}
	if enrollment.Status != models.EnrollmentPending {
		t.Fatalf("expected pending enrollment, got %q", enrollment.Status)
	}
	if enrollment.AmountCents != 4999 {
		t.Fatalf("pending enrollment must carry the course price, got %d", enrollment.AmountCents)
	}

	var user models.User
	f.db.First(&user, f.user.ID)
	if user.StripeCustomerID == "" {
		t.Fatalf("customer id must be persisted before the session is opened")
	}

	if len(f.gateway.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(f.gateway.sessions))
	}
	sess := f.gateway.sessions[0]
	if sess.Mode != billing.CheckoutModePayment || sess.AmountCents != 4999 || sess.ProductName != "Go Basics" {
		t.Fatalf("unexpected session params: %+v", sess)
	}
	if sess.Metadata[billing.MetaEnrollmentID] == "" || sess.Metadata[billing.MetaCourseID] == "" || sess.Metadata[billing.MetaUserID] == "" {
		t.Fatalf("session metadata incomplete: %+v", sess.Metadata)
	}

	// A second initiation reuses the pending row and refreshes its amount
	// to the course's current price.
	if err := f.db.Model(&models.Course{}).Where("id = ?", f.course.ID).Update("price_cents", 5999).Error; err != nil {
		t.Fatalf("failed to reprice course: %v", err)
	}
	if _, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, f.course.ID); err != nil {
		t.Fatalf("second initiation failed: %v", err)
	}
	var n int64
	f.db.Model(&models.Enrollment{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one enrollment row, got %d", n)
	}
	f.db.Where("user_id = ? AND course_id = ?", f.user.ID, f.course.ID).First(&enrollment)
	if enrollment.AmountCents != 5999 {
		t.Fatalf("reused enrollment must pick up the current price, got %d", enrollment.AmountCents)
	}
}

func TestBeginCourseCheckout_AlreadyEnrolled(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Create(&models.Enrollment{UserID: f.user.ID, CourseID: f.course.ID, Status: models.EnrollmentActive}).Error; err != nil {
		t.Fatalf("failed to seed enrollment: %v", err)
	}

	_, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, f.course.ID)
	if !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("expected ErrAlreadyEnrolled, got %v", err)
	}
}

func TestBeginCourseCheckout_FreeCourse(t *testing.T) {
	f := newFixture(t)
	free := models.Course{InstructorID: f.user.ID, Title: "Intro", Slug: "intro", PriceCents: 0, Currency: "usd", Published: true}
	if err := f.db.Create(&free).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}

	url, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, free.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != f.svc.cfg.SuccessURL {
		t.Fatalf("free course must redirect to success, got %s", url)
	}
	if len(f.gateway.sessions) != 0 {
		t.Fatalf("free course must not open a payment session")
	}

	var enrollment models.Enrollment
	f.db.Where("user_id = ? AND course_id = ?", f.user.ID, free.ID).First(&enrollment)
	if enrollment.Status != models.EnrollmentActive || enrollment.AmountCents != 0 {
		t.Fatalf("free enrollment not activated: %+v", enrollment)
	}
}

func TestBeginCourseCheckout_Unpublished(t *testing.T) {
	f := newFixture(t)
	draft := models.Course{InstructorID: f.user.ID, Title: "Draft", Slug: "draft", PriceCents: 100, Currency: "usd", Published: false}
	if err := f.db.Create(&draft).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}

	_, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, draft.ID)
	if !errors.Is(err, ErrCourseUnavailable) {
		t.Fatalf("expected ErrCourseUnavailable, got %v", err)
	}
}

func TestBeginCourseCheckout_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false

	_, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, f.course.ID)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(f.limiter.keys) != 1 || !strings.Contains(f.limiter.keys[0], fmt.Sprintf("%d", f.user.ID)) {
		t.Fatalf("limiter must be keyed per user, got %v", f.limiter.keys)
	}
	var n int64
	f.db.Model(&models.Enrollment{}).Count(&n)
	if n != 0 {
		t.Fatalf("rate limited request must not create an enrollment")
	}
}

func TestBeginSubscriptionCheckout(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BeginSubscriptionCheckout(context.Background(), f.user.ID, "nonexistent", "monthly")
	if !errors.Is(err, ErrPlanUnavailable) {
		t.Fatalf("expected ErrPlanUnavailable, got %v", err)
	}

	url, err := f.svc.BeginSubscriptionCheckout(context.Background(), f.user.ID, "pro", "yearly")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Fatalf("expected redirect url")
	}

	sess := f.gateway.sessions[len(f.gateway.sessions)-1]
	if sess.Mode != billing.CheckoutModeSubscription || sess.PriceID != "price_pro_y" || sess.TrialDays != 14 {
		t.Fatalf("unexpected session params: %+v", sess)
	}
	if sess.Metadata[billing.MetaPlanCode] != "pro" || sess.Metadata[billing.MetaBillingCycle] != models.BillingCycleYearly {
		t.Fatalf("unexpected metadata: %+v", sess.Metadata)
	}
}

func TestBeginOrgSubscriptionCheckout(t *testing.T) {
	f := newFixture(t)

	other := models.User{Name: "Other", Email: "other@example.com", Password: "x"}
	if err := f.db.Create(&other).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	_, err := f.svc.BeginOrgSubscriptionCheckout(context.Background(), other.ID, f.org.ID, "pro", "monthly")
	if !errors.Is(err, ErrNotOrgOwner) {
		t.Fatalf("expected ErrNotOrgOwner, got %v", err)
	}

	url, err := f.svc.BeginOrgSubscriptionCheckout(context.Background(), f.user.ID, f.org.ID, "pro", "monthly")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Fatalf("expected redirect url")
	}

	sess := f.gateway.sessions[len(f.gateway.sessions)-1]
	if sess.Metadata[billing.MetaOrgID] == "" {
		t.Fatalf("org metadata missing: %+v", sess.Metadata)
	}

	var org models.Organization
	f.db.First(&org, f.org.ID)
	if org.StripeCustomerID == "" {
		t.Fatalf("org customer id must be persisted")
	}
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.CancelSubscription(context.Background(), f.user.ID); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}

	sub := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	if err := f.svc.CancelSubscription(context.Background(), f.user.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != "sub_1" {
		t.Fatalf("gateway cancellation not requested: %v", f.gateway.cancelled)
	}

	var after models.UserSubscription
	f.db.First(&after, sub.ID)
	if after.AutoRenew {
		t.Fatalf("auto renew must flip off immediately")
	}
	if after.Status != models.UserSubscriptionActive {
		t.Fatalf("status must stay active until the webhook lands, got %q", after.Status)
	}
}

func TestHardCancelSubscription(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.HardCancelSubscription(context.Background(), f.user.ID); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}

	sub := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	if err := f.svc.HardCancelSubscription(context.Background(), f.user.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gateway.terminated) != 1 || f.gateway.terminated[0] != "sub_1" {
		t.Fatalf("gateway termination not requested: %v", f.gateway.terminated)
	}
	if len(f.gateway.cancelled) != 0 {
		t.Fatalf("hard cancel must not schedule a period-end cancellation")
	}

	var after models.UserSubscription
	f.db.First(&after, sub.ID)
	if after.Status != models.UserSubscriptionCancelled || after.AutoRenew {
		t.Fatalf("entitlement must be revoked immediately: %+v", after)
	}
	if after.EndDate == nil {
		t.Fatalf("end date must be set on hard cancel")
	}
}

func TestUpgradeSubscription(t *testing.T) {
	f := newFixture(t)
	sub := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	if err := f.svc.UpgradeSubscription(context.Background(), f.user.ID, "pro", "yearly"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.gateway.priceUpdates["sub_1"] != "price_pro_y" {
		t.Fatalf("price swap not requested: %v", f.gateway.priceUpdates)
	}
}

func TestResyncSubscription(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.ResyncSubscription(context.Background(), f.user.ID); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}

	sub := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	f.gateway.remoteSub = &stripe.Subscription{
		ID:                "sub_1",
		Status:            stripe.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  periodEnd,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_pro_y"}},
			},
		},
	}

	if err := f.svc.ResyncSubscription(context.Background(), f.user.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.UserSubscription
	f.db.First(&after, sub.ID)
	if after.AutoRenew {
		t.Fatalf("auto renew must track cancel_at_period_end")
	}
	if after.BillingCycle != models.BillingCycleYearly {
		t.Fatalf("billing cycle not resynced, got %q", after.BillingCycle)
	}
	if after.NextBillingDate == nil || after.NextBillingDate.Unix() != periodEnd {
		t.Fatalf("next billing date not resynced: %v", after.NextBillingDate)
	}

	// A gateway failure must not touch the local row.
	f.gateway.remoteSub = nil
	if err := f.svc.ResyncSubscription(context.Background(), f.user.ID); !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}

func TestCancelOrgSubscription(t *testing.T) {
	f := newFixture(t)
	sub := models.Subscription{OrgID: f.org.ID, PlanCode: "pro", Status: models.SubscriptionActive, StripeSubscriptionID: "sub_org"}
	if err := f.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	if err := f.svc.CancelOrgSubscription(context.Background(), f.user.ID, f.org.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != "sub_org" {
		t.Fatalf("gateway cancellation not requested: %v", f.gateway.cancelled)
	}

	var after models.Subscription
	f.db.First(&after, sub.ID)
	if !after.CancelAtPeriodEnd {
		t.Fatalf("cancel at period end must be recorded")
	}
}

func TestGatewayFailureIsWrapped(t *testing.T) {
	f := newFixture(t)
	f.gateway.createSessErr = errors.New("stripe is down")

	_, err := f.svc.BeginCourseCheckout(context.Background(), f.user.ID, f.course.ID)
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}
