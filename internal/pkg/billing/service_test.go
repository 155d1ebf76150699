package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DanielKirsch/CourseHive/app/models"
)

const testWebhookSecret = "whsec_test_secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Course{},
		&models.Enrollment{},
		&models.Plan{},
		&models.UserSubscription{},
		&models.Subscription{},
		&models.SubscriptionHistory{},
		&models.Invoice{},
		&models.BillingWebhookEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

type fakeGateway struct {
	subs     map[string]*stripe.Subscription
	subErr   error
	sessions []CheckoutParams
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: make(map[string]*stripe.Subscription)}
}

func (f *fakeGateway) CreateCustomer(_ context.Context, email, _ string, _ map[string]string) (string, error) {
	return "cus_fake_" + email, nil
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, p CheckoutParams) (*CheckoutSession, error) {
	f.sessions = append(f.sessions, p)
	return &CheckoutSession{ID: "cs_fake", URL: "https://checkout.example/cs_fake"}, nil
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeGateway) CancelSubscriptionAtPeriodEnd(_ context.Context, id string) error {
	if sub, ok := f.subs[id]; ok {
		sub.CancelAtPeriodEnd = true
	}
	return nil
}

func (f *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	if sub, ok := f.subs[id]; ok {
		sub.Status = stripe.SubscriptionStatusCanceled
	}
	return nil
}

func (f *fakeGateway) UpdateSubscriptionPrice(_ context.Context, id, priceID string) error {
	if sub, ok := f.subs[id]; ok && sub.Items != nil && len(sub.Items.Data) > 0 {
		sub.Items.Data[0].Price = &stripe.Price{ID: priceID}
	}
	return nil
}

func fakeStripeSub(id, priceID string, status stripe.SubscriptionStatus) *stripe.Subscription {
	now := time.Now()
	return &stripe.Subscription{
		ID:                 id,
		Status:             status,
		Customer:           &stripe.Customer{ID: "cus_1"},
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0).Unix(),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{ID: "si_1", Price: &stripe.Price{ID: priceID}},
			},
		},
	}
}

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventJSON(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"api_version":%q,"type":%q,"data":{"object":%s}}`,
		eventID, stripe.APIVersion, eventType, object))
}

func deliver(t *testing.T, svc *Service, payload []byte) error {
	t.Helper()
	return svc.HandleWebhook(context.Background(), payload, signPayload(payload, testWebhookSecret))
}

type fixture struct {
	db      *gorm.DB
	svc     *Service
	gateway *fakeGateway
	user    models.User
	org     models.Organization
	course  models.Course
	basic   models.Plan
	pro     models.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	gw := newFakeGateway()
	f := &fixture{
		db:      db,
		gateway: gw,
		svc:     NewService(NewRepository(db), gw, Config{WebhookSecret: testWebhookSecret}),
	}

	f.user = models.User{Name: "Test User", Email: "user@example.com", Password: "x", StripeCustomerID: "cus_1"}
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
	f.basic = models.Plan{Code: "basic", Name: "Basic", PriceMonthlyCents: 500, PriceYearlyCents: 5000, StripePriceMonthly: "price_basic_m", StripePriceYearly: "price_basic_y", IsActive: true}
	f.pro = models.Plan{Code: "pro", Name: "Pro", PriceMonthlyCents: 999, PriceYearlyCents: 9990, StripePriceMonthly: "price_pro_m", StripePriceYearly: "price_pro_y", IsActive: true}
	if err := db.Create(&f.basic).Error; err != nil {
		t.Fatalf("failed to seed basic plan: %v", err)
	}
	if err := db.Create(&f.pro).Error; err != nil {
		t.Fatalf("failed to seed pro plan: %v", err)
	}
	return f
}

func (f *fixture) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestHandleWebhook_UnconfiguredSecret(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), newFakeGateway(), Config{})

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=deadbeef")
	if StatusForError(err) != 501 {
		t.Fatalf("expected 501 for unconfigured secret, got %d (%v)", StatusForError(err), err)
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=deadbeef")
	if StatusForError(err) != 400 {
		t.Fatalf("expected 400 for bad signature, got %d (%v)", StatusForError(err), err)
	}
	if n := f.countRows(t, &models.BillingWebhookEvent{}); n != 0 {
		t.Fatalf("unverified payload must not be recorded, got %d rows", n)
	}
}

func TestCheckoutCompleted_OrgSubscription(t *testing.T) {
	f := newFixture(t)
	f.gateway.subs["sub_org"] = fakeStripeSub("sub_org", "price_pro_m", stripe.SubscriptionStatusActive)

	object := fmt.Sprintf(`{"id":"cs_1","mode":"subscription","payment_status":"paid","amount_total":999,"customer":"cus_1","subscription":"sub_org","metadata":{"org_id":"%d","user_id":"%d","plan_code":"basic"}}`, f.org.ID, f.user.ID)
	payload := eventJSON("evt_org_1", EventCheckoutCompleted, object)

	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sub models.Subscription
	if err := f.db.Where("org_id = ?", f.org.ID).First(&sub).Error; err != nil {
		t.Fatalf("org subscription not created: %v", err)
	}
	if sub.PlanCode != "pro" {
		t.Fatalf("expected price mapping to win over metadata fallback, got plan %q", sub.PlanCode)
	}
	if sub.Status != models.SubscriptionActive {
		t.Fatalf("expected active status, got %q", sub.Status)
	}
	if sub.StripeSubscriptionID != "sub_org" || sub.StripePriceID != "price_pro_m" {
		t.Fatalf("provider references not stored: %+v", sub)
	}
	if sub.CurrentPeriodEnd == nil {
		t.Fatalf("expected current period end to be set")
	}

	// Exact redelivery is a no-op.
	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("redelivery must succeed: %v", err)
	}
	if n := f.countRows(t, &models.SubscriptionHistory{}); n != 1 {
		t.Fatalf("expected exactly one history row after redelivery, got %d", n)
	}

	// A distinct event for the same org converges on the same row.
	payload2 := eventJSON("evt_org_2", EventCheckoutCompleted, object)
	if err := deliver(t, f.svc, payload2); err != nil {
		t.Fatalf("second event failed: %v", err)
	}
	if n := f.countRows(t, &models.Subscription{}); n != 1 {
		t.Fatalf("expected a single org subscription row, got %d", n)
	}
}

func TestCheckoutCompleted_OrgNotFound(t *testing.T) {
	f := newFixture(t)

	object := `{"id":"cs_1","mode":"subscription","customer":"cus_1","subscription":"sub_x","metadata":{"org_id":"9999"}}`
	err := deliver(t, f.svc, eventJSON("evt_1", EventCheckoutCompleted, object))
	if StatusForError(err) != 404 {
		t.Fatalf("expected 404 for missing org, got %d (%v)", StatusForError(err), err)
	}
}

func TestCheckoutCompleted_LegacySupersedesOld(t *testing.T) {
	f := newFixture(t)
	f.gateway.subs["sub_new"] = fakeStripeSub("sub_new", "price_pro_m", stripe.SubscriptionStatusActive)

	old := models.UserSubscription{
		UserID:               f.user.ID,
		PlanID:               f.basic.ID,
		Status:               models.UserSubscriptionActive,
		BillingCycle:         models.BillingCycleMonthly,
		StartDate:            time.Now().AddDate(0, -2, 0),
		AutoRenew:            true,
		StripeSubscriptionID: "sub_old",
	}
	if err := f.db.Create(&old).Error; err != nil {
		t.Fatalf("failed to seed old subscription: %v", err)
	}

	object := fmt.Sprintf(`{"id":"cs_2","mode":"subscription","payment_status":"paid","amount_total":999,"customer":"cus_1","subscription":"sub_new","metadata":{"user_id":"%d","plan_code":"pro","billing_cycle":"monthly"}}`, f.user.ID)
	payload := eventJSON("evt_legacy_1", EventCheckoutCompleted, object)

	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var oldAfter models.UserSubscription
	if err := f.db.First(&oldAfter, old.ID).Error; err != nil {
		t.Fatalf("old subscription missing: %v", err)
	}
	if oldAfter.Status != models.UserSubscriptionCancelled || oldAfter.AutoRenew || oldAfter.CancelledAt == nil {
		t.Fatalf("old subscription not superseded: %+v", oldAfter)
	}

	var created models.UserSubscription
	if err := f.db.Where("stripe_subscription_id = ?", "sub_new").First(&created).Error; err != nil {
		t.Fatalf("new subscription missing: %v", err)
	}
	if created.Status != models.UserSubscriptionActive || created.PlanID != f.pro.ID {
		t.Fatalf("unexpected new subscription: %+v", created)
	}

	var entitling []models.UserSubscription
	f.db.Where("user_id = ? AND status IN ?", f.user.ID, []string{models.UserSubscriptionTrial, models.UserSubscriptionActive}).Find(&entitling)
	if len(entitling) != 1 {
		t.Fatalf("expected exactly one entitling subscription, got %d", len(entitling))
	}

	if n := f.countRows(t, &models.Invoice{}); n != 1 {
		t.Fatalf("expected one invoice, got %d", n)
	}
	var inv models.Invoice
	f.db.First(&inv)
	if inv.AmountCents != 999 || inv.PaymentStatus != models.InvoicePaid || !strings.HasPrefix(inv.InvoiceNumber, "INV-") {
		t.Fatalf("unexpected invoice: %+v", inv)
	}

	// Redelivery leaves every count untouched.
	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("redelivery must succeed: %v", err)
	}
	if n := f.countRows(t, &models.UserSubscription{}); n != 2 {
		t.Fatalf("expected two subscription rows after redelivery, got %d", n)
	}
	if n := f.countRows(t, &models.Invoice{}); n != 1 {
		t.Fatalf("expected one invoice after redelivery, got %d", n)
	}
}

func TestCheckoutCompleted_LegacyTrial(t *testing.T) {
	f := newFixture(t)
	f.gateway.subs["sub_trial"] = fakeStripeSub("sub_trial", "price_basic_m", stripe.SubscriptionStatusTrialing)

	object := fmt.Sprintf(`{"id":"cs_3","mode":"subscription","payment_status":"no_payment_required","amount_total":0,"customer":"cus_1","subscription":"sub_trial","metadata":{"user_id":"%d"}}`, f.user.ID)
	if err := deliver(t, f.svc, eventJSON("evt_trial_1", EventCheckoutCompleted, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sub models.UserSubscription
	if err := f.db.Where("stripe_subscription_id = ?", "sub_trial").First(&sub).Error; err != nil {
		t.Fatalf("trial subscription missing: %v", err)
	}
	if sub.Status != models.UserSubscriptionTrial {
		t.Fatalf("expected trial status, got %q", sub.Status)
	}
	if n := f.countRows(t, &models.Invoice{}); n != 0 {
		t.Fatalf("trial checkout must not create an invoice, got %d", n)
	}
}

func TestCheckoutCompleted_CoursePurchase(t *testing.T) {
	f := newFixture(t)

	enrollment := models.Enrollment{UserID: f.user.ID, CourseID: f.course.ID, Status: models.EnrollmentPending}
	if err := f.db.Create(&enrollment).Error; err != nil {
		t.Fatalf("failed to seed enrollment: %v", err)
	}

	object := fmt.Sprintf(`{"id":"cs_4","mode":"payment","payment_status":"paid","amount_total":4999,"customer":"cus_1","metadata":{"user_id":"%d","course_id":"%d","enrollment_id":"%d"}}`, f.user.ID, f.course.ID, enrollment.ID)
	payload := eventJSON("evt_course_1", EventCheckoutCompleted, object)

	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.Enrollment
	if err := f.db.First(&after, enrollment.ID).Error; err != nil {
		t.Fatalf("enrollment missing: %v", err)
	}
	if after.Status != models.EnrollmentActive || after.AmountCents != 4999 {
		t.Fatalf("enrollment not activated: %+v", after)
	}

	// Redelivery and a second distinct event are both no-ops.
	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("redelivery must succeed: %v", err)
	}
	if err := deliver(t, f.svc, eventJSON("evt_course_2", EventCheckoutCompleted, object)); err != nil {
		t.Fatalf("duplicate activation must be a no-op: %v", err)
	}
	if n := f.countRows(t, &models.Enrollment{}); n != 1 {
		t.Fatalf("expected one enrollment row, got %d", n)
	}
}

func TestCheckoutCompleted_CoursePurchaseRejections(t *testing.T) {
	f := newFixture(t)

	enrollment := models.Enrollment{UserID: f.user.ID, CourseID: f.course.ID, Status: models.EnrollmentPending}
	if err := f.db.Create(&enrollment).Error; err != nil {
		t.Fatalf("failed to seed enrollment: %v", err)
	}

	// Unknown enrollment.
	object := fmt.Sprintf(`{"id":"cs_5","mode":"payment","payment_status":"paid","customer":"cus_1","metadata":{"course_id":"%d","enrollment_id":"424242"}}`, f.course.ID)
	err := deliver(t, f.svc, eventJSON("evt_r1", EventCheckoutCompleted, object))
	if StatusForError(err) != 404 {
		t.Fatalf("expected 404 for unknown enrollment, got %d (%v)", StatusForError(err), err)
	}

	// Course mismatch.
	object = fmt.Sprintf(`{"id":"cs_6","mode":"payment","payment_status":"paid","customer":"cus_1","metadata":{"course_id":"424242","enrollment_id":"%d"}}`, enrollment.ID)
	err = deliver(t, f.svc, eventJSON("evt_r2", EventCheckoutCompleted, object))
	if StatusForError(err) != 400 {
		t.Fatalf("expected 400 for course mismatch, got %d (%v)", StatusForError(err), err)
	}

	// Missing metadata.
	object = `{"id":"cs_7","mode":"payment","payment_status":"paid","customer":"cus_1","metadata":{}}`
	err = deliver(t, f.svc, eventJSON("evt_r3", EventCheckoutCompleted, object))
	if StatusForError(err) != 400 {
		t.Fatalf("expected 400 for missing metadata, got %d (%v)", StatusForError(err), err)
	}

	// No payer reference at all: neither customer nor user_id metadata.
	object = fmt.Sprintf(`{"id":"cs_8","mode":"payment","payment_status":"paid","metadata":{"course_id":"%d","enrollment_id":"%d"}}`, f.course.ID, enrollment.ID)
	err = deliver(t, f.svc, eventJSON("evt_r4", EventCheckoutCompleted, object))
	if StatusForError(err) != 400 {
		t.Fatalf("expected 400 for missing payer, got %d (%v)", StatusForError(err), err)
	}

	// Customer unknown to us.
	object = fmt.Sprintf(`{"id":"cs_9","mode":"payment","payment_status":"paid","customer":"cus_stranger","metadata":{"course_id":"%d","enrollment_id":"%d"}}`, f.course.ID, enrollment.ID)
	err = deliver(t, f.svc, eventJSON("evt_r5", EventCheckoutCompleted, object))
	if StatusForError(err) != 404 {
		t.Fatalf("expected 404 for unknown customer, got %d (%v)", StatusForError(err), err)
	}

	var after models.Enrollment
	f.db.First(&after, enrollment.ID)
	if after.Status != models.EnrollmentPending {
		t.Fatalf("rejected events must not touch the enrollment, got %q", after.Status)
	}
}

func TestSubscriptionUpdated_Org(t *testing.T) {
	f := newFixture(t)
	seed := models.Subscription{OrgID: f.org.ID, PlanCode: "basic", Status: models.SubscriptionActive, StripeSubscriptionID: "sub_org", StripePriceID: "price_basic_m"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed org subscription: %v", err)
	}

	object := `{"id":"sub_org","status":"past_due","cancel_at_period_end":true,"customer":"cus_1","current_period_start":1700000000,"current_period_end":1702592000,"items":{"data":[{"price":{"id":"price_pro_m"}}]}}`
	if err := deliver(t, f.svc, eventJSON("evt_u1", EventSubscriptionUpdated, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.Subscription
	f.db.First(&after, seed.ID)
	if after.Status != models.SubscriptionPastDue || !after.CancelAtPeriodEnd {
		t.Fatalf("org subscription not updated: %+v", after)
	}
	if after.PlanCode != "pro" || after.StripePriceID != "price_pro_m" {
		t.Fatalf("price change not reconciled: %+v", after)
	}

	// A status this code has never seen must not entitle.
	object = `{"id":"sub_org","status":"some_future_status","customer":"cus_1"}`
	if err := deliver(t, f.svc, eventJSON("evt_u2", EventSubscriptionUpdated, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.db.First(&after, seed.ID)
	if after.Status != models.SubscriptionIncomplete {
		t.Fatalf("unknown provider status must map to incomplete, got %q", after.Status)
	}
}

func TestSubscriptionUpdated_LegacyAutoRenewOff(t *testing.T) {
	f := newFixture(t)
	seed := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	object := `{"id":"sub_1","status":"active","cancel_at_period_end":true,"customer":"cus_1","current_period_end":1702592000,"items":{"data":[{"price":{"id":"price_pro_m"}}]}}`
	if err := deliver(t, f.svc, eventJSON("evt_u3", EventSubscriptionUpdated, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.UserSubscription
	f.db.First(&after, seed.ID)
	if after.Status != models.UserSubscriptionActive || after.AutoRenew {
		t.Fatalf("expected active with auto renew off, got %+v", after)
	}
	if after.NextBillingDate == nil {
		t.Fatalf("expected next billing date from period end")
	}
}

func TestSubscriptionUpdated_PlanChangeWritesHistory(t *testing.T) {
	f := newFixture(t)
	seed := models.UserSubscription{UserID: f.user.ID, PlanID: f.basic.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	object := `{"id":"sub_1","status":"active","customer":"cus_1","items":{"data":[{"price":{"id":"price_pro_y"}}]}}`
	if err := deliver(t, f.svc, eventJSON("evt_u4", EventSubscriptionUpdated, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.UserSubscription
	f.db.First(&after, seed.ID)
	if after.PlanID != f.pro.ID || after.BillingCycle != models.BillingCycleYearly {
		t.Fatalf("plan change not applied: %+v", after)
	}

	var hist models.SubscriptionHistory
	if err := f.db.Where("action = ?", models.HistoryActionUpgraded).First(&hist).Error; err != nil {
		t.Fatalf("upgrade history missing: %v", err)
	}
	if hist.OldPlanID == nil || *hist.OldPlanID != f.basic.ID || hist.NewPlanID == nil || *hist.NewPlanID != f.pro.ID {
		t.Fatalf("unexpected history plan ids: %+v", hist)
	}
}

func TestSubscriptionUpdated_UnknownIsNoOp(t *testing.T) {
	f := newFixture(t)

	object := `{"id":"sub_ghost","status":"active","customer":"cus_1"}`
	if err := deliver(t, f.svc, eventJSON("evt_u5", EventSubscriptionUpdated, object)); err != nil {
		t.Fatalf("unknown subscription must be ignored, got %v", err)
	}
}

func TestSubscriptionDeleted_Legacy(t *testing.T) {
	f := newFixture(t)
	seed := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	object := `{"id":"sub_1","status":"canceled","customer":"cus_1"}`
	if err := deliver(t, f.svc, eventJSON("evt_d1", EventSubscriptionDeleted, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.UserSubscription
	f.db.First(&after, seed.ID)
	if after.Status != models.UserSubscriptionExpired || after.AutoRenew || after.CancelledAt == nil || after.EndDate == nil {
		t.Fatalf("subscription not expired: %+v", after)
	}

	var hist models.SubscriptionHistory
	if err := f.db.Where("action = ?", models.HistoryActionExpired).First(&hist).Error; err != nil {
		t.Fatalf("expiry history missing: %v", err)
	}
}

func TestInvoicePaid_RenewsAndRecords(t *testing.T) {
	f := newFixture(t)
	seed := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionPastDue, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now().AddDate(0, -1, 0), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	periodEnd := time.Now().AddDate(0, 1, 0).Unix()
	object := fmt.Sprintf(`{"id":"in_1","subscription":"sub_1","customer":"cus_1","amount_paid":999,"amount_due":999,"payment_intent":"pi_1","period_end":%d,"lines":{"data":[{"period":{"start":1700000000,"end":%d}}]}}`, periodEnd, periodEnd)

	if err := deliver(t, f.svc, eventJSON("evt_i1", EventInvoicePaid, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.UserSubscription
	f.db.First(&after, seed.ID)
	if after.Status != models.UserSubscriptionActive {
		t.Fatalf("expected active after paid invoice, got %q", after.Status)
	}
	if after.NextBillingDate == nil || after.NextBillingDate.Unix() != periodEnd {
		t.Fatalf("next billing date not advanced: %+v", after.NextBillingDate)
	}

	var inv models.Invoice
	if err := f.db.Where("stripe_invoice_id = ?", "in_1").First(&inv).Error; err != nil {
		t.Fatalf("invoice row missing: %v", err)
	}
	if inv.PaymentStatus != models.InvoicePaid || inv.AmountCents != 999 || inv.StripePaymentIntentID != "pi_1" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}

	var hist models.SubscriptionHistory
	if err := f.db.Where("action = ?", models.HistoryActionRenewed).First(&hist).Error; err != nil {
		t.Fatalf("renewal history missing: %v", err)
	}

	// The same provider invoice delivered under a new event id stays one row.
	if err := deliver(t, f.svc, eventJSON("evt_i2", EventInvoicePaid, object)); err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if n := f.countRows(t, &models.Invoice{}); n != 1 {
		t.Fatalf("expected one invoice row, got %d", n)
	}
}

func TestInvoiceFailed_MarksPastDue(t *testing.T) {
	f := newFixture(t)
	seed := models.UserSubscription{UserID: f.user.ID, PlanID: f.pro.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now(), AutoRenew: true, StripeSubscriptionID: "sub_1"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	object := `{"id":"in_2","subscription":"sub_1","customer":"cus_1","amount_paid":0,"amount_due":999,"payment_intent":"pi_2"}`
	if err := deliver(t, f.svc, eventJSON("evt_f1", EventInvoiceFailed, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.UserSubscription
	f.db.First(&after, seed.ID)
	if after.Status != models.UserSubscriptionPastDue {
		t.Fatalf("expected past_due, got %q", after.Status)
	}

	var inv models.Invoice
	if err := f.db.Where("stripe_invoice_id = ?", "in_2").First(&inv).Error; err != nil {
		t.Fatalf("failed invoice row missing: %v", err)
	}
	if inv.PaymentStatus != models.InvoiceFailed || inv.TotalAmountCents != 999 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}

	// A later successful payment on the same invoice flips the row to paid.
	periodEnd := time.Now().AddDate(0, 1, 0).Unix()
	paid := fmt.Sprintf(`{"id":"in_2","subscription":"sub_1","customer":"cus_1","amount_paid":999,"amount_due":999,"payment_intent":"pi_2","period_end":%d}`, periodEnd)
	if err := deliver(t, f.svc, eventJSON("evt_f2", EventInvoicePaid, paid)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.db.Where("stripe_invoice_id = ?", "in_2").First(&inv)
	if inv.PaymentStatus != models.InvoicePaid {
		t.Fatalf("expected invoice to settle as paid, got %q", inv.PaymentStatus)
	}
	f.db.First(&after, seed.ID)
	if after.Status != models.UserSubscriptionActive {
		t.Fatalf("expected active after retry succeeded, got %q", after.Status)
	}

	if n := f.countRows(t, &models.Invoice{}); n != 1 {
		t.Fatalf("expected one invoice row for the provider invoice, got %d", n)
	}
}

func TestInvoiceEvents_OrgSubscription(t *testing.T) {
	f := newFixture(t)
	seed := models.Subscription{OrgID: f.org.ID, PlanCode: "pro", Status: models.SubscriptionPastDue, StripeSubscriptionID: "sub_org"}
	if err := f.db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed org subscription: %v", err)
	}

	periodEnd := time.Now().AddDate(0, 1, 0).Unix()
	object := fmt.Sprintf(`{"id":"in_3","subscription":"sub_org","customer":"cus_1","amount_paid":4999,"period_end":%d}`, periodEnd)
	if err := deliver(t, f.svc, eventJSON("evt_o1", EventInvoicePaid, object)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var after models.Subscription
	f.db.First(&after, seed.ID)
	if after.Status != models.SubscriptionActive {
		t.Fatalf("expected active after paid invoice, got %q", after.Status)
	}
	if after.CurrentPeriodEnd == nil || after.CurrentPeriodEnd.Unix() != periodEnd {
		t.Fatalf("period end not advanced")
	}

	failed := `{"id":"in_4","subscription":"sub_org","customer":"cus_1","amount_due":4999}`
	if err := deliver(t, f.svc, eventJSON("evt_o2", EventInvoiceFailed, failed)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.db.First(&after, seed.ID)
	if after.Status != models.SubscriptionPastDue {
		t.Fatalf("expected past_due after failed invoice, got %q", after.Status)
	}
}

func TestHandleWebhook_UnhandledTypeIsAccepted(t *testing.T) {
	f := newFixture(t)

	payload := eventJSON("evt_x1", "customer.created", `{"id":"cus_9"}`)
	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("unhandled event types must be accepted, got %v", err)
	}

	var ev models.BillingWebhookEvent
	if err := f.db.Where("provider_event_id = ?", "evt_x1").First(&ev).Error; err != nil {
		t.Fatalf("event not recorded: %v", err)
	}
	if ev.ProcessedAt == nil || ev.ProcessingError != "" {
		t.Fatalf("event not marked processed: %+v", ev)
	}
}

// invoiceFailRepo makes CreateInvoice fail inside the transaction so the
// whole legacy-creation write set must roll back.
type invoiceFailRepo struct {
	Repository
}

func (r *invoiceFailRepo) Transaction(fn func(Repository) error) error {
	return r.Repository.Transaction(func(tx Repository) error {
		return fn(&invoiceFailRepo{Repository: tx})
	})
}

func (r *invoiceFailRepo) CreateInvoice(inv *models.Invoice) error {
	return fmt.Errorf("simulated invoice write failure")
}

func TestCheckoutCompleted_LegacyCreationRollsBack(t *testing.T) {
	f := newFixture(t)
	f.gateway.subs["sub_new"] = fakeStripeSub("sub_new", "price_pro_m", stripe.SubscriptionStatusActive)

	old := models.UserSubscription{UserID: f.user.ID, PlanID: f.basic.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: time.Now().AddDate(0, -2, 0), AutoRenew: true, StripeSubscriptionID: "sub_old"}
	if err := f.db.Create(&old).Error; err != nil {
		t.Fatalf("failed to seed old subscription: %v", err)
	}

	failing := NewService(&invoiceFailRepo{Repository: NewRepository(f.db)}, f.gateway, Config{WebhookSecret: testWebhookSecret})

	object := fmt.Sprintf(`{"id":"cs_rb","mode":"subscription","payment_status":"paid","amount_total":999,"customer":"cus_1","subscription":"sub_new","metadata":{"user_id":"%d","plan_code":"pro","billing_cycle":"monthly"}}`, f.user.ID)
	payload := eventJSON("evt_rb_1", EventCheckoutCompleted, object)

	err := deliver(t, failing, payload)
	if err == nil {
		t.Fatal("expected processing to fail")
	}
	if StatusForError(err) != 500 {
		t.Fatalf("transient failure must signal a retry, got %d", StatusForError(err))
	}

	// Nothing from the transaction may survive.
	var oldAfter models.UserSubscription
	f.db.First(&oldAfter, old.ID)
	if oldAfter.Status != models.UserSubscriptionActive || !oldAfter.AutoRenew {
		t.Fatalf("old subscription must be untouched after rollback: %+v", oldAfter)
	}
	if n := f.countRows(t, &models.UserSubscription{}); n != 1 {
		t.Fatalf("expected one subscription row, got %d", n)
	}
	if n := f.countRows(t, &models.SubscriptionHistory{}); n != 0 {
		t.Fatalf("expected no history rows, got %d", n)
	}
	if n := f.countRows(t, &models.Invoice{}); n != 0 {
		t.Fatalf("expected no invoice rows, got %d", n)
	}

	// Stripe redelivers; the healthy service completes the same event.
	if err := deliver(t, f.svc, payload); err != nil {
		t.Fatalf("redelivery after failure must succeed: %v", err)
	}
	var created models.UserSubscription
	if err := f.db.Where("stripe_subscription_id = ?", "sub_new").First(&created).Error; err != nil {
		t.Fatalf("new subscription missing after redelivery: %v", err)
	}
	if created.Status != models.UserSubscriptionActive {
		t.Fatalf("unexpected subscription after redelivery: %+v", created)
	}
}

func TestYearlyCheckoutEndToEnd(t *testing.T) {
	f := newFixture(t)

	now := time.Now()
	yearlySub := fakeStripeSub("sub_y", "price_pro_y", stripe.SubscriptionStatusActive)
	yearEnd := now.AddDate(1, 0, 0).Unix()
	yearlySub.CurrentPeriodEnd = yearEnd
	f.gateway.subs["sub_y"] = yearlySub

	old := models.UserSubscription{UserID: f.user.ID, PlanID: f.basic.ID, Status: models.UserSubscriptionActive, BillingCycle: models.BillingCycleMonthly, StartDate: now.AddDate(0, -3, 0), AutoRenew: true, StripeSubscriptionID: "sub_old"}
	if err := f.db.Create(&old).Error; err != nil {
		t.Fatalf("failed to seed old subscription: %v", err)
	}

	// 1. Completed checkout, cycle derived from the yearly price.
	object := fmt.Sprintf(`{"id":"cs_y","mode":"subscription","payment_status":"paid","amount_total":9990,"customer":"cus_1","subscription":"sub_y","metadata":{"user_id":"%d","plan_code":"pro"}}`, f.user.ID)
	if err := deliver(t, f.svc, eventJSON("evt_y1", EventCheckoutCompleted, object)); err != nil {
		t.Fatalf("checkout completed failed: %v", err)
	}

	var created models.UserSubscription
	if err := f.db.Where("stripe_subscription_id = ?", "sub_y").First(&created).Error; err != nil {
		t.Fatalf("new subscription missing: %v", err)
	}
	if created.BillingCycle != models.BillingCycleYearly || created.PlanID != f.pro.ID {
		t.Fatalf("expected yearly pro subscription, got %+v", created)
	}
	if created.NextBillingDate == nil || created.NextBillingDate.Unix() != yearEnd {
		t.Fatalf("next billing date not a year out: %v", created.NextBillingDate)
	}

	// 2. The provider confirms via subscription.updated; state converges.
	subObject := fmt.Sprintf(`{"id":"sub_y","status":"active","cancel_at_period_end":false,"current_period_end":%d,"items":{"data":[{"price":{"id":"price_pro_y"}}]}}`, yearEnd)
	if err := deliver(t, f.svc, eventJSON("evt_y2", EventSubscriptionUpdated, subObject)); err != nil {
		t.Fatalf("subscription updated failed: %v", err)
	}

	// 3. The paid invoice lands.
	invObject := fmt.Sprintf(`{"id":"in_y","subscription":"sub_y","customer":"cus_1","amount_paid":9990,"amount_due":9990,"payment_intent":"pi_y","period_end":%d}`, yearEnd)
	if err := deliver(t, f.svc, eventJSON("evt_y3", EventInvoicePaid, invObject)); err != nil {
		t.Fatalf("invoice paid failed: %v", err)
	}

	var entitling []models.UserSubscription
	f.db.Where("user_id = ? AND status IN ?", f.user.ID, []string{models.UserSubscriptionTrial, models.UserSubscriptionActive}).Find(&entitling)
	if len(entitling) != 1 || entitling[0].StripeSubscriptionID != "sub_y" {
		t.Fatalf("expected exactly the yearly subscription entitling, got %+v", entitling)
	}

	var oldAfter models.UserSubscription
	f.db.First(&oldAfter, old.ID)
	if oldAfter.Status != models.UserSubscriptionCancelled {
		t.Fatalf("old monthly subscription not superseded: %+v", oldAfter)
	}

	var actions []string
	var history []models.SubscriptionHistory
	f.db.Order("id ASC").Find(&history)
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	want := map[string]bool{models.HistoryActionCancelled: false, models.HistoryActionCreated: false}
	for _, a := range actions {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for a, seen := range want {
		if !seen {
			t.Fatalf("missing %q history entry, got %v", a, actions)
		}
	}

	var inv models.Invoice
	if err := f.db.Where("stripe_invoice_id = ?", "in_y").First(&inv).Error; err != nil {
		t.Fatalf("provider invoice row missing: %v", err)
	}
	if inv.AmountCents != 9990 || inv.PaymentStatus != models.InvoicePaid {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}
