package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"

	"github.com/DanielKirsch/CourseHive/app/models"
)

// Config holds payment provider configuration.
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Service reconciles provider webhook events into local billing state.
// Every event is recorded before any domain logic runs, and every domain
// mutation happens inside a transaction, so redelivered or out-of-order
// events converge on the same final state.
type Service struct {
	repo    Repository
	gateway Gateway
	cfg     Config
}

// NewService creates a billing service from an injected repository and gateway.
func NewService(repo Repository, gateway Gateway, cfg Config) *Service {
	return &Service{repo: repo, gateway: gateway, cfg: cfg}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, cfg Config) *Service {
	return NewService(NewRepository(db), gateway, cfg)
}

// HandleWebhook verifies, records and dispatches a raw provider webhook.
// The returned error classifies the failure via EventError; anything else
// is transient and should be answered with a 5xx so the provider retries.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.cfg.WebhookSecret == "" {
		return &EventError{Status: 501, Reason: "webhook secret not configured"}
	}

	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return badEvent("signature verification failed: %v", err)
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		// Exact redelivery of an event we already handled.
		return nil
	}

	handleErr := s.dispatch(ctx, event)

	errMsg := ""
	if handleErr != nil {
		errMsg = handleErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, errMsg); err != nil {
		log.Printf("[Billing] failed to mark webhook %s processed: %v", event.ID, err)
	}
	return handleErr
}

func (s *Service) dispatch(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.handleSubscriptionChanged(ctx, event)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	case EventInvoicePaid, EventInvoiceSucceeded:
		return s.handleInvoicePaid(ctx, event)
	case EventInvoiceFailed:
		return s.handleInvoiceFailed(ctx, event)
	default:
		log.Printf("[Billing] unhandled webhook event type: %s", event.Type)
		return nil
	}
}

// handleCheckoutCompleted branches on what the completed session paid for:
// an organization subscription, a legacy per-user subscription, or a one-off
// course purchase.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return badEvent("failed to unmarshal checkout session: %v", err)
	}

	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		if _, ok := metaUint(sess.Metadata, MetaOrgID); ok {
			return s.completeOrgSubscription(ctx, event, &sess)
		}
		return s.completeUserSubscription(ctx, event, &sess)
	}
	return s.completeCoursePurchase(ctx, event, &sess)
}

func (s *Service) completeOrgSubscription(ctx context.Context, event stripe.Event, sess *stripe.CheckoutSession) error {
	orgID, _ := metaUint(sess.Metadata, MetaOrgID)
	org, err := s.repo.GetOrganization(orgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventNotFound("organization %d not found", orgID)
		}
		return err
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return badEvent("checkout session %s has no subscription", sess.ID)
	}

	live, err := s.gateway.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch live subscription: %w", err)
	}

	priceID := subscriptionPriceID(live)
	planCode, err := s.resolvePlanCode(priceID, sess.Metadata)
	if err != nil {
		return err
	}

	sub := &models.Subscription{
		OrgID:                org.ID,
		PlanCode:             planCode,
		Status:               SubscriptionStatusFromProvider(string(live.Status)),
		CancelAtPeriodEnd:    live.CancelAtPeriodEnd,
		StripeCustomerID:     customerID(sess.Customer, live.Customer),
		StripeSubscriptionID: live.ID,
		StripePriceID:        priceID,
	}
	if live.CurrentPeriodStart > 0 {
		t := time.Unix(live.CurrentPeriodStart, 0)
		sub.CurrentPeriodStart = &t
	}
	if live.CurrentPeriodEnd > 0 {
		t := time.Unix(live.CurrentPeriodEnd, 0)
		sub.CurrentPeriodEnd = &t
	}

	return s.repo.Transaction(func(tx Repository) error {
		if err := tx.UpsertOrgSubscription(sub); err != nil {
			return fmt.Errorf("failed to upsert org subscription: %w", err)
		}
		return tx.AppendHistory(historyEntry(org.OwnerID, sub.ID, models.HistoryActionCreated, nil, nil, models.HistoryMetadata{
			StripeSubscriptionID: live.ID,
			StripeEventID:        event.ID,
		}))
	})
}

func (s *Service) completeUserSubscription(ctx context.Context, event stripe.Event, sess *stripe.CheckoutSession) error {
	userID, ok := metaUint(sess.Metadata, MetaUserID)
	if !ok {
		return badEvent("checkout session %s missing user_id metadata", sess.ID)
	}
	user, err := s.repo.GetUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventNotFound("user %d not found", userID)
		}
		return err
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return badEvent("checkout session %s has no subscription", sess.ID)
	}

	// Replay of a checkout we already materialized is a no-op.
	if existing, err := s.repo.FindUserSubscriptionByProviderID(sess.Subscription.ID); err == nil && existing != nil {
		return nil
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	live, err := s.gateway.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch live subscription: %w", err)
	}

	priceID := subscriptionPriceID(live)
	planCode, err := s.resolvePlanCode(priceID, sess.Metadata)
	if err != nil {
		return err
	}
	plan, err := s.repo.GetPlanByCode(planCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventNotFound("plan %q not found", planCode)
		}
		return err
	}

	cycle, hasCycle := metaString(sess.Metadata, MetaBillingCycle)
	if hasCycle {
		cycle = NormalizeBillingCycle(cycle)
	} else {
		plans, err := s.repo.ListActivePlans()
		if err != nil {
			return err
		}
		cycle = BillingCycleForPrice(plans, priceID)
	}

	now := time.Now()
	sub := &models.UserSubscription{
		UserID:               user.ID,
		PlanID:               plan.ID,
		Status:               UserSubscriptionStatusFromProvider(string(live.Status)),
		BillingCycle:         cycle,
		StartDate:            now,
		AutoRenew:            !live.CancelAtPeriodEnd,
		StripeSubscriptionID: live.ID,
		StripeCustomerID:     customerID(sess.Customer, live.Customer),
	}
	if live.CurrentPeriodStart > 0 {
		sub.StartDate = time.Unix(live.CurrentPeriodStart, 0)
	}
	if live.CurrentPeriodEnd > 0 {
		t := time.Unix(live.CurrentPeriodEnd, 0)
		sub.NextBillingDate = &t
		sub.EndDate = &t
	}

	return s.repo.Transaction(func(tx Repository) error {
		old, err := tx.ListEntitlingUserSubscriptions(user.ID)
		if err != nil {
			return err
		}
		for i := range old {
			old[i].Status = models.UserSubscriptionCancelled
			old[i].AutoRenew = false
			cancelledAt := now
			old[i].CancelledAt = &cancelledAt
			if err := tx.SaveUserSubscription(&old[i]); err != nil {
				return err
			}
			oldPlanID := old[i].PlanID
			if err := tx.AppendHistory(historyEntry(user.ID, old[i].ID, models.HistoryActionCancelled, &oldPlanID, &plan.ID, models.HistoryMetadata{
				Reason:        "superseded",
				StripeEventID: event.ID,
			})); err != nil {
				return err
			}
		}

		if err := tx.CreateUserSubscription(sub); err != nil {
			return err
		}
		if err := tx.AppendHistory(historyEntry(user.ID, sub.ID, models.HistoryActionCreated, nil, &plan.ID, models.HistoryMetadata{
			BillingCycle:         cycle,
			StripeSubscriptionID: live.ID,
			StripeEventID:        event.ID,
		})); err != nil {
			return err
		}

		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid && sess.AmountTotal > 0 {
			inv := &models.Invoice{
				UserID:           user.ID,
				SubscriptionID:   sub.ID,
				PlanName:         plan.Name,
				AmountCents:      sess.AmountTotal,
				TotalAmountCents: sess.AmountTotal,
				PaymentStatus:    models.InvoicePaid,
				PaymentDate:      now,
			}
			if err := tx.CreateInvoice(inv); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) completeCoursePurchase(ctx context.Context, event stripe.Event, sess *stripe.CheckoutSession) error {
	_ = ctx
	courseID, ok := metaUint(sess.Metadata, MetaCourseID)
	if !ok {
		return badEvent("checkout session %s missing course_id metadata", sess.ID)
	}
	enrollmentID, ok := metaUint(sess.Metadata, MetaEnrollmentID)
	if !ok {
		return badEvent("checkout session %s missing enrollment_id metadata", sess.ID)
	}

	enrollment, err := s.repo.GetEnrollment(enrollmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventNotFound("enrollment %d not found", enrollmentID)
		}
		return err
	}
	if enrollment.CourseID != courseID {
		return badEvent("enrollment %d does not belong to course %d", enrollmentID, courseID)
	}
	if _, err := s.repo.GetCourse(courseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventNotFound("course %d not found", courseID)
		}
		return err
	}

	// The paying customer must map onto the user the enrollment was opened
	// for. A session without any payer reference is rejected outright.
	payerResolved := false
	if sess.Customer != nil && sess.Customer.ID != "" {
		user, err := s.repo.GetUserByStripeCustomerID(sess.Customer.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return eventNotFound("customer %s not mapped to a user", sess.Customer.ID)
			}
			return err
		}
		if user.ID != enrollment.UserID {
			return badEvent("customer %s does not match enrollment %d", sess.Customer.ID, enrollmentID)
		}
		payerResolved = true
	}
	if userID, ok := metaUint(sess.Metadata, MetaUserID); ok {
		if userID != enrollment.UserID {
			return badEvent("user_id metadata does not match enrollment %d", enrollmentID)
		}
		payerResolved = true
	}
	if !payerResolved {
		return badEvent("checkout session %s carries no payer reference", sess.ID)
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Async payment methods settle later; the paid event follows.
		return nil
	}
	if enrollment.IsActive() {
		return nil
	}

	return s.repo.Transaction(func(tx Repository) error {
		enrollment.Status = models.EnrollmentActive
		enrollment.AmountCents = sess.AmountTotal
		return tx.SaveEnrollment(enrollment)
	})
}

// handleSubscriptionChanged treats created and updated identically: the
// provider payload is authoritative for status, period and price.
func (s *Service) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return badEvent("failed to unmarshal subscription: %v", err)
	}
	priceID := subscriptionPriceID(&sub)

	if orgSub, err := s.repo.FindOrgSubscriptionByProviderID(sub.ID); err == nil {
		orgSub.Status = SubscriptionStatusFromProvider(string(sub.Status))
		orgSub.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if sub.CurrentPeriodStart > 0 {
			t := time.Unix(sub.CurrentPeriodStart, 0)
			orgSub.CurrentPeriodStart = &t
		}
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0)
			orgSub.CurrentPeriodEnd = &t
		}
		if priceID != "" {
			plans, err := s.repo.ListActivePlans()
			if err != nil {
				return err
			}
			if code, matched := PlanCodeForPrice(plans, priceID, ""); matched {
				orgSub.PlanCode = code
			}
			orgSub.StripePriceID = priceID
		}
		return s.repo.SaveOrgSubscription(orgSub)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	userSub, err := s.repo.FindUserSubscriptionByProviderID(sub.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The completed-checkout event has not landed yet; it will
			// materialize the row with the same authoritative data.
			log.Printf("[Billing] subscription %s not known yet, ignoring %s", sub.ID, event.Type)
			return nil
		}
		return err
	}

	return s.repo.Transaction(func(tx Repository) error {
		newStatus := UserSubscriptionStatusFromProvider(string(sub.Status))
		userSub.Status = newStatus
		userSub.AutoRenew = !sub.CancelAtPeriodEnd
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0)
			userSub.NextBillingDate = &t
			userSub.EndDate = &t
		}
		if newStatus == models.UserSubscriptionCancelled && userSub.CancelledAt == nil {
			now := time.Now()
			userSub.CancelledAt = &now
		}

		if priceID != "" {
			plans, err := tx.ListActivePlans()
			if err != nil {
				return err
			}
			if code, matched := PlanCodeForPrice(plans, priceID, ""); matched {
				plan, err := tx.GetPlanByCode(code)
				if err != nil {
					return err
				}
				if plan.ID != userSub.PlanID {
					oldPlanID := userSub.PlanID
					userSub.PlanID = plan.ID
					userSub.BillingCycle = BillingCycleForPrice(plans, priceID)
					if err := tx.AppendHistory(historyEntry(userSub.UserID, userSub.ID, models.HistoryActionUpgraded, &oldPlanID, &plan.ID, models.HistoryMetadata{
						BillingCycle:  userSub.BillingCycle,
						StripeEventID: event.ID,
					})); err != nil {
						return err
					}
				}
			}
		}

		return tx.SaveUserSubscription(userSub)
	})
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return badEvent("failed to unmarshal subscription: %v", err)
	}

	if orgSub, err := s.repo.FindOrgSubscriptionByProviderID(sub.ID); err == nil {
		orgSub.Status = models.SubscriptionExpired
		return s.repo.SaveOrgSubscription(orgSub)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	userSub, err := s.repo.FindUserSubscriptionByProviderID(sub.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return s.repo.Transaction(func(tx Repository) error {
		now := time.Now()
		userSub.Status = models.UserSubscriptionExpired
		userSub.AutoRenew = false
		if userSub.EndDate == nil {
			userSub.EndDate = &now
		}
		if userSub.CancelledAt == nil {
			userSub.CancelledAt = &now
		}
		if err := tx.SaveUserSubscription(userSub); err != nil {
			return err
		}
		planID := userSub.PlanID
		return tx.AppendHistory(historyEntry(userSub.UserID, userSub.ID, models.HistoryActionExpired, &planID, nil, models.HistoryMetadata{
			StripeSubscriptionID: sub.ID,
			StripeEventID:        event.ID,
		}))
	})
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return badEvent("failed to unmarshal invoice: %v", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-off invoices carry no subscription to reconcile.
		return nil
	}
	periodEnd := invoicePeriodEnd(&inv)

	if orgSub, err := s.repo.FindOrgSubscriptionByProviderID(inv.Subscription.ID); err == nil {
		if inv.AmountPaid > 0 || orgSub.Status != models.SubscriptionTrialing {
			orgSub.Status = models.SubscriptionActive
		}
		if periodEnd != nil {
			orgSub.CurrentPeriodEnd = periodEnd
		}
		return s.repo.SaveOrgSubscription(orgSub)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	userSub, err := s.repo.FindUserSubscriptionByProviderID(inv.Subscription.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[Billing] subscription %s not known yet, ignoring %s", inv.Subscription.ID, event.Type)
			return nil
		}
		return err
	}

	return s.repo.Transaction(func(tx Repository) error {
		if inv.AmountPaid > 0 || userSub.Status != models.UserSubscriptionTrial {
			userSub.Status = models.UserSubscriptionActive
		}
		if periodEnd != nil {
			userSub.NextBillingDate = periodEnd
			userSub.EndDate = periodEnd
		}
		if err := tx.SaveUserSubscription(userSub); err != nil {
			return err
		}

		existing, err := tx.FindInvoiceByStripeInvoiceID(inv.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now()
		if existing != nil {
			if existing.PaymentStatus == models.InvoicePaid {
				return nil
			}
			existing.PaymentStatus = models.InvoicePaid
			existing.AmountCents = inv.AmountPaid
			existing.TotalAmountCents = inv.AmountPaid
			existing.PaymentDate = now
			if err := tx.SaveInvoice(existing); err != nil {
				return err
			}
		} else if inv.AmountPaid > 0 {
			record := &models.Invoice{
				UserID:           userSub.UserID,
				SubscriptionID:   userSub.ID,
				AmountCents:      inv.AmountPaid,
				TotalAmountCents: inv.AmountPaid,
				PaymentStatus:    models.InvoicePaid,
				PaymentDate:      now,
				StripeInvoiceID:  inv.ID,
			}
			if inv.PaymentIntent != nil {
				record.StripePaymentIntentID = inv.PaymentIntent.ID
			}
			if err := tx.CreateInvoice(record); err != nil {
				return err
			}
		} else {
			return nil
		}

		planID := userSub.PlanID
		return tx.AppendHistory(historyEntry(userSub.UserID, userSub.ID, models.HistoryActionRenewed, nil, &planID, models.HistoryMetadata{
			AmountCents:   inv.AmountPaid,
			StripeEventID: event.ID,
		}))
	})
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return badEvent("failed to unmarshal invoice: %v", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}

	if orgSub, err := s.repo.FindOrgSubscriptionByProviderID(inv.Subscription.ID); err == nil {
		orgSub.Status = models.SubscriptionPastDue
		return s.repo.SaveOrgSubscription(orgSub)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	userSub, err := s.repo.FindUserSubscriptionByProviderID(inv.Subscription.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return s.repo.Transaction(func(tx Repository) error {
		userSub.Status = models.UserSubscriptionPastDue
		if err := tx.SaveUserSubscription(userSub); err != nil {
			return err
		}

		existing, err := tx.FindInvoiceByStripeInvoiceID(inv.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil || inv.AmountDue <= 0 {
			return nil
		}
		record := &models.Invoice{
			UserID:           userSub.UserID,
			SubscriptionID:   userSub.ID,
			AmountCents:      inv.AmountDue,
			TotalAmountCents: inv.AmountDue,
			PaymentStatus:    models.InvoiceFailed,
			PaymentDate:      time.Now(),
			StripeInvoiceID:  inv.ID,
		}
		if inv.PaymentIntent != nil {
			record.StripePaymentIntentID = inv.PaymentIntent.ID
		}
		return tx.CreateInvoice(record)
	})
}

// resolvePlanCode maps a provider price onto a plan code, falling back to
// the plan_code recorded in checkout metadata.
func (s *Service) resolvePlanCode(priceID string, metadata map[string]string) (string, error) {
	plans, err := s.repo.ListActivePlans()
	if err != nil {
		return "", err
	}
	fallback, _ := metaString(metadata, MetaPlanCode)
	code, _ := PlanCodeForPrice(plans, priceID, fallback)
	if code == "" {
		return "", badEvent("no plan configured for price %q", priceID)
	}
	return code, nil
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func customerID(candidates ...*stripe.Customer) string {
	for _, c := range candidates {
		if c != nil && c.ID != "" {
			return c.ID
		}
	}
	return ""
}

func invoicePeriodEnd(inv *stripe.Invoice) *time.Time {
	end := inv.PeriodEnd
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil && inv.Lines.Data[0].Period.End > end {
		end = inv.Lines.Data[0].Period.End
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0)
	return &t
}

func historyEntry(userID, subscriptionID uint, action string, oldPlanID, newPlanID *uint, meta models.HistoryMetadata) *models.SubscriptionHistory {
	entry := &models.SubscriptionHistory{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Action:         action,
		OldPlanID:      oldPlanID,
		NewPlanID:      newPlanID,
	}
	if err := entry.SetMetadata(meta); err != nil {
		entry.MetadataJSON = ""
	}
	return entry
}
