package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/internal/pkg/billing"
	"github.com/DanielKirsch/CourseHive/internal/pkg/checkout"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/session"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

// webhookMaxBodyBytes caps provider payloads; Stripe events are small.
const webhookMaxBodyBytes = 64 * 1024

// HandleStripeWebhook receives signed billing events from Stripe. The
// response status tells Stripe whether to redeliver: 2xx and 4xx are final,
// 5xx requests a retry.
func HandleStripeWebhook(c *fiber.Ctx) error {
	body := c.BodyRaw()
	if len(body) > webhookMaxBodyBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "payload_too_large"})
	}
	payload := append([]byte(nil), body...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := BillingService().HandleWebhook(ctx, payload, signature)
	status := billing.StatusForError(err)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(status).JSON(fiber.Map{"received": true})
}

// HandleBillingOverview renders the user's subscription and invoice history.
func HandleBillingOverview(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	db := database.GetDB()

	var sub *models.UserSubscription
	var found models.UserSubscription
	err := db.Preload("Plan").
		Where("user_id = ? AND status IN ?", userCtx.UserID, []string{
			models.UserSubscriptionTrial,
			models.UserSubscriptionActive,
			models.UserSubscriptionPastDue,
		}).
		Order("created_at DESC").
		First(&found).Error
	if err == nil {
		sub = &found
	}

	var invoices []models.Invoice
	db.Where("user_id = ?", userCtx.UserID).Order("created_at DESC").Limit(24).Find(&invoices)

	var history []models.SubscriptionHistory
	db.Where("user_id = ?", userCtx.UserID).Order("created_at DESC").Limit(24).Find(&history)

	var plans []models.Plan
	db.Where("is_active = ?", true).Order("price_monthly_cents ASC").Find(&plans)

	return c.Render("billing/overview", fiber.Map{
		"Page":         "billing",
		"Username":     userCtx.Username,
		"Subscription": sub,
		"Invoices":     invoices,
		"History":      history,
		"Plans":        plans,
		"Msg":          flash.Get(c),
		"CSRFToken":    csrfToken(c),
	}, "layouts/main")
}

// HandleSubscribe starts a subscription checkout for the posted plan.
func HandleSubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	planCode := c.FormValue("plan")
	cycle := c.FormValue("cycle", "monthly")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url, err := CheckoutService().BeginSubscriptionCheckout(ctx, userCtx.UserID, planCode, cycle)
	if err != nil {
		return redirectCheckoutError(c, err, "/billing")
	}
	return c.Redirect(url, fiber.StatusSeeOther)
}

// HandleOrgSubscribe starts a subscription checkout for an organization.
func HandleOrgSubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	orgID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid organization id")
	}
	planCode := c.FormValue("plan")
	cycle := c.FormValue("cycle", "monthly")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url, err := CheckoutService().BeginOrgSubscriptionCheckout(ctx, userCtx.UserID, uint(orgID), planCode, cycle)
	if err != nil {
		return redirectCheckoutError(c, err, "/billing")
	}
	return c.Redirect(url, fiber.StatusSeeOther)
}

// HandleCancelSubscription schedules the user's subscription to end at the
// period boundary. Entitlement is only revoked by the provider webhook.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := CheckoutService().CancelSubscription(ctx, userCtx.UserID); err != nil {
		return redirectCheckoutError(c, err, "/billing")
	}

	fm := fiber.Map{
		"type":    "success",
		"message": "Dein Abo endet zum Ende der Laufzeit.",
	}
	return flash.WithSuccess(c, fm).Redirect("/billing")
}

// HandleUpgradeSubscription swaps the user's subscription to another plan.
func HandleUpgradeSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	planCode := c.FormValue("plan")
	cycle := c.FormValue("cycle", "monthly")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := CheckoutService().UpgradeSubscription(ctx, userCtx.UserID, planCode, cycle); err != nil {
		return redirectCheckoutError(c, err, "/billing")
	}

	// Drop the cached plan so the next request reflects the webhook result.
	_ = session.SetSessionValue(c, "user_plan", "")

	fm := fiber.Map{
		"type":    "success",
		"message": fmt.Sprintf("Planwechsel zu %s angestoßen.", planCode),
	}
	return flash.WithSuccess(c, fm).Redirect("/billing")
}

// HandleResyncSubscription refetches the subscription from the provider
// and overwrites the local state with it.
func HandleResyncSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := CheckoutService().ResyncSubscription(ctx, userCtx.UserID); err != nil {
		return redirectCheckoutError(c, err, "/billing")
	}

	_ = session.SetSessionValue(c, "user_plan", "")

	fm := fiber.Map{
		"type":    "success",
		"message": "Abo-Status wurde neu abgeglichen.",
	}
	return flash.WithSuccess(c, fm).Redirect("/billing")
}

// HandleCancelOrgSubscription schedules an org subscription cancellation.
func HandleCancelOrgSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	orgID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid organization id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := CheckoutService().CancelOrgSubscription(ctx, userCtx.UserID, uint(orgID)); err != nil {
		return redirectCheckoutError(c, err, "/billing")
	}

	fm := fiber.Map{
		"type":    "success",
		"message": "Das Team-Abo endet zum Ende der Laufzeit.",
	}
	return flash.WithSuccess(c, fm).Redirect("/billing")
}

// HandleCheckoutSuccess is the return page after a completed provider
// checkout. Entitlement may lag a moment behind until the webhook lands.
func HandleCheckoutSuccess(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	// Force a fresh plan lookup on the next request.
	_ = session.SetSessionValue(c, "user_plan", "")

	return c.Render("billing/checkout_success", fiber.Map{
		"Page":     "checkout",
		"Username": userCtx.Username,
		"Msg":      flash.Get(c),
	}, "layouts/main")
}

// HandleCheckoutCancel is the return page after an aborted checkout.
func HandleCheckoutCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	return c.Render("billing/checkout_cancel", fiber.Map{
		"Page":     "checkout",
		"Username": userCtx.Username,
		"Msg":      flash.Get(c),
	}, "layouts/main")
}

// redirectCheckoutError maps checkout failures to user-facing flash messages.
func redirectCheckoutError(c *fiber.Ctx, err error, fallback string) error {
	// Being enrolled already is not a failure, the user just has nothing
	// left to buy.
	if errors.Is(err, checkout.ErrAlreadyEnrolled) {
		fm := fiber.Map{"type": "success", "message": "Du bist bereits eingeschrieben."}
		return flash.WithSuccess(c, fm).Redirect(fallback)
	}

	fm := fiber.Map{"type": "error"}
	switch {
	case errors.Is(err, checkout.ErrRateLimited):
		fm["message"] = "Zu viele Checkout-Versuche. Bitte warte kurz und versuche es erneut."
	case errors.Is(err, checkout.ErrCourseUnavailable):
		fm["message"] = "Dieser Kurs ist aktuell nicht verfügbar."
	case errors.Is(err, checkout.ErrPlanUnavailable):
		fm["message"] = "Dieser Plan ist aktuell nicht verfügbar."
	case errors.Is(err, checkout.ErrNotOrgOwner):
		fm["message"] = "Nur der Team-Inhaber kann das Abo verwalten."
	case errors.Is(err, checkout.ErrNoActiveSubscription):
		fm["message"] = "Kein aktives Abo gefunden."
	case errors.Is(err, checkout.ErrPaymentGateway):
		fm["message"] = "Der Zahlungsanbieter ist gerade nicht erreichbar. Bitte versuche es später erneut."
	default:
		fm["message"] = "Etwas ist schiefgelaufen. Bitte versuche es erneut."
	}
	return flash.WithError(c, fm).Redirect(fallback)
}
