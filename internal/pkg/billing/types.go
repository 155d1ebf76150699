package billing

import (
	"strconv"
	"strings"
)

// ProviderStripe is the provider key recorded on webhook events.
const ProviderStripe = "stripe"

// Checkout metadata keys. Values are written when a checkout session is
// created and read back when the completed event arrives.
const (
	MetaUserID       = "user_id"
	MetaOrgID        = "org_id"
	MetaCourseID     = "course_id"
	MetaEnrollmentID = "enrollment_id"
	MetaPlanCode     = "plan_code"
	MetaBillingCycle = "billing_cycle"
)

// Handled webhook event types.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceSucceeded    = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

func metaUint(metadata map[string]string, key string) (uint, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func metaString(metadata map[string]string, key string) (string, bool) {
	raw, ok := metadata[key]
	if !ok {
		return "", false
	}
	v := strings.TrimSpace(raw)
	return v, v != ""
}
