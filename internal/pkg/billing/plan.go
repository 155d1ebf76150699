package billing

import (
	"strings"

	"github.com/DanielKirsch/CourseHive/app/models"
)

// NormalizeBillingCycle folds provider interval spellings onto the two
// cycles plans are priced in. Anything unrecognized becomes monthly.
func NormalizeBillingCycle(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "year", "yearly", "annual", "annually":
		return models.BillingCycleYearly
	case "month", "monthly":
		return models.BillingCycleMonthly
	default:
		return models.BillingCycleMonthly
	}
}

// PlanCodeForPrice resolves a provider price ID to a plan code. When the
// price is not configured on any plan the fallback code from checkout
// metadata wins, so a price rotation on the provider side does not strand
// paying subscribers.
func PlanCodeForPrice(plans []models.Plan, priceID, fallbackCode string) (string, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID != "" {
		for i := range plans {
			if plans[i].StripePriceMonthly == priceID || plans[i].StripePriceYearly == priceID {
				return plans[i].Code, true
			}
		}
	}
	fallbackCode = strings.TrimSpace(fallbackCode)
	if fallbackCode != "" {
		return fallbackCode, false
	}
	return "", false
}

// BillingCycleForPrice reports which cycle a provider price ID belongs to.
func BillingCycleForPrice(plans []models.Plan, priceID string) string {
	for i := range plans {
		if plans[i].StripePriceYearly == priceID {
			return models.BillingCycleYearly
		}
		if plans[i].StripePriceMonthly == priceID {
			return models.BillingCycleMonthly
		}
	}
	return models.BillingCycleMonthly
}

// SubscriptionStatusFromProvider maps a provider subscription status onto
// the organization subscription vocabulary. Unknown statuses land on
// incomplete, never on an entitling state.
func SubscriptionStatusFromProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return models.SubscriptionActive
	case "trialing":
		return models.SubscriptionTrialing
	case "past_due":
		return models.SubscriptionPastDue
	case "canceled", "cancelled":
		return models.SubscriptionCancelled
	case "unpaid", "incomplete_expired":
		return models.SubscriptionExpired
	case "incomplete":
		return models.SubscriptionIncomplete
	case "paused":
		return models.SubscriptionPaused
	default:
		return models.SubscriptionIncomplete
	}
}

// UserSubscriptionStatusFromProvider maps a provider subscription status
// onto the legacy per-user vocabulary, which has no incomplete or paused
// state. Both fold onto past_due.
func UserSubscriptionStatusFromProvider(raw string) string {
	switch SubscriptionStatusFromProvider(raw) {
	case models.SubscriptionTrialing:
		return models.UserSubscriptionTrial
	case models.SubscriptionActive:
		return models.UserSubscriptionActive
	case models.SubscriptionCancelled:
		return models.UserSubscriptionCancelled
	case models.SubscriptionExpired:
		return models.UserSubscriptionExpired
	default:
		return models.UserSubscriptionPastDue
	}
}
