package entitlements

import (
	"strings"

	"gorm.io/gorm"

	"github.com/DanielKirsch/CourseHive/app/models"
)

type Plan string

const (
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// NormalizePlan folds arbitrary plan strings onto known plans; anything
// unknown is free.
func NormalizePlan(raw string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanBasic:
		return PlanBasic
	case PlanPro:
		return PlanPro
	default:
		return PlanFree
	}
}

// Rank orders plans so the best of several subscriptions wins.
func Rank(p Plan) int {
	switch p {
	case PlanPro:
		return 2
	case PlanBasic:
		return 1
	default:
		return 0
	}
}

// CanJoinSupportSessions reports whether the plan grants access to live
// support sessions.
func CanJoinSupportSessions(p Plan) bool {
	return Rank(p) >= Rank(PlanBasic)
}

// HasPremiumCatalog reports whether the plan unlocks the subscription
// catalog without per-course purchases.
func HasPremiumCatalog(p Plan) bool {
	return p == PlanPro
}

// EffectivePlanForUser computes the best plan a user currently holds, over
// personal subscriptions and subscriptions of organizations the user owns.
func EffectivePlanForUser(db *gorm.DB, userID uint) (Plan, error) {
	best := PlanFree

	var personal []models.UserSubscription
	err := db.Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, []string{
			models.UserSubscriptionTrial,
			models.UserSubscriptionActive,
		}).Find(&personal).Error
	if err != nil {
		return best, err
	}
	for i := range personal {
		if personal[i].Plan == nil {
			continue
		}
		if p := NormalizePlan(personal[i].Plan.Code); Rank(p) > Rank(best) {
			best = p
		}
	}

	var orgSubs []models.Subscription
	err = db.Joins("JOIN organizations ON organizations.id = subscriptions.org_id").
		Where("organizations.owner_id = ?", userID).
		Find(&orgSubs).Error
	if err != nil {
		return best, err
	}
	for i := range orgSubs {
		if !orgSubs[i].IsEntitling() {
			continue
		}
		if p := NormalizePlan(orgSubs[i].PlanCode); Rank(p) > Rank(best) {
			best = p
		}
	}

	return best, nil
}
