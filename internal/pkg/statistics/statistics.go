package statistics

import (
	"encoding/json"
	"log"
	"time"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/internal/pkg/cache"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
)

const (
	statsCacheKey      = "stats:platform"
	statsCacheInterval = 5 * time.Minute
)

var lastCacheUpdate time.Time

// StatisticsData is the cached snapshot shown on the admin overview.
type StatisticsData struct {
	TotalUsers          int64 `json:"total_users"`
	TotalCourses        int64 `json:"total_courses"`
	PublishedCourses    int64 `json:"published_courses"`
	TotalEnrollments    int64 `json:"total_enrollments"`
	ActiveEnrollments   int64 `json:"active_enrollments"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	ActiveOrgSubs       int64 `json:"active_org_subs"`
	RevenueCents        int64 `json:"revenue_cents"`
	TodaySignups        int64 `json:"today_signups"`
	UpdatedAt           int64 `json:"updated_at"`
}

// ShouldUpdateCache reports whether the snapshot is stale.
func ShouldUpdateCache() bool {
	return time.Since(lastCacheUpdate) > statsCacheInterval
}

// UpdateCacheIfNeeded refreshes the snapshot when it is stale.
func UpdateCacheIfNeeded() {
	if !ShouldUpdateCache() {
		return
	}
	if err := UpdateStatisticsCache(); err != nil {
		log.Printf("[Statistics] cache update failed: %v", err)
	}
}

// UpdateStatisticsCache recomputes the snapshot from the database and
// stores it in Redis.
func UpdateStatisticsCache() error {
	db := database.GetDB()
	data := StatisticsData{UpdatedAt: time.Now().Unix()}

	db.Model(&models.User{}).Count(&data.TotalUsers)
	db.Model(&models.Course{}).Count(&data.TotalCourses)
	db.Model(&models.Course{}).Where("published = ?", true).Count(&data.PublishedCourses)
	db.Model(&models.Enrollment{}).Count(&data.TotalEnrollments)
	db.Model(&models.Enrollment{}).Where("status = ?", models.EnrollmentActive).Count(&data.ActiveEnrollments)
	db.Model(&models.UserSubscription{}).Where("status IN ?", []string{
		models.UserSubscriptionTrial,
		models.UserSubscriptionActive,
	}).Count(&data.ActiveSubscriptions)
	db.Model(&models.Subscription{}).Where("status IN ?", []string{
		models.SubscriptionActive,
		models.SubscriptionTrialing,
		models.SubscriptionPastDue,
	}).Count(&data.ActiveOrgSubs)

	var revenue *int64
	db.Model(&models.Invoice{}).Where("payment_status = ?", models.InvoicePaid).
		Select("SUM(total_amount_cents)").Scan(&revenue)
	if revenue != nil {
		data.RevenueCents = *revenue
	}

	todayStart := time.Now().Truncate(24 * time.Hour)
	db.Model(&models.User{}).Where("created_at >= ?", todayStart).Count(&data.TodaySignups)

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := cache.Set(statsCacheKey, payload, statsCacheInterval*2); err != nil {
		return err
	}
	lastCacheUpdate = time.Now()
	return nil
}

// GetStatisticsData returns the cached snapshot, refreshing it on a miss.
func GetStatisticsData() StatisticsData {
	raw, err := cache.Get(statsCacheKey)
	if err == nil && raw != "" {
		var data StatisticsData
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			return data
		}
	}

	if err := UpdateStatisticsCache(); err != nil {
		log.Printf("[Statistics] refresh failed: %v", err)
		return StatisticsData{}
	}
	raw, err = cache.Get(statsCacheKey)
	if err != nil {
		return StatisticsData{}
	}
	var data StatisticsData
	_ = json.Unmarshal([]byte(raw), &data)
	return data
}
