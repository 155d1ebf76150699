package controllers

import (
	"strconv"
	"sync"
	"time"

	"github.com/DanielKirsch/CourseHive/internal/pkg/billing"
	"github.com/DanielKirsch/CourseHive/internal/pkg/cache"
	"github.com/DanielKirsch/CourseHive/internal/pkg/checkout"
	"github.com/DanielKirsch/CourseHive/internal/pkg/coursemedia"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
	"github.com/DanielKirsch/CourseHive/internal/pkg/jobqueue"
	"github.com/DanielKirsch/CourseHive/internal/pkg/supportqueue"
)

var (
	billingService  *billing.Service
	checkoutService *checkout.Service
	supportQueue    *supportqueue.Queue
	mediaClient     *coursemedia.Client

	servicesOnce sync.Once
)

// InitializeServices wires the billing, checkout, support queue and media
// services from environment configuration. Called once during router setup.
func InitializeServices() {
	servicesOnce.Do(func() {
		appURL := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080")

		gateway := billing.NewStripeGateway(env.GetEnv("STRIPE_SECRET_KEY", ""))

		billingCfg := billing.Config{
			SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    appURL + "/checkout/success",
			CancelURL:     appURL + "/checkout/cancel",
		}
		billingService = billing.NewServiceFromDB(database.GetDB(), gateway, billingCfg)

		rateLimit := checkoutRateLimit()
		checkoutCfg := checkout.Config{
			SuccessURL: billingCfg.SuccessURL,
			CancelURL:  billingCfg.CancelURL,
			RateLimit:  rateLimit,
			RateWindow: time.Minute,
		}
		limiter := checkout.NewRedisRateLimiter(cache.GetClient(), rateLimit, time.Minute)
		checkoutService = checkout.NewService(database.GetDB(), gateway, limiter, checkoutCfg)

		supportQueue = supportqueue.New(cache.GetClient())

		mediaCfg, err := coursemedia.LoadConfig()
		if err == nil && mediaCfg.Enabled {
			if client, err := coursemedia.NewClient(mediaCfg); err == nil {
				mediaClient = client
				jobqueue.SetMediaClient(client)
			}
		}
	})
}

// checkoutRateLimit reads CHECKOUT_RATE_LIMIT, falling back to 10 on
// unset, unparsable or non-positive values.
func checkoutRateLimit() int64 {
	n, err := strconv.Atoi(env.GetEnv("CHECKOUT_RATE_LIMIT", "10"))
	if err != nil || n <= 0 {
		return 10
	}
	return int64(n)
}

// BillingService returns the shared billing service instance.
func BillingService() *billing.Service {
	return billingService
}

// CheckoutService returns the shared checkout service instance.
func CheckoutService() *checkout.Service {
	return checkoutService
}

// SupportQueue returns the shared support queue instance.
func SupportQueue() *supportqueue.Queue {
	return supportQueue
}
