package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/entitlements"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	db := database.GetDB()
	plan, err := entitlements.EffectivePlanForUser(db, userCtx.UserID)
	if err != nil {
		plan = entitlements.PlanFree
	}

	enrollments, err := repository.GetGlobalFactory().GetEnrollmentRepository().GetActiveByUserID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load enrollments"})
	}

	var spentCents int64
	db.Model(&models.Enrollment{}).Where("user_id = ?", userCtx.UserID).
		Select("COALESCE(SUM(amount_cents), 0)").Row().Scan(&spentCents)

	var courseCount int64
	db.Model(&models.Course{}).Where("instructor_id = ?", userCtx.UserID).Count(&courseCount)

	response := fiber.Map{
		"id":            account.ID,
		"username":      account.Name,
		"email":         account.Email,
		"status":        account.Status,
		"role":          account.Role,
		"plan":          string(plan),
		"is_admin":      account.Role == models.ROLE_ADMIN,
		"created_at":    account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at": formatTimePtr(account.LastLoginAt),
		"stats": fiber.Map{
			"enrollments": fiber.Map{
				"count":       len(enrollments),
				"spent_cents": spentCents,
			},
			"courses": fiber.Map{
				"count": courseCount,
			},
		},
		"entitlements": fiber.Map{
			"support_sessions": entitlements.CanJoinSupportSessions(plan),
			"premium_catalog":  entitlements.HasPremiumCatalog(plan),
		},
	}

	return c.JSON(response)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
