package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/entitlements"
	"github.com/DanielKirsch/CourseHive/internal/pkg/session"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
	"github.com/DanielKirsch/CourseHive/internal/pkg/utils"
)

// HandleUserDashboard renders the learner's home: active enrollments,
// subscription state and upcoming support sessions.
func HandleUserDashboard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	db := database.GetDB()

	enrollments, err := repository.GetGlobalFactory().GetEnrollmentRepository().GetActiveByUserID(userCtx.UserID)
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurse konnten nicht geladen werden"})
		return c.Redirect("/")
	}

	plan, _ := entitlements.EffectivePlanForUser(db, userCtx.UserID)

	var sub *models.UserSubscription
	var found models.UserSubscription
	if err := db.Preload("Plan").
		Where("user_id = ? AND status IN ?", userCtx.UserID, []string{
			models.UserSubscriptionTrial,
			models.UserSubscriptionActive,
		}).
		First(&found).Error; err == nil {
		sub = &found
	}

	return c.Render("user/dashboard", fiber.Map{
		"Page":              "dashboard",
		"Username":          userCtx.Username,
		"Enrollments":       enrollments,
		"Plan":              string(plan),
		"Subscription":      sub,
		"CanJoinSupport":    entitlements.CanJoinSupportSessions(plan),
		"HasPremiumCatalog": entitlements.HasPremiumCatalog(plan),
		"Msg":               flash.Get(c),
		"CSRFToken":         csrfToken(c),
	}, "layouts/main")
}

func HandleUserProfile(c *fiber.Ctx) error {
	sess, _ := session.GetSessionStore().Get(c)
	userID := sess.Get(USER_ID).(uint)
	username := sess.Get(USER_NAME).(string)

	var user models.User
	if err := database.GetDB().First(&user, userID).Error; err != nil {
		flash.WithError(c, fiber.Map{"message": "User not found"})
		return c.Redirect("/")
	}

	enrollmentRepo := repository.GetGlobalFactory().GetEnrollmentRepository()
	var enrollmentCount int64
	if enrollments, err := enrollmentRepo.GetActiveByUserID(userID); err == nil {
		enrollmentCount = int64(len(enrollments))
	}

	var courseCount int64
	database.GetDB().Model(&models.Course{}).Where("instructor_id = ?", userID).Count(&courseCount)

	avatarURL := user.AvatarURL
	if avatarURL == "" {
		avatarURL = utils.GetGravatarURL(user.Email, 160)
	}

	return c.Render("user/profile", fiber.Map{
		"Page":            "profile",
		"Username":        username,
		"User":            user,
		"AvatarURL":       avatarURL,
		"EnrollmentCount": enrollmentCount,
		"CourseCount":     courseCount,
		"Msg":             flash.Get(c),
		"CSRFToken":       csrfToken(c),
	}, "layouts/main")
}

// HandleUserProfileEdit renders and processes the profile form.
func HandleUserProfileEdit(c *fiber.Ctx) error {
	sess, _ := session.GetSessionStore().Get(c)
	userID := sess.Get(USER_ID).(uint)
	username := sess.Get(USER_NAME).(string)

	var user models.User
	if err := database.GetDB().First(&user, userID).Error; err != nil {
		flash.WithError(c, fiber.Map{"message": "User not found"})
		return c.Redirect("/")
	}

	if c.Method() == fiber.MethodPost {
		name := c.FormValue("name")
		bio := c.FormValue("bio")

		if name != "" {
			user.Name = name
		}
		user.Bio = bio

		if err := user.Validate(); err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Ungültige Eingaben: " + err.Error()})
			return c.Redirect("/user/profile/edit")
		}

		if err := database.GetDB().Save(&user).Error; err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Profil konnte nicht gespeichert werden"})
			return c.Redirect("/user/profile/edit")
		}

		sess.Set(USER_NAME, user.Name)
		_ = sess.Save()

		flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Profil aktualisiert"})
		return c.Redirect("/user/profile")
	}

	return c.Render("user/profile_edit", fiber.Map{
		"Page":      "profile",
		"Username":  username,
		"User":      user,
		"Msg":       flash.Get(c),
		"CSRFToken": csrfToken(c),
	}, "layouts/main")
}
