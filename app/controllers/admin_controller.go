package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/checkout"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/statistics"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
)

// AdminController handles admin-related HTTP requests using repository pattern
type AdminController struct {
	repos *repository.Repositories
}

// NewAdminController creates a new admin controller with repository dependencies
func NewAdminController(repos *repository.Repositories) *AdminController {
	return &AdminController{
		repos: repos,
	}
}

// HandleDashboard renders the admin overview from the cached statistics
// snapshot plus the newest registrations.
func (ac *AdminController) HandleDashboard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	statistics.UpdateCacheIfNeeded()
	stats := statistics.GetStatisticsData()

	recentUsers, err := ac.repos.User.List(0, 5)
	if err != nil {
		return ac.handleError(c, "Failed to get recent users", err)
	}

	popular, err := ac.repos.Course.GetPopular(5)
	if err != nil {
		return ac.handleError(c, "Failed to get popular courses", err)
	}

	return c.Render("admin/dashboard", fiber.Map{
		"Page":           "admin",
		"Username":       userCtx.Username,
		"IsAdmin":        true,
		"Stats":          stats,
		"RecentUsers":    recentUsers,
		"PopularCourses": popular,
		"Msg":            flash.Get(c),
	}, "layouts/main")
}

// HandleUsers renders the user management page with repository pattern
func (ac *AdminController) HandleUsers(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage := 20
	offset := (page - 1) * perPage

	totalUsers, err := ac.repos.User.Count()
	if err != nil {
		return ac.handleError(c, "Failed to get user count", err)
	}

	usersWithStats, err := ac.repos.User.GetWithStats(offset, perPage)
	if err != nil {
		return ac.handleError(c, "Failed to get users with statistics", err)
	}

	totalPages := int(totalUsers) / perPage
	if int(totalUsers)%perPage > 0 {
		totalPages++
	}
	pages := make([]int, totalPages)
	for i := range pages {
		pages[i] = i + 1
	}

	return c.Render("admin/users", fiber.Map{
		"Page":       "admin",
		"Username":   userCtx.Username,
		"IsAdmin":    true,
		"Users":      usersWithStats,
		"TotalUsers": totalUsers,
		"PageNum":    page,
		"Pages":      pages,
		"Msg":        flash.Get(c),
		"CSRFToken":  csrfToken(c),
	}, "layouts/main")
}

// HandleUserEdit renders the edit form for a single user
func (ac *AdminController) HandleUserEdit(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid user id")
	}

	user, err := ac.repos.User.GetByID(uint(userID))
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "User nicht gefunden"})
		return c.Redirect("/admin/users")
	}

	return c.Render("admin/user_edit", fiber.Map{
		"Page":      "admin",
		"Username":  userCtx.Username,
		"IsAdmin":   true,
		"User":      user,
		"Msg":       flash.Get(c),
		"CSRFToken": csrfToken(c),
	}, "layouts/main")
}

// HandleUserUpdate applies role and status changes to a user
func (ac *AdminController) HandleUserUpdate(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid user id")
	}

	user, err := ac.repos.User.GetByID(uint(userID))
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "User nicht gefunden"})
		return c.Redirect("/admin/users")
	}

	switch role := c.FormValue("role"); role {
	case models.ROLE_USER, models.ROLE_INSTRUCTOR, models.ROLE_ADMIN:
		user.Role = role
	}
	switch status := c.FormValue("status"); status {
	case models.STATUS_ACTIVE, models.STATUS_INACTIVE, models.STATUS_DISABLED:
		user.Status = status
	}

	if err := ac.repos.User.Update(user); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "User konnte nicht gespeichert werden"})
		return c.Redirect(fmt.Sprintf("/admin/users/edit/%d", user.ID))
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "User aktualisiert"})
	return c.Redirect("/admin/users")
}

// HandleUserDelete soft deletes a user account
func (ac *AdminController) HandleUserDelete(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid user id")
	}
	if uint(userID) == userCtx.UserID {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Du kannst dich nicht selbst löschen"})
		return c.Redirect("/admin/users")
	}

	if err := ac.repos.User.Delete(uint(userID)); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "User konnte nicht gelöscht werden"})
		return c.Redirect("/admin/users")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "User gelöscht"})
	return c.Redirect("/admin/users")
}

// HandleSearch searches users by name or email
func (ac *AdminController) HandleSearch(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Redirect("/admin/users")
	}

	usersWithStats, err := ac.repos.User.SearchWithStats(query)
	if err != nil {
		return ac.handleError(c, "Failed to search users", err)
	}

	return c.Render("admin/users", fiber.Map{
		"Page":       "admin",
		"Username":   userCtx.Username,
		"IsAdmin":    true,
		"Users":      usersWithStats,
		"TotalUsers": int64(len(usersWithStats)),
		"Query":      query,
		"PageNum":    1,
		"Msg":        flash.Get(c),
		"CSRFToken":  csrfToken(c),
	}, "layouts/main")
}

// HandleResendActivation generates a fresh token and resends the mail
func (ac *AdminController) HandleResendActivation(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid user id")
	}

	user, err := ac.repos.User.GetByID(uint(userID))
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "User nicht gefunden"})
		return c.Redirect("/admin/users")
	}
	if user.IsActive() {
		flash.WithInfo(c, fiber.Map{"type": "info", "message": "Konto ist bereits aktiv"})
		return c.Redirect("/admin/users")
	}

	if err := user.GenerateActivationToken(); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Token konnte nicht erzeugt werden"})
		return c.Redirect("/admin/users")
	}
	if err := ac.repos.User.Update(user); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "User konnte nicht gespeichert werden"})
		return c.Redirect("/admin/users")
	}

	go sendActivationMail(user)

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Aktivierungsmail erneut versendet"})
	return c.Redirect("/admin/users")
}

// HandleSubscriptionHardCancel terminates a user's subscription immediately
// instead of letting it run to the period end. Used for refunds and abuse.
func (ac *AdminController) HandleSubscriptionHardCancel(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid user id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := CheckoutService().HardCancelSubscription(ctx, uint(userID)); err != nil {
		switch {
		case errors.Is(err, checkout.ErrNoActiveSubscription):
			flash.WithInfo(c, fiber.Map{"type": "info", "message": "Kein aktives Abo gefunden"})
		case errors.Is(err, checkout.ErrPaymentGateway):
			flash.WithError(c, fiber.Map{"type": "error", "message": "Zahlungsanbieter nicht erreichbar"})
		default:
			flash.WithError(c, fiber.Map{"type": "error", "message": "Abo konnte nicht beendet werden"})
		}
		return c.Redirect("/admin/users")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Abo sofort beendet"})
	return c.Redirect("/admin/users")
}

// HandlePlans shows the configured plans with their provider price IDs so
// an operator can verify the price mapping against the Stripe dashboard.
func (ac *AdminController) HandlePlans(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var plans []models.Plan
	if err := database.GetDB().Order("price_monthly_cents ASC").Find(&plans).Error; err != nil {
		return ac.handleError(c, "Failed to get plans", err)
	}

	return c.Render("admin/plans", fiber.Map{
		"Page":     "admin",
		"Username": userCtx.Username,
		"IsAdmin":  true,
		"Plans":    plans,
		"Msg":      flash.Get(c),
	}, "layouts/main")
}

// HandleCourses lists all courses for moderation
func (ac *AdminController) HandleCourses(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage := 20

	courses, err := ac.repos.Course.GetPublished((page-1)*perPage, perPage)
	if err != nil {
		return ac.handleError(c, "Failed to get courses", err)
	}

	totalCourses, err := ac.repos.Course.Count()
	if err != nil {
		return ac.handleError(c, "Failed to get course count", err)
	}

	return c.Render("admin/courses", fiber.Map{
		"Page":         "admin",
		"Username":     userCtx.Username,
		"IsAdmin":      true,
		"Courses":      courses,
		"TotalCourses": totalCourses,
		"PageNum":      page,
		"Msg":          flash.Get(c),
		"CSRFToken":    csrfToken(c),
	}, "layouts/main")
}

// HandleCourseUnpublish takes a course off the catalog
func (ac *AdminController) HandleCourseUnpublish(c *fiber.Ctx) error {
	courseID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid course id")
	}

	course, err := ac.repos.Course.GetByID(uint(courseID))
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs nicht gefunden"})
		return c.Redirect("/admin/courses")
	}

	course.Published = false
	if err := ac.repos.Course.Update(course); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs konnte nicht gespeichert werden"})
		return c.Redirect("/admin/courses")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Kurs vom Katalog genommen"})
	return c.Redirect("/admin/courses")
}

// handleError logs and renders a generic admin failure
func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	fmt.Printf("[Admin] %s: %v\n", message, err)
	flash.WithError(c, fiber.Map{"type": "error", "message": message})
	return c.Redirect("/admin")
}
