package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/statistics"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
)

func HandleStart(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	popular, err := repository.GetGlobalFactory().GetCourseRepository().GetPopular(6)
	if err != nil {
		popular = nil
	}

	statistics.UpdateCacheIfNeeded()
	stats := statistics.GetStatisticsData()

	return c.Render("home", fiber.Map{
		"Page":           "home",
		"Username":       userCtx.Username,
		"IsLoggedIn":     userCtx.IsLoggedIn,
		"PopularCourses": popular,
		"TotalCourses":   stats.PublishedCourses,
		"TotalUsers":     stats.TotalUsers,
		"Msg":            flash.Get(c),
	}, "layouts/main")
}

// HandlePricing renders the plan comparison page from the active plans table.
func HandlePricing(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var plans []models.Plan
	database.GetDB().Where("is_active = ?", true).Order("price_monthly_cents ASC").Find(&plans)

	return c.Render("pricing", fiber.Map{
		"Page":       "pricing",
		"Username":   userCtx.Username,
		"IsLoggedIn": userCtx.IsLoggedIn,
		"Plan":       userCtx.Plan,
		"Plans":      plans,
		"Msg":        flash.Get(c),
		"CSRFToken":  csrfToken(c),
	}, "layouts/main")
}

func HandleAbout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	return c.Render("about", fiber.Map{
		"Page":       "about",
		"Username":   userCtx.Username,
		"IsLoggedIn": userCtx.IsLoggedIn,
		"Msg":        flash.Get(c),
	}, "layouts/main")
}

func HandleContact(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	return c.Render("contact", fiber.Map{
		"Page":       "contact",
		"Username":   userCtx.Username,
		"IsLoggedIn": userCtx.IsLoggedIn,
		"Msg":        flash.Get(c),
	}, "layouts/main")
}
