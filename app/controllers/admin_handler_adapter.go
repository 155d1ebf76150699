package controllers

import (
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/gofiber/fiber/v2"
)

// Global admin controller instance
var adminController *AdminController

// InitializeAdminController initializes the global admin controller with repositories
func InitializeAdminController() {
	repos := repository.GetGlobalRepositories()
	adminController = NewAdminController(repos)
}

// GetAdminController returns the global admin controller instance
func GetAdminController() *AdminController {
	if adminController == nil {
		InitializeAdminController()
	}
	return adminController
}

// Adapter functions to maintain compatibility with existing router

// HandleAdminDashboard - Adapter for admin dashboard
func HandleAdminDashboard(c *fiber.Ctx) error {
	return GetAdminController().HandleDashboard(c)
}

// HandleAdminUsers - Adapter for user management
func HandleAdminUsers(c *fiber.Ctx) error {
	return GetAdminController().HandleUsers(c)
}

// HandleAdminUserEdit - Adapter for user edit
func HandleAdminUserEdit(c *fiber.Ctx) error {
	return GetAdminController().HandleUserEdit(c)
}

// HandleAdminUserUpdate - Adapter for user update
func HandleAdminUserUpdate(c *fiber.Ctx) error {
	return GetAdminController().HandleUserUpdate(c)
}

// HandleAdminUserDelete - Adapter for user delete
func HandleAdminUserDelete(c *fiber.Ctx) error {
	return GetAdminController().HandleUserDelete(c)
}

// HandleAdminSearch - Adapter for search functionality
func HandleAdminSearch(c *fiber.Ctx) error {
	return GetAdminController().HandleSearch(c)
}

// HandleAdminResendActivation - Adapter for resend activation
func HandleAdminResendActivation(c *fiber.Ctx) error {
	return GetAdminController().HandleResendActivation(c)
}

// HandleAdminSubscriptionCancel - Adapter for immediate subscription cancel
func HandleAdminSubscriptionCancel(c *fiber.Ctx) error {
	return GetAdminController().HandleSubscriptionHardCancel(c)
}

// HandleAdminPlans - Adapter for plan mapping overview
func HandleAdminPlans(c *fiber.Ctx) error {
	return GetAdminController().HandlePlans(c)
}

// HandleAdminCourses - Adapter for course moderation
func HandleAdminCourses(c *fiber.Ctx) error {
	return GetAdminController().HandleCourses(c)
}

// HandleAdminCourseUnpublish - Adapter for course unpublish
func HandleAdminCourseUnpublish(c *fiber.Ctx) error {
	return GetAdminController().HandleCourseUnpublish(c)
}
