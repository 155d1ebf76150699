package controllers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/checkout"
	"github.com/DanielKirsch/CourseHive/internal/pkg/coursemedia"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/jobqueue"
	"github.com/DanielKirsch/CourseHive/internal/pkg/metrics/counter"
	"github.com/DanielKirsch/CourseHive/internal/pkg/shortener"
	"github.com/DanielKirsch/CourseHive/internal/pkg/upload"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
	"github.com/DanielKirsch/CourseHive/internal/pkg/utils"
)

const coursesPerPage = 24

// HandleCourseIndex renders the public catalog, optionally filtered by a
// search query.
func HandleCourseIndex(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	courseRepo := repository.GetGlobalFactory().GetCourseRepository()

	query := strings.TrimSpace(c.Query("q"))
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	var courses []models.Course
	if query != "" {
		courses, err = courseRepo.Search(query)
	} else {
		courses, err = courseRepo.GetPublished((page-1)*coursesPerPage, coursesPerPage)
	}
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurse konnten nicht geladen werden"})
		return c.Redirect("/")
	}

	return c.Render("courses/index", fiber.Map{
		"Page":       "courses",
		"Username":   userCtx.Username,
		"IsLoggedIn": userCtx.IsLoggedIn,
		"Courses":    courses,
		"Query":      query,
		"PageNum":    page,
		"Msg":        flash.Get(c),
	}, "layouts/main")
}

// HandleCourseShow renders a course detail page and counts the view.
func HandleCourseShow(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	slug := c.Params("slug")

	course, err := repository.GetGlobalFactory().GetCourseRepository().GetBySlug(slug)
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs nicht gefunden"})
		return c.Redirect("/courses")
	}

	isOwner := userCtx.IsLoggedIn && course.InstructorID == userCtx.UserID
	if !course.Published && !isOwner && !userCtx.IsAdmin {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs nicht gefunden"})
		return c.Redirect("/courses")
	}

	if course.Published && !isOwner {
		if err := counter.AddCourseView(course.ID); err != nil {
			fmt.Printf("view counter for course %d failed: %v\n", course.ID, err)
		}
	}

	enrolled := false
	if userCtx.IsLoggedIn {
		enrolled, _ = repository.GetGlobalFactory().GetEnrollmentRepository().
			HasActiveEnrollment(userCtx.UserID, course.ID)
	}

	coverURL := ""
	if course.CoverObjectKey != "" && mediaClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coverURL, _ = mediaClient.PresignedGetURL(ctx, course.CoverObjectKey, time.Hour)
	}

	sessions, _ := repository.GetGlobalFactory().GetSupportSessionRepository().
		GetUpcomingByCourseID(course.ID)

	instructorName := ""
	if course.Instructor != nil {
		instructorName = course.Instructor.Name
	}

	return c.Render("courses/show", fiber.Map{
		"Page":            "courses",
		"Username":        userCtx.Username,
		"IsLoggedIn":      userCtx.IsLoggedIn,
		"Course":          course,
		"Description":     template.HTML(utils.ProcessHTMLContent(course.Description)),
		"InstructorName":  instructorName,
		"CoverURL":        coverURL,
		"Enrolled":        enrolled,
		"IsOwner":         isOwner,
		"SupportSessions": sessions,
		"Msg":             flash.Get(c),
		"CSRFToken":       csrfToken(c),
	}, "layouts/main")
}

// HandleCourseEnroll starts a purchase checkout for the course. Free courses
// enroll immediately without touching the payment provider.
func HandleCourseEnroll(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	courseID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid course id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url, err := CheckoutService().BeginCourseCheckout(ctx, userCtx.UserID, uint(courseID))
	if err != nil {
		if errors.Is(err, checkout.ErrAlreadyEnrolled) {
			fm := fiber.Map{"type": "info", "message": "Du bist bereits eingeschrieben."}
			return flash.WithInfo(c, fm).Redirect("/dashboard")
		}
		return redirectCheckoutError(c, err, c.Get("Referer", "/courses"))
	}
	return c.Redirect(url, fiber.StatusSeeOther)
}

// HandleInstructorCourses lists the instructor's own courses with student
// counts.
func HandleInstructorCourses(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory()

	courses, err := repos.GetCourseRepository().GetByInstructorID(userCtx.UserID)
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurse konnten nicht geladen werden"})
		return c.Redirect("/dashboard")
	}

	students := make(map[uint]int64, len(courses))
	for _, course := range courses {
		n, _ := repos.GetEnrollmentRepository().CountActiveByCourseID(course.ID)
		students[course.ID] = n
	}

	return c.Render("instructor/courses", fiber.Map{
		"Page":      "teach",
		"Username":  userCtx.Username,
		"Courses":   courses,
		"Students":  students,
		"Msg":       flash.Get(c),
		"CSRFToken": csrfToken(c),
	}, "layouts/main")
}

// HandleCourseCreate renders and processes the new-course form.
func HandleCourseCreate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	if c.Method() == fiber.MethodPost {
		priceCents, err := strconv.ParseInt(c.FormValue("price_cents", "0"), 10, 64)
		if err != nil || priceCents < 0 {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Ungültiger Preis"})
			return c.Redirect("/teach/courses/create")
		}

		course := &models.Course{
			InstructorID: userCtx.UserID,
			Title:        strings.TrimSpace(c.FormValue("title")),
			Description:  c.FormValue("description"),
			PriceCents:   priceCents,
			Currency:     c.FormValue("currency", "usd"),
		}

		slug, err := uniqueCourseSlug(course.Title, 0)
		if err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Slug konnte nicht erzeugt werden"})
			return c.Redirect("/teach/courses/create")
		}
		course.Slug = slug

		if err := course.Validate(); err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Ungültige Eingaben: " + err.Error()})
			return c.Redirect("/teach/courses/create")
		}

		if err := repository.GetGlobalFactory().GetCourseRepository().Create(course); err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs konnte nicht angelegt werden"})
			return c.Redirect("/teach/courses/create")
		}

		flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Kurs angelegt. Veröffentliche ihn, sobald er fertig ist."})
		return c.Redirect("/teach/courses")
	}

	return c.Render("instructor/course_form", fiber.Map{
		"Page":      "teach",
		"Username":  userCtx.Username,
		"Course":    &models.Course{Currency: "usd"},
		"IsNew":     true,
		"Msg":       flash.Get(c),
		"CSRFToken": csrfToken(c),
	}, "layouts/main")
}

// HandleCourseEdit renders and processes the edit form for an owned course.
func HandleCourseEdit(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	course, err := ownedCourse(c, userCtx)
	if err != nil {
		return err
	}

	if c.Method() == fiber.MethodPost {
		title := strings.TrimSpace(c.FormValue("title"))
		if title != "" && title != course.Title {
			course.Title = title
			slug, err := uniqueCourseSlug(title, course.ID)
			if err == nil {
				course.Slug = slug
			}
		}
		course.Description = c.FormValue("description")

		if priceCents, err := strconv.ParseInt(c.FormValue("price_cents", "0"), 10, 64); err == nil && priceCents >= 0 {
			course.PriceCents = priceCents
		}

		if err := course.Validate(); err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Ungültige Eingaben: " + err.Error()})
			return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
		}

		if err := repository.GetGlobalFactory().GetCourseRepository().Update(course); err != nil {
			flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs konnte nicht gespeichert werden"})
			return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
		}

		flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Kurs aktualisiert"})
		return c.Redirect("/teach/courses")
	}

	return c.Render("instructor/course_form", fiber.Map{
		"Page":      "teach",
		"Username":  userCtx.Username,
		"Course":    course,
		"IsNew":     false,
		"Msg":       flash.Get(c),
		"CSRFToken": csrfToken(c),
	}, "layouts/main")
}

// HandleCoursePublish toggles a course's published flag.
func HandleCoursePublish(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	course, err := ownedCourse(c, userCtx)
	if err != nil {
		return err
	}

	course.Published = !course.Published
	if err := repository.GetGlobalFactory().GetCourseRepository().Update(course); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Status konnte nicht geändert werden"})
		return c.Redirect("/teach/courses")
	}

	msg := "Kurs veröffentlicht"
	if !course.Published {
		msg = "Kurs auf Entwurf zurückgesetzt"
	}
	flash.WithSuccess(c, fiber.Map{"type": "success", "message": msg})
	return c.Redirect("/teach/courses")
}

// HandleCourseCoverUpload stores a cover image for an owned course in S3.
func HandleCourseCoverUpload(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	course, err := ownedCourse(c, userCtx)
	if err != nil {
		return err
	}

	if mediaClient == nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Medien-Speicher ist nicht konfiguriert"})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}

	file, err := c.FormFile("cover")
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Keine Datei ausgewählt"})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}

	src, err := file.Open()
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Datei konnte nicht gelesen werden"})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}
	defer src.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(src, head)
	contentType, err := upload.ValidateCoverBySniff(file.Filename, head[:n])
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": err.Error()})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Datei konnte nicht gelesen werden"})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	key := coursemedia.CoverObjectKey(course.ID, ext)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mediaClient.Upload(ctx, key, contentType, src); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Upload fehlgeschlagen"})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}

	oldKey := course.CoverObjectKey
	course.CoverObjectKey = key
	if err := repository.GetGlobalFactory().GetCourseRepository().Update(course); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs konnte nicht gespeichert werden"})
		return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
	}
	if oldKey != "" && oldKey != key {
		// Replaced covers are removed asynchronously.
		payload := jobqueue.MediaCleanupJobPayload{ObjectKey: oldKey, CourseID: course.ID}
		if _, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeMediaCleanup, payload.ToMap()); err != nil {
			_ = mediaClient.Delete(ctx, oldKey)
		}
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Cover aktualisiert"})
	return c.Redirect(fmt.Sprintf("/teach/courses/edit/%d", course.ID))
}

// ownedCourse loads the :id course and checks instructor ownership.
func ownedCourse(c *fiber.Ctx, userCtx usercontext.UserContext) (*models.Course, error) {
	courseID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).SendString("invalid course id")
	}

	var course models.Course
	if err := database.GetDB().First(&course, uint(courseID)).Error; err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs nicht gefunden"})
		return nil, c.Redirect("/teach/courses")
	}
	if course.InstructorID != userCtx.UserID && !userCtx.IsAdmin {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Das ist nicht dein Kurs"})
		return nil, c.Redirect("/teach/courses")
	}
	return &course, nil
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// uniqueCourseSlug derives a URL slug from the title. On collision a short
// random suffix keeps the slug readable while staying unique.
func uniqueCourseSlug(title string, excludeID uint) (string, error) {
	base := strings.Trim(slugCleaner.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if base == "" {
		base = "course"
	}
	if len(base) > 180 {
		base = base[:180]
	}

	courseRepo := repository.GetGlobalFactory().GetCourseRepository()
	taken, err := slugTaken(courseRepo, base, excludeID)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	suffix, err := shortener.GenerateSecureSlug(6)
	if err != nil {
		return "", err
	}
	return base + "-" + strings.ToLower(suffix), nil
}

func slugTaken(repo repository.CourseRepository, slug string, excludeID uint) (bool, error) {
	if excludeID > 0 {
		return repo.SlugExistsExceptID(slug, excludeID)
	}
	return repo.SlugExists(slug)
}
