package echoapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/progress"
	"github.com/studylink/academy/core/user"
)

// Response rate buckets
const (
	byClass   = "class"
	byTeacher = "teacher"
)

type statsApi struct {
	academy *academy.Service
	courses *course.Service
	exams   *exam.Service
	users   *user.Service
}

func registerStatsAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := statsApi{
		academy: deps.Academy,
		courses: deps.Courses,
		exams:   deps.Exams,
		users:   deps.Users,
	}

	sg := g.Group("/stats", jwt, activeMiddleware(api.users))
	sg.GET("/classes/:id/capacity", api.capacity, staffMiddleware(api.users))
	sg.GET("/students/:id/progress", api.studentProgress)
	sg.GET("/response-rate", api.responseRate, adminMiddleware(api.users))
}

func (api *statsApi) capacity(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	c, err := api.academy.GetClass(id)
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}
	return ctx.JSON(http.StatusOK, CapacityResponse{
		ClassID:     c.ID,
		Enrolled:    len(c.Students),
		MaxStudents: c.MaxStudents,
		Percent:     progress.CapacityUsage(len(c.Students), c.MaxStudents),
	})
}

// studentProgress is visible to staff and to the student themselves.
func (api *statsApi) studentProgress(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(ctxUsr.IsAdmin() || ctxUsr.IsTeacher() || ctxUsr.ID == id) {
		return errHttpNotFound
	}
	usr, err := api.users.GetByID(id)
	if err != nil {
		return errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsStudent() {
		return errHttpNotFound
	}

	p, err := api.academy.StudentProfile(id)
	if err != nil {
		return errors.Wrap(err, "finding student profile")
	}
	sum, err := api.courses.StudentProgress(ctx.Request().Context(), id, p.ClassIDs())
	if err != nil {
		return errors.Wrap(err, "computing student progress")
	}
	return ctx.JSON(http.StatusOK, StudentProgressResponse{StudentID: id, Summary: sum})
}

// responseRate is the share of answered questions over every submission, bucketed with `?by=class|teacher`.
func (api *statsApi) responseRate(ctx echo.Context) error {
	by := core.CleanString(ctx.QueryParam("by"), true /* lower */)
	if by == "" {
		by = byClass
	}
	if by != byClass && by != byTeacher {
		return core.NewValidationError(nil, core.FieldError{Field: "by", Error: "must be one of: class, teacher"})
	}

	tests, err := api.exams.Query(nil)
	if err != nil {
		return errors.Wrap(err, "querying tests")
	}
	questions := make(map[int]int, len(tests))
	buckets := make(map[int]int, len(tests))
	for _, t := range tests {
		qs, err := api.exams.Questions(t.ID)
		if err != nil {
			return errors.Wrap(err, "getting questions")
		}
		questions[t.ID] = len(qs)
		if by == byClass {
			buckets[t.ID] = t.ClassID
		} else {
			buckets[t.ID] = t.TeacherID
		}
	}

	subs, err := api.exams.QuerySubmissions(&exam.SubmissionFilter{})
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	views := make([]progress.Submission, 0, len(subs))
	for _, s := range subs {
		views = append(views, progress.Submission{TestID: s.TestID, Answered: s.Answered()})
	}

	rates := progress.ResponseRateBy(views, questions, func(testID int) int { return buckets[testID] })
	out := make([]ResponseRate, 0, len(rates))
	for id, r := range rates {
		out = append(out, ResponseRate{ID: id, Rate: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return ctx.JSON(http.StatusOK, ResponseRateResponse{By: by, Rates: out})
}

type (
	CapacityResponse struct {
		ClassID     int     `json:"class_id"`
		Enrolled    int     `json:"enrolled"`
		MaxStudents int     `json:"max_students"`
		Percent     float64 `json:"percent"`
	}

	StudentProgressResponse struct {
		StudentID int `json:"student_id"`
		progress.Summary
	}

	ResponseRate struct {
		ID int `json:"id"`
		progress.Rate
	}

	ResponseRateResponse struct {
		By    string         `json:"by"`
		Rates []ResponseRate `json:"rates"`
	}
)
