package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/progress"
	"github.com/studylink/academy/core/user"
)

const childContextKey = "child"

type parentApi struct {
	academy *academy.Service
	courses *course.Service
	exams   *exam.Service
	users   *user.Service
}

func registerParentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := parentApi{
		academy: deps.Academy,
		courses: deps.Courses,
		exams:   deps.Exams,
		users:   deps.Users,
	}

	pg := g.Group("/parents", jwt, roleMiddleware(api.users, user.RoleParent))
	pg.GET("/children", api.children)

	cg := pg.Group("/children/:childId", api.childMiddleware)
	cg.GET("/dashboard", api.dashboard)
	cg.GET("/classes", api.classes)
	cg.GET("/grades", api.grades)
	cg.GET("/progress", api.progress)
}

// childMiddleware only lets a parent reach their own children; the child is set in the context.
func (api *parentApi) childMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		childID, err := paramID(ctx, "childId")
		if err != nil {
			return err
		}
		ctxUsr, err := getContextUser(ctx, api.users)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		ok, err := api.academy.IsParentOf(ctxUsr.ID, childID)
		if err != nil {
			return errors.Wrap(err, "checking parent link")
		}
		if !ok {
			return errHttpForbidden
		}
		child, err := api.users.GetByID(childID)
		if err != nil {
			return errors.Wrap(err, "finding user by ID")
		}
		ctx.Set(childContextKey, child)
		return next(ctx)
	}
}

func contextChild(ctx echo.Context) (user.User, error) {
	child, ok := ctx.Get(childContextKey).(user.User)
	if !ok {
		return user.User{}, errors.Wrap(errUsrNotFoundInCtx, "retrieving child from context")
	}
	return child, nil
}

func (api *parentApi) children(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	p, err := api.academy.ParentProfile(ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "finding parent profile")
	}
	out := make([]Child, 0, len(p.ChildIDs))
	for _, id := range p.ChildIDs {
		child, err := api.users.GetByID(id)
		if err != nil {
			return errors.Wrap(err, "finding user by ID")
		}
		out = append(out, newChild(child))
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *parentApi) classes(ctx echo.Context) error {
	child, err := contextChild(ctx)
	if err != nil {
		return err
	}
	classes, err := api.childClasses(child.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, classes)
}

// grades lists the published gradings of the child, most recent submission first.
func (api *parentApi) grades(ctx echo.Context) error {
	child, err := contextChild(ctx)
	if err != nil {
		return err
	}
	grades, err := api.childGrades(child.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grades)
}

func (api *parentApi) progress(ctx echo.Context) error {
	child, err := contextChild(ctx)
	if err != nil {
		return err
	}
	sum, err := api.childProgress(ctx, child.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, StudentProgressResponse{StudentID: child.ID, Summary: sum})
}

// dashboard sums up the classes, course progress and tests of the child.
func (api *parentApi) dashboard(ctx echo.Context) error {
	child, err := contextChild(ctx)
	if err != nil {
		return err
	}
	classes, err := api.childClasses(child.ID)
	if err != nil {
		return err
	}
	sum, err := api.childProgress(ctx, child.ID)
	if err != nil {
		return err
	}
	grades, err := api.childGrades(child.ID)
	if err != nil {
		return err
	}

	dash := ChildDashboard{Child: newChild(child), Classes: len(classes), Progress: sum}
	if len(classes) > 0 {
		classIDs := make([]int, 0, len(classes))
		for _, c := range classes {
			classIDs = append(classIDs, c.ID)
		}
		published := true
		tests, err := api.exams.Query(&exam.QueryFilter{ClassIDs: classIDs, IsPublished: &published})
		if err != nil {
			return errors.Wrap(err, "querying tests")
		}
		dash.Tests.Published = len(tests)
	}
	subs, err := api.exams.QuerySubmissions(&exam.SubmissionFilter{StudentID: child.ID})
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	dash.Tests.Submitted = len(subs)
	dash.Tests.Graded = len(grades)
	scores := make([]progress.Score, 0, len(grades))
	for _, g := range grades {
		scores = append(scores, progress.Score{Score: g.Score, Total: g.MaxScore})
	}
	dash.Tests.AverageScore = progress.AverageScore(scores)

	return ctx.JSON(http.StatusOK, dash)
}

func (api *parentApi) childClasses(childID int) ([]ChildClass, error) {
	p, err := api.academy.StudentProfile(childID)
	if err != nil {
		return nil, errors.Wrap(err, "finding student profile")
	}
	out := make([]ChildClass, 0, len(p.Classes))
	for _, ref := range p.Classes {
		c, err := api.academy.GetClass(ref.ID)
		if err != nil {
			return nil, errors.Wrap(err, "finding class by ID")
		}
		cc := ChildClass{ID: c.ID, Name: c.Name, Grade: c.Grade, Subject: c.Subject, Teachers: []string{}}
		for _, id := range c.TeacherIDs {
			teacher, err := api.users.GetByID(id)
			if err != nil {
				if core.IsNotFound(err) {
					continue
				}
				return nil, errors.Wrap(err, "finding user by ID")
			}
			cc.Teachers = append(cc.Teachers, teacher.Name)
		}
		out = append(out, cc)
	}
	return out, nil
}

func (api *parentApi) childGrades(childID int) ([]Grade, error) {
	subs, err := api.exams.QuerySubmissions(&exam.SubmissionFilter{StudentID: childID})
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	out := make([]Grade, 0, len(subs))
	for i := len(subs) - 1; i >= 0; i-- {
		s := subs[i]
		if !s.IsPublished || s.Score == nil {
			continue
		}
		t, err := api.exams.GetByID(s.TestID)
		if err != nil {
			return nil, errors.Wrap(err, "finding test by ID")
		}
		g := Grade{
			TestID:      t.ID,
			TestTitle:   t.Title,
			ClassID:     t.ClassID,
			Score:       *s.Score,
			Feedback:    s.Feedback,
			SubmittedAt: s.SubmittedAt,
		}
		for _, r := range s.Results {
			g.MaxScore += r.MaxScore
		}
		out = append(out, g)
	}
	return out, nil
}

func (api *parentApi) childProgress(ctx echo.Context, childID int) (progress.Summary, error) {
	p, err := api.academy.StudentProfile(childID)
	if err != nil {
		return progress.Summary{}, errors.Wrap(err, "finding student profile")
	}
	sum, err := api.courses.StudentProgress(ctx.Request().Context(), childID, p.ClassIDs())
	if err != nil {
		return progress.Summary{}, errors.Wrap(err, "computing student progress")
	}
	return sum, nil
}

type (
	Child struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	}

	ChildClass struct {
		ID       int      `json:"id"`
		Name     string   `json:"name"`
		Grade    string   `json:"grade"`
		Subject  string   `json:"subject"`
		Teachers []string `json:"teachers"`
	}

	Grade struct {
		TestID      int       `json:"test_id"`
		TestTitle   string    `json:"test_title"`
		ClassID     int       `json:"class_id"`
		Score       int       `json:"score"`
		MaxScore    int       `json:"max_score"`
		Feedback    string    `json:"feedback"`
		SubmittedAt time.Time `json:"submitted_at"`
	}

	ChildDashboard struct {
		Child    Child            `json:"child"`
		Classes  int              `json:"classes"`
		Progress progress.Summary `json:"progress"`
		Tests    struct {
			Published    int     `json:"published"`
			Submitted    int     `json:"submitted"`
			Graded       int     `json:"graded"`
			AverageScore float64 `json:"average_score"`
		} `json:"tests"`
	}
)

func newChild(usr user.User) Child {
	return Child{ID: usr.ID, Name: usr.Name, Username: usr.Username, Email: usr.Email, Phone: usr.Phone}
}
