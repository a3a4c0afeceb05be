package echoapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
)

type examApi struct {
	svc      *exam.Service
	academy  *academy.Service
	users    *user.Service
	validate *validator.Validate
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := examApi{
		svc:      deps.Exams,
		academy:  deps.Academy,
		users:    deps.Users,
		validate: deps.Validate,
	}
	staff := staffMiddleware(api.users)
	student := roleMiddleware(api.users, user.RoleStudent)

	tg := g.Group("/tests", jwt, activeMiddleware(api.users))
	tg.GET("", api.query)
	tg.POST("", api.create, staff)
	tg.GET("/:id", api.retrieve)
	tg.PUT("/:id", api.update, staff)
	tg.DELETE("/:id", api.destroy, staff)
	tg.PUT("/:id/publish", api.publish, staff)
	tg.POST("/:id/submit", api.submit, student)
	tg.GET("/:id/submissions", api.testSubmissions, staff)

	qg := tg.Group("/:id/questions", staff)
	qg.POST("", api.addQuestion)
	qg.PUT("/reorder", api.reorderQuestions)
	qg.PUT("/:questionId", api.updateQuestion)
	qg.DELETE("/:questionId", api.destroyQuestion)
	qg.PUT("/:questionId/move", api.moveQuestion)

	sg := g.Group("/submissions", jwt, activeMiddleware(api.users))
	sg.GET("", api.querySubmissions)
	sg.PUT("/:id/grade", api.gradeSubmission, staff)
	sg.PUT("/:id/publish", api.publishSubmission, staff)
}

// Tests

// query lists the tests of a teacher (all of them for admins); students see the published tests of their
// classes.
func (api *examApi) query(ctx echo.Context) error {
	filter := &exam.QueryFilter{
		TeacherID:   queryInt(ctx, "teacher_id"),
		ClassIDs:    queryInts(ctx, "class_id"),
		IsPublished: queryBool(ctx, "is_published"),
	}

	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	switch {
	case usr.IsAdmin():
	case usr.IsTeacher():
		filter.TeacherID = usr.ID
	default:
		classIDs, err := studentClassIDs(api.academy, usr)
		if err != nil {
			return err
		}
		if len(classIDs) == 0 {
			return ctx.JSON(http.StatusOK, []exam.Test{})
		}
		published := true
		filter.IsPublished = &published
		filter.ClassIDs = classIDs
	}

	tests, err := api.svc.Query(filter)
	if err != nil {
		return errors.Wrap(err, "querying tests")
	}
	if tests == nil {
		tests = []exam.Test{}
	}
	return ctx.JSON(http.StatusOK, tests)
}

func (api *examApi) create(ctx echo.Context) error {
	var data exam.NewTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsTeacher() || data.TeacherID == 0 {
		data.TeacherID = usr.ID
	}
	if err = api.checkClass(usr, data.ClassID); err != nil {
		return err
	}

	t, err := api.svc.Create(data)
	if err != nil {
		return errors.Wrap(err, "creating test")
	}
	return ctx.JSON(http.StatusCreated, t)
}

// retrieve returns the test with its questions; students get the questions without answer keys.
func (api *examApi) retrieve(ctx echo.Context) error {
	t, err := api.visible(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var qs []exam.Question
	if exam.CanEdit(t, usr.ID, usr.IsAdmin()) {
		qs, err = api.svc.Questions(t.ID)
	} else {
		qs, err = api.svc.PublicQuestions(t.ID)
	}
	if err != nil {
		return errors.Wrap(err, "getting questions")
	}
	if qs == nil {
		qs = []exam.Question{}
	}
	return ctx.JSON(http.StatusOK, TestDetail{Test: t, Questions: qs})
}

func (api *examApi) update(ctx echo.Context) error {
	t, usr, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data exam.UpdateTest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if data.ClassID != nil {
		if err = api.checkClass(usr, *data.ClassID); err != nil {
			return err
		}
	}
	t, err = api.svc.Update(t.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating test")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *examApi) destroy(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(t.ID); err != nil {
		return errors.Wrap(err, "deleting test")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *examApi) publish(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data PublishRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PublishRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	t, err = api.svc.SetPublished(t.ID, *data.IsPublished)
	if err != nil {
		return errors.Wrap(err, "publishing test")
	}
	return ctx.JSON(http.StatusOK, t)
}

// Questions

func (api *examApi) addQuestion(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data exam.QuestionInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to QuestionInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	q, err := api.svc.AddQuestion(t.ID, data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *examApi) updateQuestion(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	qid, err := paramID(ctx, "questionId")
	if err != nil {
		return err
	}
	var data exam.QuestionInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to QuestionInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	q, err := api.svc.UpdateQuestion(t.ID, qid, data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *examApi) destroyQuestion(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	qid, err := paramID(ctx, "questionId")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteQuestion(t.ID, qid); err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// reorderQuestions assigns indices positionally: the i-th id of the body gets index i.
func (api *examApi) reorderQuestions(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data ReorderQuestionsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderQuestionsRequest")
	}
	qs, err := api.svc.ReorderQuestions(t.ID, data.QuestionIDs)
	if err != nil {
		return errors.Wrap(err, "reordering questions")
	}
	return ctx.JSON(http.StatusOK, qs)
}

func (api *examApi) moveQuestion(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	qid, err := paramID(ctx, "questionId")
	if err != nil {
		return err
	}
	var data MoveQuestionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveQuestionRequest")
	}
	qs, err := api.svc.MoveQuestion(t.ID, qid, core.CleanString(data.Direction, true /* lower */))
	if err != nil {
		return errors.Wrap(err, "moving question")
	}
	return ctx.JSON(http.StatusOK, qs)
}

// Submissions

func (api *examApi) submit(ctx echo.Context) error {
	t, err := api.visible(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data SubmitRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}
	s, err := api.svc.Submit(t.ID, usr.ID, data.Answers)
	if err != nil {
		return errors.Wrap(err, "submitting test")
	}
	return ctx.JSON(http.StatusCreated, studentView(s))
}

func (api *examApi) testSubmissions(ctx echo.Context) error {
	t, _, err := api.editable(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.Submissions(t.ID)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []exam.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

// querySubmissions lists the own submissions of a student, the submissions to the tests of a teacher,
// or any submission for admins. `?test_id=` narrows the tests.
func (api *examApi) querySubmissions(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := &exam.SubmissionFilter{TestIDs: queryInts(ctx, "test_id")}

	switch {
	case usr.IsAdmin():
	case usr.IsTeacher():
		tests, err := api.svc.Query(&exam.QueryFilter{TeacherID: usr.ID})
		if err != nil {
			return errors.Wrap(err, "querying teacher tests")
		}
		owned := make([]int, 0, len(tests))
		for _, t := range tests {
			if len(filter.TestIDs) == 0 || core.ContainsInt(filter.TestIDs, t.ID) {
				owned = append(owned, t.ID)
			}
		}
		if len(owned) == 0 {
			return ctx.JSON(http.StatusOK, []exam.Submission{})
		}
		filter.TestIDs = owned
	case usr.IsStudent():
		filter.StudentID = usr.ID
	default:
		return ctx.JSON(http.StatusOK, []exam.Submission{})
	}

	subs, err := api.svc.QuerySubmissions(filter)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	out := make([]exam.Submission, 0, len(subs))
	for _, s := range subs {
		if usr.IsStudent() {
			s = studentView(s)
		}
		out = append(out, s)
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *examApi) gradeSubmission(ctx echo.Context) error {
	s, err := api.editableSubmission(ctx)
	if err != nil {
		return err
	}
	var data exam.GradeInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeInput")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	s, err = api.svc.GradeSubmission(s.ID, data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *examApi) publishSubmission(ctx echo.Context) error {
	s, err := api.editableSubmission(ctx)
	if err != nil {
		return err
	}
	var data PublishRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PublishRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	s, err = api.svc.PublishSubmission(s.ID, *data.IsPublished)
	if err != nil {
		return errors.Wrap(err, "publishing submission")
	}
	return ctx.JSON(http.StatusOK, s)
}

// visible returns the test `:id` if the context user may see it: staff see every test, students the
// published tests of their classes.
func (api *examApi) visible(ctx echo.Context) (exam.Test, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return exam.Test{}, err
	}
	t, err := api.svc.GetByID(id)
	if err != nil {
		return exam.Test{}, errors.Wrap(err, "finding test by ID")
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return exam.Test{}, errors.Wrap(err, "getting context user")
	}
	if usr.IsAdmin() || usr.IsTeacher() {
		return t, nil
	}
	if !t.IsPublished || !usr.IsStudent() {
		return exam.Test{}, errHttpNotFound
	}
	if t.ClassID == 0 {
		return t, nil
	}
	classIDs, err := studentClassIDs(api.academy, usr)
	if err != nil {
		return exam.Test{}, err
	}
	if !core.ContainsInt(classIDs, t.ClassID) {
		return exam.Test{}, errHttpNotFound
	}
	return t, nil
}

// editable returns the test `:id` and the context user if they may modify it.
func (api *examApi) editable(ctx echo.Context) (exam.Test, user.User, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return exam.Test{}, user.User{}, err
	}
	t, err := api.svc.GetByID(id)
	if err != nil {
		return exam.Test{}, user.User{}, errors.Wrap(err, "finding test by ID")
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return exam.Test{}, user.User{}, errors.Wrap(err, "getting context user")
	}
	if !exam.CanEdit(t, usr.ID, usr.IsAdmin()) {
		return exam.Test{}, user.User{}, errHttpForbidden
	}
	return t, usr, nil
}

func (api *examApi) editableSubmission(ctx echo.Context) (exam.Submission, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return exam.Submission{}, err
	}
	s, err := api.svc.GetSubmission(id)
	if err != nil {
		return exam.Submission{}, errors.Wrap(err, "finding submission by ID")
	}
	t, err := api.svc.GetByID(s.TestID)
	if err != nil {
		return exam.Submission{}, errors.Wrap(err, "finding test by ID")
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return exam.Submission{}, errors.Wrap(err, "getting context user")
	}
	if !exam.CanEdit(t, usr.ID, usr.IsAdmin()) {
		return exam.Submission{}, errHttpForbidden
	}
	return s, nil
}

// checkClass makes sure a teacher only binds tests to classes they teach.
func (api *examApi) checkClass(usr user.User, classID int) error {
	if classID == 0 || usr.IsAdmin() {
		return nil
	}
	c, err := api.academy.GetClass(classID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewValidationError(err, core.FieldError{Field: "class_id", Error: err.Error()})
		}
		return errors.Wrap(err, "finding class by ID")
	}
	if !c.HasTeacher(usr.ID) {
		return core.ErrForbidden
	}
	return nil
}

// studentView hides the grading of a submission until it is published.
func studentView(s exam.Submission) exam.Submission {
	if s.IsPublished {
		return s
	}
	s.Score = nil
	s.Feedback = ""
	s.GradedAt = nil
	results := make([]exam.Result, 0, len(s.Results))
	for _, r := range s.Results {
		results = append(results, exam.Result{QuestionID: r.QuestionID, Response: r.Response, MaxScore: r.MaxScore})
	}
	s.Results = results
	return s
}

type (
	TestDetail struct {
		exam.Test
		Questions []exam.Question `json:"questions"`
	}

	ReorderQuestionsRequest struct {
		QuestionIDs []int `json:"question_ids"`
	}

	MoveQuestionRequest struct {
		Direction string `json:"direction"`
	}

	SubmitRequest struct {
		Answers map[int]json.RawMessage `json:"answers"`
	}
)
