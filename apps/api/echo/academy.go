package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/user"
)

type academyApi struct {
	svc      *academy.Service
	users    *user.Service
	validate *validator.Validate
}

func registerAcademyAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := academyApi{
		svc:      deps.Academy,
		users:    deps.Users,
		validate: deps.Validate,
	}
	admin := adminMiddleware(api.users)
	staff := staffMiddleware(api.users)

	sg := g.Group("/subjects", jwt, activeMiddleware(api.users))
	sg.GET("", api.querySubjects)
	sg.POST("", api.createSubject, admin)
	sg.PUT("/:id", api.updateSubject, admin)
	sg.DELETE("/:id", api.destroySubject, admin)

	cg := g.Group("/classes", jwt, staff)
	cg.GET("", api.queryClasses)
	cg.POST("", api.createClass, admin)
	cg.GET("/:id", api.retrieveClass)
	cg.PUT("/:id", api.updateClass, admin)
	cg.DELETE("/:id", api.destroyClass, admin)
	cg.GET("/:id/students", api.classStudents)

	stg := g.Group("/students/:id", jwt, activeMiddleware(api.users))
	stg.GET("", api.studentProfile)
	stg.PUT("/classes", api.setStudentClasses, admin)

	tg := g.Group("/teachers/:id", jwt, staff)
	tg.GET("", api.teacherProfile)
	tg.PUT("/classes", api.setTeacherClasses, admin)
	tg.PUT("/subject", api.setTeacherSubject, admin)

	mg := g.Group("/membership", jwt, admin)
	mg.GET("/check", api.checkMembership)
	mg.POST("/repair", api.repairMembership)
}

// Subjects

func (api *academyApi) querySubjects(ctx echo.Context) error {
	subjects, err := api.svc.Subjects()
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	if subjects == nil {
		subjects = []academy.Subject{}
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *academyApi) createSubject(ctx echo.Context) error {
	var data academy.SubjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubjectInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	subj, err := api.svc.CreateSubject(data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, subj)
}

func (api *academyApi) updateSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data academy.SubjectInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubjectInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	subj, err := api.svc.UpdateSubject(id, data)
	if err != nil {
		return errors.Wrap(err, "updating subject")
	}
	return ctx.JSON(http.StatusOK, subj)
}

func (api *academyApi) destroySubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteSubject(id); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Classes

func (api *academyApi) queryClasses(ctx echo.Context) error {
	filter := academy.ClassFilter{
		Search:    ctx.QueryParam("search"),
		Subject:   ctx.QueryParam("subject"),
		TeacherID: queryInt(ctx, "teacher_id"),
		StudentID: queryInt(ctx, "student_id"),
	}
	classes, err := api.svc.Classes(filter)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []academy.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *academyApi) createClass(ctx echo.Context) error {
	var data academy.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.CreateClass(data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *academyApi) retrieveClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	c, err := api.svc.GetClass(id)
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academyApi) updateClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data academy.UpdateClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClass")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.UpdateClass(id, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academyApi) destroyClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteClass(id); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academyApi) classStudents(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	students, err := api.svc.ClassStudents(id)
	if err != nil {
		return errors.Wrap(err, "querying class students")
	}
	if students == nil {
		students = []academy.StudentSummary{}
	}
	return ctx.JSON(http.StatusOK, students)
}

// Profiles

// studentProfile is visible to staff and to the student themselves.
func (api *academyApi) studentProfile(ctx echo.Context) error {
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
	if _, err = api.member(id, user.RoleStudent); err != nil {
		return err
	}
	p, err := api.svc.StudentProfile(id)
	if err != nil {
		return errors.Wrap(err, "finding student profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *academyApi) setStudentClasses(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data IDsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDsRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	classes, err := api.svc.EnrollStudent(id, data.IDs)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *academyApi) teacherProfile(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if _, err = api.member(id, user.RoleTeacher); err != nil {
		return err
	}
	p, err := api.svc.TeacherProfile(id)
	if err != nil {
		return errors.Wrap(err, "finding teacher profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *academyApi) setTeacherClasses(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data IDsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDsRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	classes, err := api.svc.AssignTeacher(id, data.IDs)
	if err != nil {
		return errors.Wrap(err, "assigning teacher")
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *academyApi) setTeacherSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data TeacherSubjectRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherSubjectRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	if _, err = api.member(id, user.RoleTeacher); err != nil {
		return err
	}
	p, err := api.svc.SetTeacherSubject(id, data.Subject)
	if err != nil {
		return errors.Wrap(err, "setting teacher subject")
	}
	return ctx.JSON(http.StatusOK, p)
}

// Membership

func (api *academyApi) checkMembership(ctx echo.Context) error {
	found, err := api.svc.CheckConsistency()
	if err != nil {
		return errors.Wrap(err, "checking membership consistency")
	}
	if found == nil {
		found = []academy.Inconsistency{}
	}
	return ctx.JSON(http.StatusOK, MembershipReport{Consistent: len(found) == 0, Inconsistencies: found})
}

func (api *academyApi) repairMembership(ctx echo.Context) error {
	fixed, err := api.svc.Repair()
	if err != nil {
		return errors.Wrap(err, "repairing membership")
	}
	if fixed == nil {
		fixed = []academy.Inconsistency{}
	}
	return ctx.JSON(http.StatusOK, MembershipReport{Consistent: true, Inconsistencies: fixed})
}

// member returns the user if it exists with role, a 404 otherwise.
func (api *academyApi) member(id int, role string) (user.User, error) {
	usr, err := api.users.GetByID(id)
	if err != nil {
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if usr.Role != role {
		return user.User{}, errHttpNotFound
	}
	return usr, nil
}

type (
	TeacherSubjectRequest struct {
		Subject string `json:"subject" validate:"max=100"`
	}

	MembershipReport struct {
		Consistent      bool                    `json:"consistent"`
		Inconsistencies []academy.Inconsistency `json:"inconsistencies"`
	}
)

// studentClassIDs returns the classes of a student; users of other roles have none.
func studentClassIDs(svc *academy.Service, usr user.User) ([]int, error) {
	if !usr.IsStudent() {
		return nil, nil
	}
	p, err := svc.StudentProfile(usr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "finding student profile")
	}
	return p.ClassIDs(), nil
}
