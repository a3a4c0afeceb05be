package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/user"
)

type courseApi struct {
	svc      *course.Service
	academy  *academy.Service
	users    *user.Service
	validate *validator.Validate
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := courseApi{
		svc:      deps.Courses,
		academy:  deps.Academy,
		users:    deps.Users,
		validate: deps.Validate,
	}
	staff := staffMiddleware(api.users)
	student := roleMiddleware(api.users, user.RoleStudent)

	cg := g.Group("/courses", jwt, activeMiddleware(api.users))
	cg.GET("", api.query)
	cg.POST("", api.create, staff)
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update, staff)
	cg.DELETE("/:id", api.destroy, staff)
	cg.PATCH("/:id/publish", api.publish, staff)
	cg.GET("/:id/progress", api.courseProgress, staff)

	bg := cg.Group("/:id/blocks")
	bg.POST("", api.addBlock, staff)
	bg.PUT("/reorder", api.reorderBlocks, staff)
	bg.PUT("/:blockId", api.updateBlock, staff)
	bg.DELETE("/:blockId", api.destroyBlock, staff)
	bg.GET("/progress", api.studentBlocks, student)
	bg.POST("/:blockId/progress", api.recordProgress, student)
}

// query lists every course to staff; students only see the published courses of their classes.
func (api *courseApi) query(ctx echo.Context) error {
	filter := &course.QueryFilter{
		Search:      core.CleanString(ctx.QueryParam("search")),
		Subject:     core.CleanString(ctx.QueryParam("subject")),
		ClassIDs:    queryInts(ctx, "class_id"),
		TeacherID:   queryInt(ctx, "teacher_id"),
		IsPublished: queryBool(ctx, "is_published"),
	}

	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(ctxUsr.IsAdmin() || ctxUsr.IsTeacher()) {
		classIDs, err := studentClassIDs(api.academy, ctxUsr)
		if err != nil {
			return err
		}
		if len(classIDs) == 0 {
			return ctx.JSON(http.StatusOK, []course.Course{})
		}
		published := true
		filter.IsPublished = &published
		filter.ClassIDs = classIDs
	}

	courses, err := api.svc.Query(filter)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// teachers create their own courses
	if ctxUsr.IsTeacher() || data.TeacherID == 0 {
		data.TeacherID = ctxUsr.ID
	}

	c, err := api.svc.Create(data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.visible(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data course.UpdateCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	c, err = api.svc.Update(c.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) publish(ctx echo.Context) error {
	c, err := api.editable(ctx)
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
	c, err = api.svc.SetPublished(c.ID, *data.IsPublished)
	if err != nil {
		return errors.Wrap(err, "publishing course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) courseProgress(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	summaries, err := api.svc.CourseProgress(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "computing course progress")
	}
	return ctx.JSON(http.StatusOK, summaries)
}

// Blocks

func (api *courseApi) addBlock(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data course.BlockInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BlockInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	c, err = api.svc.AddBlock(c.ID, data)
	if err != nil {
		return errors.Wrap(err, "adding block")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) updateBlock(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data course.BlockInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BlockInput")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	c, err = api.svc.UpdateBlock(c.ID, ctx.Param("blockId"), data)
	if err != nil {
		return errors.Wrap(err, "updating block")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroyBlock(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	c, err = api.svc.DeleteBlock(ctx.Request().Context(), c.ID, ctx.Param("blockId"))
	if err != nil {
		return errors.Wrap(err, "deleting block")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) reorderBlocks(ctx echo.Context) error {
	c, err := api.editable(ctx)
	if err != nil {
		return err
	}
	var data ReorderBlocksRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderBlocksRequest")
	}
	c, err = api.svc.ReorderBlocks(c.ID, data.BlockIDs)
	if err != nil {
		return errors.Wrap(err, "reordering blocks")
	}
	return ctx.JSON(http.StatusOK, c)
}

// Progress

func (api *courseApi) studentBlocks(ctx echo.Context) error {
	c, err := api.visible(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	blocks, err := api.svc.StudentBlocks(ctx.Request().Context(), usr.ID, c.ID)
	if err != nil {
		return errors.Wrap(err, "loading block progress")
	}
	return ctx.JSON(http.StatusOK, blocks)
}

func (api *courseApi) recordProgress(ctx echo.Context) error {
	c, err := api.visible(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data course.ProgressInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProgressInput")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	p, err := api.svc.RecordProgress(ctx.Request().Context(), usr.ID, c.ID, ctx.Param("blockId"), data)
	if err != nil {
		return errors.Wrap(err, "recording progress")
	}
	return ctx.JSON(http.StatusOK, p)
}

// visible returns the course `:id` if the context user may see it: staff see every course, other users
// the published courses of their classes.
func (api *courseApi) visible(ctx echo.Context) (course.Course, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return course.Course{}, err
	}
	c, err := api.svc.GetByID(id)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "finding course by ID")
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "getting context user")
	}
	if usr.IsAdmin() || usr.IsTeacher() {
		return c, nil
	}
	if !c.IsPublished {
		return course.Course{}, errHttpNotFound
	}
	classIDs, err := studentClassIDs(api.academy, usr)
	if err != nil {
		return course.Course{}, err
	}
	for _, id := range classIDs {
		if core.ContainsInt(c.ClassIDs, id) {
			return c, nil
		}
	}
	return course.Course{}, errHttpNotFound
}

// editable returns the course `:id` if the context user may modify it.
func (api *courseApi) editable(ctx echo.Context) (course.Course, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return course.Course{}, err
	}
	c, err := api.svc.GetByID(id)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "finding course by ID")
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "getting context user")
	}
	if !course.CanEdit(c, usr.ID, usr.IsAdmin()) {
		return course.Course{}, errHttpForbidden
	}
	return c, nil
}

type (
	PublishRequest struct {
		IsPublished *bool `json:"is_published" validate:"required"`
	}

	ReorderBlocksRequest struct {
		BlockIDs []string `json:"block_ids"`
	}
)
