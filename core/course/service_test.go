package course_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/progress"
	"github.com/studylink/academy/core/user"
	testutil "github.com/studylink/academy/tests"
)

func createCourse(t *testing.T, env *testutil.Env, nc course.NewCourse) course.Course {
	t.Helper()
	require.NoError(t, nc.Validate(env.Validate))
	c, err := env.Courses.Create(nc)
	require.NoError(t, err)
	return c
}

func addBlock(t *testing.T, env *testutil.Env, courseID int, title string, required bool) course.Block {
	t.Helper()
	c, err := env.Courses.AddBlock(courseID, course.BlockInput{Type: course.BlockVideo, Title: title, IsRequired: &required})
	require.NoError(t, err)
	return c.Blocks[len(c.Blocks)-1]
}

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	c := createCourse(t, env, course.NewCourse{Title: " Algebra ", TeacherID: 3, TeacherIDs: []int{4, 3, 4}, ClassIDs: []int{2, 1, 2}})

	assert.Equal(t, "Algebra", c.Title)
	assert.Equal(t, course.Beginner, c.Difficulty)
	assert.Equal(t, []int{1, 2}, c.ClassIDs)
	assert.Equal(t, []int{4}, c.TeacherIDs, "primary teacher not repeated")
	assert.True(t, course.CanEdit(c, 4, false))
	assert.False(t, course.CanEdit(c, 5, false))
	assert.True(t, course.CanEdit(c, 5, true))
}

func TestService_Blocks(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	c := createCourse(t, env, course.NewCourse{Title: "Algebra"})
	b1 := addBlock(t, env, c.ID, "Intro", true)
	b2 := addBlock(t, env, c.ID, "Exercises", false)
	b3 := addBlock(t, env, c.ID, "Quiz", true)

	t.Run("reorder", func(t *testing.T) {
		c, err := env.Courses.ReorderBlocks(c.ID, []string{b3.ID, b1.ID, b2.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"Quiz", "Intro", "Exercises"}, titles(c))
	})

	t.Run("reorder requires a permutation", func(t *testing.T) {
		for _, ids := range [][]string{{b1.ID, b2.ID}, {b1.ID, b1.ID, b2.ID}, {b1.ID, b2.ID, "nope"}} {
			_, err := env.Courses.ReorderBlocks(c.ID, ids)
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, course.ErrInvalidOrder, verr.Err)
		}
	})

	t.Run("update", func(t *testing.T) {
		c, err := env.Courses.UpdateBlock(c.ID, b2.ID, course.BlockInput{Type: course.BlockDocument, Title: "Worksheet"})
		require.NoError(t, err)
		b := c.Blocks[c.BlockIndex(b2.ID)]
		assert.Equal(t, "Worksheet", b.Title)
		assert.False(t, b.IsRequired, "unchanged when not provided")

		_, err = env.Courses.UpdateBlock(c.ID, "nope", course.BlockInput{Type: course.BlockDocument, Title: "x"})
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("required blocks", func(t *testing.T) {
		c, err := env.Courses.GetByID(c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{b3.ID, b1.ID}, c.RequiredBlockIDs())
	})
}

func TestService_AddBlock_Limit(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Academy.MaxCourseBlocks = 2
	env := testutil.NewEnv(t, conf)
	c := createCourse(t, env, course.NewCourse{Title: "Algebra"})
	addBlock(t, env, c.ID, "one", true)
	addBlock(t, env, c.ID, "two", true)

	_, err := env.Courses.AddBlock(c.ID, course.BlockInput{Type: course.BlockVideo, Title: "three"})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, course.ErrTooManyBlocks, verr.Err)
}

func TestService_Progress(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t, nil)
	c := createCourse(t, env, course.NewCourse{Title: "Algebra", ClassIDs: []int{1}})
	b1 := addBlock(t, env, c.ID, "Intro", true)
	b2 := addBlock(t, env, c.ID, "Extra", false)
	b3 := addBlock(t, env, c.ID, "Quiz", true)
	_, err := env.Courses.SetPublished(c.ID, true)
	require.NoError(t, err)

	rec, err := env.Courses.RecordProgress(ctx, 10, c.ID, b1.ID, course.ProgressInput{Progress: 100})
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	_, err = env.Courses.RecordProgress(ctx, 10, c.ID, b2.ID, course.ProgressInput{Completed: true})
	require.NoError(t, err)
	_, err = env.Courses.RecordProgress(ctx, 10, c.ID, b3.ID, course.ProgressInput{Progress: 40})
	require.NoError(t, err)
	_, err = env.Courses.RecordProgress(ctx, 11, c.ID, b3.ID, course.ProgressInput{Completed: true})
	require.NoError(t, err)

	_, err = env.Courses.RecordProgress(ctx, 10, c.ID, "nope", course.ProgressInput{})
	assert.True(t, core.IsNotFound(err))

	blocks, err := env.Courses.StudentBlocks(ctx, 10, c.ID)
	require.NoError(t, err)
	assert.Len(t, blocks, 3)

	summary, err := env.Courses.StudentProgress(ctx, 10, []int{1})
	require.NoError(t, err)
	assert.Equal(t, progress.Summary{Completed: 1, Required: 2, Percent: 50}, summary)

	perStudent, err := env.Courses.CourseProgress(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, perStudent, 2)
	assert.Equal(t, 10, perStudent[0].StudentID)
	assert.Equal(t, 50.0, perStudent[0].Percent)
	assert.Equal(t, 11, perStudent[1].StudentID)

	t.Run("persisted in the mirror", func(t *testing.T) {
		var stored []course.BlockProgress
		require.NoError(t, env.Mirror.Read(ctx, course.ProgressKey, &stored))
		assert.Len(t, stored, 4)
	})

	t.Run("deleting a block drops its progress", func(t *testing.T) {
		_, err := env.Courses.DeleteBlock(ctx, c.ID, b3.ID)
		require.NoError(t, err)
		summary, err := env.Courses.StudentProgress(ctx, 10, []int{1})
		require.NoError(t, err)
		assert.Equal(t, progress.Summary{Completed: 1, Required: 1, Percent: 100}, summary)
	})

	t.Run("deleting the course drops its progress", func(t *testing.T) {
		require.NoError(t, env.Courses.Delete(ctx, c.ID))
		blocks, err := env.Courses.StudentBlocks(ctx, 10, c.ID)
		require.NoError(t, err)
		assert.Empty(t, blocks)
	})
}

func TestService_ClassDeleteUnassigns(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	b := env.CreateClass(t, academy.NewClass{Name: "B"})
	c := createCourse(t, env, course.NewCourse{Title: "Algebra", ClassIDs: []int{a.ID, b.ID}})

	require.NoError(t, env.Academy.DeleteClass(a.ID))

	c, err := env.Courses.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{b.ID}, c.ClassIDs)
}

func TestService_UserDeleteUnassigns(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	park := env.CreateTeacher(t, "Park", "park")
	lee := env.CreateTeacher(t, "Lee", "lee")
	c := createCourse(t, env, course.NewCourse{Title: "Algebra", TeacherID: park.ID, TeacherIDs: []int{lee.ID}})

	require.NoError(t, env.Users.Delete(park.ID, lee.ID))

	c, err := env.Courses.GetByID(c.ID)
	require.NoError(t, err)
	assert.Zero(t, c.TeacherID)
	assert.Empty(t, c.TeacherIDs)
}

func TestService_RoleChangeUnassigns(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	park := env.CreateTeacher(t, "Park", "park")
	lee := env.CreateTeacher(t, "Lee", "lee")
	c := createCourse(t, env, course.NewCourse{Title: "Algebra", TeacherID: park.ID, TeacherIDs: []int{lee.ID}})

	uu := user.UpdateUser{Role: user.RoleAdmin}
	require.NoError(t, uu.Validate(park, env.Validate, env.Users))
	_, err := env.Users.Update(park.ID, uu)
	require.NoError(t, err)

	c, err = env.Courses.GetByID(c.ID)
	require.NoError(t, err)
	assert.Zero(t, c.TeacherID)
	assert.Equal(t, []int{lee.ID}, c.TeacherIDs)
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	algebra := createCourse(t, env, course.NewCourse{Title: "Algebra", Subject: "Math", ClassIDs: []int{1}, TeacherID: 3})
	optics := createCourse(t, env, course.NewCourse{Title: "Optics", Subject: "Physics", ClassIDs: []int{2}})
	_, err := env.Courses.SetPublished(optics.ID, true)
	require.NoError(t, err)

	published := true
	tests := []struct {
		name   string
		filter *course.QueryFilter
		want   []int
	}{
		{"all", nil, []int{algebra.ID, optics.ID}},
		{"search", &course.QueryFilter{Search: "ALG"}, []int{algebra.ID}},
		{"subject", &course.QueryFilter{Subject: "physics"}, []int{optics.ID}},
		{"classes", &course.QueryFilter{ClassIDs: []int{2, 5}}, []int{optics.ID}},
		{"teacher", &course.QueryFilter{TeacherID: 3}, []int{algebra.ID}},
		{"published", &course.QueryFilter{IsPublished: &published}, []int{optics.ID}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			courses, err := env.Courses.Query(tc.filter)
			require.NoError(t, err)
			ids := make([]int, 0, len(courses))
			for _, c := range courses {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func titles(c course.Course) []string {
	out := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		out = append(out, b.Title)
	}
	return out
}
