// Package testutil wires the domain services on the in-memory repositories for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
	emailsvc "github.com/studylink/academy/services/email"
	dummydb "github.com/studylink/academy/storage/database/dummy"
	"github.com/studylink/academy/storage/mirror"
)

// Env holds a fully wired set of services backed by in-memory storage.
type Env struct {
	Conf       *core.Config
	DB         *dummydb.DB
	Events     *event.Recorder
	Mail       core.EmailService
	Validate   *validator.Validate
	Translator ut.Translator
	Mirror     *mirror.Store

	Users    *user.Service
	Academy  *academy.Service
	Courses  *course.Service
	Exams    *exam.Service
	Calendar *calendar.Service

	UserRepo user.Repository
	ExamRepo exam.Repository
}

// NewEnv builds an Env. conf may be nil.
func NewEnv(t *testing.T, conf *core.Config) *Env {
	t.Helper()
	if conf == nil {
		conf = core.NewTestConfig()
	}
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}

	env := &Env{
		Conf:     conf,
		DB:       db,
		Events:   new(event.Recorder),
		Mail:     emailsvc.NewConsoleServiceMock(conf),
		UserRepo: dummydb.NewUserRepository(db),
		ExamRepo: dummydb.NewExamRepository(db),
	}
	env.Validate = validator.New()
	env.Translator = core.NewTranslator()
	core.InitValidators(env.Validate, env.Translator)
	user.InitValidators(env.Validate, env.Translator)
	env.Mirror = mirror.NewStore(mirror.NewMemoryBackend(), env.Events)

	env.Users = user.NewService(env.UserRepo, env.Events, env.Mail, conf)
	env.Academy = academy.NewService(dummydb.NewAcademyRepository(db), env.Users, env.Events, conf, core.NopLogger{})
	env.Courses = course.NewService(dummydb.NewCourseRepository(db), env.Mirror, env.Events, conf)
	env.Calendar = calendar.NewService(dummydb.NewCalendarRepository(db), env.Academy, TestOwner(env.ExamRepo), env.Events)
	env.Exams = exam.NewService(env.ExamRepo, env.Calendar, env.Events, core.NopLogger{})

	env.Users.OnDelete(env.Academy.RemoveMember)
	env.Users.OnDelete(env.Courses.RemoveTeachers)
	env.Users.OnUpdate(env.Academy.SyncMember)
	env.Users.OnUpdate(env.Courses.SyncTeacher)
	env.Academy.OnClassDelete(env.Courses.RemoveClass)
	env.Academy.OnClassDelete(env.Exams.RemoveClass)
	env.Academy.OnClassDelete(env.Calendar.RemoveClass)
	return env
}

// TestOwner resolves the teacher of a test through the exam repository.
func TestOwner(repo exam.Repository) calendar.TestOwner {
	return func(testID int) (int, error) {
		t, err := repo.GetTestByID(testID)
		if err != nil {
			return 0, err
		}
		return t.TeacherID, nil
	}
}

// CreateUser stores a user directly in the repository, bypassing validation and hooks.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:       name,
		Username:   uname,
		Email:      email,
		Role:       role,
		IsApproved: true,
		IsActive:   isActive,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateStudent creates an active student named after uname.
func (env *Env) CreateStudent(t *testing.T, name, uname string) user.User {
	return CreateUser(t, env.UserRepo, name, uname, uname+"@example.com", "", user.RoleStudent, true)
}

// CreateTeacher creates an active teacher named after uname.
func (env *Env) CreateTeacher(t *testing.T, name, uname string) user.User {
	return CreateUser(t, env.UserRepo, name, uname, uname+"@example.com", "", user.RoleTeacher, true)
}

// CreateParent creates an active parent named after uname.
func (env *Env) CreateParent(t *testing.T, name, uname string) user.User {
	return CreateUser(t, env.UserRepo, name, uname, uname+"@example.com", "", user.RoleParent, true)
}

// CreateClass creates a class or fails the test.
func (env *Env) CreateClass(t *testing.T, nc academy.NewClass) academy.Class {
	t.Helper()
	c, err := env.Academy.CreateClass(nc)
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return c
}

// Context returns a context cancelled at the end of the test.
func Context(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
