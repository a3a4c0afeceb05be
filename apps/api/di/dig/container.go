package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/studylink/academy/apps/api/echo"
	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
	emailsvc "github.com/studylink/academy/services/email"
	logsvc "github.com/studylink/academy/services/logger"
	schedulersvc "github.com/studylink/academy/services/scheduler"
	"github.com/studylink/academy/storage/database"
	dummydb "github.com/studylink/academy/storage/database/dummy"
	"github.com/studylink/academy/storage/mirror"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// MirrorDB is the database holding the mirror; nil with the memory backend.
type MirrorDB struct {
	*sqlx.DB
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newBus(logger core.Logger) (*event.Bus, event.Publisher) {
	bus := event.NewBus(logger)
	return bus, bus
}

func newMirrorBackend(conf *core.Config, loggerParam DBLoggerParam) (mirror.Backend, MirrorDB) {
	if conf.Mirror.Backend != core.MirrorPostgres {
		return mirror.NewMemoryBackend(), MirrorDB{}
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up mirror database: %v", err), err)
	}
	return mirror.NewPostgresBackend(db), MirrorDB{db}
}

func newDummyDB() (*dummydb.DB, mirror.Source, mirror.Restorer, error) {
	db, err := dummydb.Open()
	return db, db, db, err
}

func newAcademyService(
	repo academy.Repository,
	users *user.Service,
	pub event.Publisher,
	conf *core.Config,
	logger core.Logger,
) *academy.Service {
	svc := academy.NewService(repo, users, pub, conf, logger)
	users.OnDelete(svc.RemoveMember)
	users.OnUpdate(svc.SyncMember)
	return svc
}

func newCourseService(
	repo course.Repository,
	store *mirror.Store,
	pub event.Publisher,
	conf *core.Config,
	users *user.Service,
	academySvc *academy.Service,
) *course.Service {
	svc := course.NewService(repo, store, pub, conf)
	users.OnDelete(svc.RemoveTeachers)
	users.OnUpdate(svc.SyncTeacher)
	academySvc.OnClassDelete(svc.RemoveClass)
	return svc
}

func newCalendarService(
	repo calendar.Repository,
	academySvc *academy.Service,
	exams exam.Repository,
	pub event.Publisher,
) *calendar.Service {
	testOwner := func(testID int) (int, error) {
		t, err := exams.GetTestByID(testID)
		if err != nil {
			return 0, err
		}
		return t.TeacherID, nil
	}
	svc := calendar.NewService(repo, academySvc, testOwner, pub)
	academySvc.OnClassDelete(svc.RemoveClass)
	return svc
}

func newExamService(
	repo exam.Repository,
	calendarSvc *calendar.Service,
	pub event.Publisher,
	logger core.Logger,
	academySvc *academy.Service,
) *exam.Service {
	svc := exam.NewService(repo, calendarSvc, pub, logger)
	academySvc.OnClassDelete(svc.RemoveClass)
	return svc
}

func newScheduler(conf *core.Config, exams *exam.Service, logger core.Logger) (*schedulersvc.Scheduler, error) {
	return schedulersvc.New(conf, exams, logger)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newBus))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(validator.New))

	// storage
	must(c.Provide(newDummyDB))
	must(c.Provide(dummydb.NewUserRepository))
	must(c.Provide(dummydb.NewAcademyRepository))
	must(c.Provide(dummydb.NewCourseRepository))
	must(c.Provide(dummydb.NewExamRepository))
	must(c.Provide(dummydb.NewCalendarRepository))
	must(c.Provide(newMirrorBackend))
	must(c.Provide(mirror.NewStore))
	must(c.Provide(mirror.NewSyncer))

	// services
	must(c.Provide(user.NewService))
	must(c.Provide(newAcademyService))
	must(c.Provide(newCourseService))
	must(c.Provide(newCalendarService))
	must(c.Provide(newExamService))
	must(c.Provide(newScheduler))

	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
