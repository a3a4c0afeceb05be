package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
	emailsvc "github.com/studylink/academy/services/email"
	logsvc "github.com/studylink/academy/services/logger"
	"github.com/studylink/academy/storage/database"
	dummydb "github.com/studylink/academy/storage/database/dummy"
	"github.com/studylink/academy/storage/mirror"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()
	conf.AppName = "ADMIN"
	logger = logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)

	// set up the mirror
	var db *sql.DB
	backend := mirror.NewMemoryBackend()
	if conf.Mirror.Backend == core.MirrorPostgres {
		sqlxDB, err := database.Open(conf)
		errAndDie(err)
		defer sqlxDB.Close()
		errAndDie(sqlxDB.Ping())
		db = sqlxDB.DB
		backend = mirror.NewPostgresBackend(sqlxDB)
	} else {
		logger.Warn("memory mirror backend: changes will not be persisted")
	}
	events := new(event.Recorder)
	store := mirror.NewStore(backend, events)

	// load the data
	data, err := dummydb.Open()
	errAndDie(err)
	if len(os.Args) < 2 || os.Args[1] != "migrate" {
		_, err = mirror.Hydrate(context.Background(), store, data)
		errAndDie(err)
	}

	usrSvc := user.NewService(dummydb.NewUserRepository(data), events, emailsvc.NewService(conf, logger), conf)
	academySvc := academy.NewService(dummydb.NewAcademyRepository(data), usrSvc, events, conf, logger)
	usrSvc.OnUpdate(academySvc.SyncMember)
	usrSvc.OnUpdate(course.NewService(dummydb.NewCourseRepository(data), store, events, conf).SyncTeacher)

	// start CLI
	cli := commandLine{
		db:      db,
		store:   store,
		syncer:  mirror.NewSyncer(store, data, logger),
		usrSvc:  usrSvc,
		academy: academySvc,
		out:     os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
