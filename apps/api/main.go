package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/studylink/academy/apps/api/di/dig"
	echoapi "github.com/studylink/academy/apps/api/echo"
	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
	schedulersvc "github.com/studylink/academy/services/scheduler"
	"github.com/studylink/academy/storage/mirror"
)

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		mirrorDB dig_container.MirrorDB,
		validate *validator.Validate,
		translator ut.Translator,
		bus *event.Bus,
		store *mirror.Store,
		restorer mirror.Restorer,
		syncer *mirror.Syncer,
		scheduler *schedulersvc.Scheduler,
		server *echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)

		if mirrorDB.DB != nil {
			dbLogger := dbLoggerParam.Logger
			defer func() {
				if err := mirrorDB.Close(); err != nil {
					dbLogger.Fatal("Failed to close", err)
				}
			}()
		}
		defer apiLogger.Info("Application stopped")

		// =========================================================================
		// Load Data
		//
		// The mirror is the durable copy of the academy data: restore from it, then keep it in sync.

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		restored, err := mirror.Hydrate(ctx, store, restorer)
		if err != nil {
			apiLogger.Fatal(fmt.Sprintf("hydrating from mirror: %v", err), err)
		}
		if restored {
			apiLogger.Info("Data restored from mirror")
		}
		if err = syncer.SyncAll(ctx); err != nil {
			apiLogger.Error(fmt.Sprintf("syncing mirror: %v", err), err)
		}
		go syncer.Run(ctx, bus)

		scheduler.Start()

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		expvar.Publish("event_subscribers", expvar.Func(func() interface{} { return bus.Subscribers() }))
		expvar.Publish("events_dropped", expvar.Func(func() interface{} { return bus.Dropped() }))

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			scheduler.Stop(ctx)

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}

			// last write of the events the syncer may have missed
			if err := syncer.SyncAll(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("syncing mirror: %v", err), err)
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
