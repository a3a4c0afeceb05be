// Package schedulersvc runs the periodic jobs of the API: publishing the tests whose publish_at is due.
package schedulersvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/studylink/academy/core"
)

// TestPublisher is implemented by exam.Service.
type TestPublisher interface {
	PublishDue(now time.Time) ([]int, error)
}

type Scheduler struct {
	cron   *cron.Cron
	tests  TestPublisher
	logger core.Logger
	now    func() time.Time
}

// New schedules the publishing job on conf.Scheduler.PublishSpec (standard 5-field cron spec).
func New(conf *core.Config, tests TestPublisher, logger core.Logger) (*Scheduler, error) {
	cl := cronLogger{logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		tests:  tests,
		logger: logger,
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(conf.Scheduler.PublishSpec, s.publishDue); err != nil {
		return nil, errors.Wrapf(err, "scheduling test publishing (%q)", conf.Scheduler.PublishSpec)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for the running jobs, at most until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped before its jobs completed", ctx.Err())
	}
}

func (s *Scheduler) publishDue() {
	ids, err := s.tests.PublishDue(s.now().UTC())
	if err != nil {
		s.logger.Error("publishing due tests", err)
		return
	}
	if len(ids) > 0 {
		s.logger.Info("published scheduled tests", map[string]interface{}{"test_ids": ids})
	}
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			out[k] = keysAndValues[i+1]
		}
	}
	return out
}
