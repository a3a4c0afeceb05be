package schedulersvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []time.Time
	ids   []int
	err   error
}

func (p *fakePublisher) PublishDue(now time.Time) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, now)
	return p.ids, p.err
}

type recordingLogger struct {
	core.NopLogger
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (l *recordingLogger) Info(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestNew_InvalidSpec(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Scheduler.PublishSpec = "every minute"
	_, err := New(conf, new(fakePublisher), core.NopLogger{})
	assert.Error(t, err)
}

func TestScheduler_publishDue(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*3600))
	tests := []struct {
		name       string
		publisher  *fakePublisher
		wantInfos  int
		wantErrors int
	}{
		{"nothing due", &fakePublisher{}, 0, 0},
		{"published", &fakePublisher{ids: []int{1, 2}}, 1, 0},
		{"failure", &fakePublisher{err: errors.New("boom")}, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger := new(recordingLogger)
			s, err := New(core.NewTestConfig(), tc.publisher, logger)
			require.NoError(t, err)
			s.now = func() time.Time { return now }

			s.publishDue()

			require.Len(t, tc.publisher.calls, 1)
			assert.Equal(t, time.UTC, tc.publisher.calls[0].Location())
			assert.True(t, now.Equal(tc.publisher.calls[0]))
			assert.Len(t, logger.infos, tc.wantInfos)
			assert.Len(t, logger.errors, tc.wantErrors)
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := New(core.NewTestConfig(), new(fakePublisher), core.NopLogger{})
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

func TestFields(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"now": 1, "next": 2}, fields([]interface{}{"now", 1, "next", 2, "dangling"}))
	assert.Empty(t, fields(nil))
}
