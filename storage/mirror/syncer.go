package mirror

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
)

// Snapshot is the complete content of the authoritative store.
type Snapshot struct {
	Users       []user.Record
	Subjects    []academy.Subject
	Classes     []academy.Class
	Students    []academy.StudentProfile
	Teachers    []academy.TeacherProfile
	Parents     []academy.ParentProfile
	Courses     []course.Course
	Tests       []exam.Test
	Questions   []exam.Question
	Submissions []exam.Submission
	Events      []calendar.Event
}

// fields maps each snapshot key to the matching field of snap.
func (snap *Snapshot) fields() map[string]interface{} {
	return map[string]interface{}{
		KeyUsers:       &snap.Users,
		KeySubjects:    &snap.Subjects,
		KeyClasses:     &snap.Classes,
		KeyStudents:    &snap.Students,
		KeyTeachers:    &snap.Teachers,
		KeyParents:     &snap.Parents,
		KeyCourses:     &snap.Courses,
		KeyTests:       &snap.Tests,
		KeyQuestions:   &snap.Questions,
		KeySubmissions: &snap.Submissions,
		KeyCalendar:    &snap.Events,
	}
}

// SnapshotKeys lists the keys holding a Snapshot.
var SnapshotKeys = []string{
	KeyUsers, KeySubjects, KeyClasses, KeyStudents, KeyTeachers, KeyParents,
	KeyCourses, KeyTests, KeyQuestions, KeySubmissions, KeyCalendar,
}

var entityKeys = map[event.Entity][]string{
	event.User:       {KeyUsers},
	event.Student:    {KeyStudents},
	event.Teacher:    {KeyTeachers},
	event.Parent:     {KeyParents},
	event.Class:      {KeyClasses},
	event.Subject:    {KeySubjects},
	event.Course:     {KeyCourses},
	event.Test:       {KeyTests, KeyQuestions},
	event.Submission: {KeySubmissions},
	event.Calendar:   {KeyCalendar},
}

type (
	// Source is implemented by the authoritative store.
	Source interface {
		Snapshot() (Snapshot, error)
	}

	// Restorer loads a snapshot into the authoritative store.
	Restorer interface {
		Restore(snap Snapshot) error
	}

	// Watcher delivers every published event, without dropping any.
	Watcher interface {
		Watch(ctx context.Context, filter event.Filter, fn func(event.Event))
	}
)

// Syncer keeps the mirror keys up to date with the authoritative store. Changed keys are collected in a
// dirty set and written by Run; several changes of one entity kind coalesce into one write.
type Syncer struct {
	store  *Store
	source Source
	logger core.Logger

	mu      sync.Mutex
	dirty   map[string]bool
	pending chan struct{}
}

func NewSyncer(store *Store, source Source, logger core.Logger) *Syncer {
	return &Syncer{
		store:   store,
		source:  source,
		logger:  logger,
		dirty:   make(map[string]bool),
		pending: make(chan struct{}, 1),
	}
}

// Run writes the keys of every changed entity until ctx is done.
func (s *Syncer) Run(ctx context.Context, bus Watcher) {
	entities := make([]event.Entity, 0, len(entityKeys))
	for e := range entityKeys {
		entities = append(entities, e)
	}
	bus.Watch(ctx, event.Filter{Entities: entities}, s.Mark)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending:
			if err := s.Flush(ctx); err != nil {
				s.logger.Error("syncing mirror", err)
			}
		}
	}
}

// Mark records the mirror keys of the event's entity as stale. It never blocks.
func (s *Syncer) Mark(ev event.Event) {
	keys, ok := entityKeys[ev.Entity]
	if !ok {
		return
	}
	s.mark(keys)
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *Syncer) mark(keys []string) {
	s.mu.Lock()
	for _, key := range keys {
		s.dirty[key] = true
	}
	s.mu.Unlock()
}

// Dirty returns the stale keys, sorted.
func (s *Syncer) Dirty() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.dirty))
	for key := range s.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes the stale keys. Keys that fail to be written stay stale.
func (s *Syncer) Flush(ctx context.Context) error {
	keys := s.take()
	if len(keys) == 0 {
		return nil
	}
	return s.writeOrMark(ctx, keys)
}

// Handle writes the mirror keys of the event's entity.
func (s *Syncer) Handle(ctx context.Context, ev event.Event) error {
	keys, ok := entityKeys[ev.Entity]
	if !ok {
		return nil
	}
	return s.writeOrMark(ctx, keys)
}

// SyncAll rewrites every snapshot key.
func (s *Syncer) SyncAll(ctx context.Context) error {
	s.take()
	return s.writeOrMark(ctx, SnapshotKeys)
}

// take empties the dirty set. The snapshot taken after it holds every change marked before.
func (s *Syncer) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.dirty))
	for _, key := range SnapshotKeys {
		if s.dirty[key] {
			keys = append(keys, key)
		}
	}
	s.dirty = make(map[string]bool)
	return keys
}

func (s *Syncer) writeOrMark(ctx context.Context, keys []string) error {
	if err := s.write(ctx, keys); err != nil {
		s.mark(keys)
		return err
	}
	return nil
}

func (s *Syncer) write(ctx context.Context, keys []string) error {
	snap, err := s.source.Snapshot()
	if err != nil {
		return errors.Wrap(err, "taking snapshot")
	}
	fields := snap.fields()
	for _, key := range keys {
		if err := s.store.Write(ctx, key, fields[key]); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot decodes every snapshot key. Absent keys leave their field empty.
func ReadSnapshot(ctx context.Context, store *Store) (Snapshot, bool, error) {
	var snap Snapshot
	var found bool
	fields := snap.fields()
	for _, key := range SnapshotKeys {
		raw, err := store.Raw(ctx, key)
		if core.IsNotFound(err) {
			continue
		}
		if err != nil {
			return Snapshot{}, false, err
		}
		if err := json.Unmarshal(raw, fields[key]); err != nil {
			return Snapshot{}, false, &DecodeError{Key: key, Err: err}
		}
		found = true
	}
	return snap, found, nil
}

// Hydrate restores the authoritative store from the mirror. It reports whether anything was restored.
func Hydrate(ctx context.Context, store *Store, restorer Restorer) (bool, error) {
	snap, found, err := ReadSnapshot(ctx, store)
	if err != nil || !found {
		return false, err
	}
	if err := restorer.Restore(snap); err != nil {
		return false, errors.Wrap(err, "restoring snapshot")
	}
	return true, nil
}
