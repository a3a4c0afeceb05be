// Package mirror persists JSON snapshots of the academy data under stable keys. Every canonical key
// is also written under its legacy alias keys so that older readers keep working.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
)

// Canonical keys
const (
	KeyUsers       = "users"
	KeyStudents    = "students"
	KeyTeachers    = "teachers"
	KeyParents     = "parents"
	KeyClasses     = "classes"
	KeySubjects    = "subjects"
	KeyCourses     = "courses"
	KeyTests       = "tests"
	KeyQuestions   = "questions"
	KeySubmissions = "submissions"
	KeyCalendar    = "calendar_events"
)

// ErrKeyNotFound is returned by Raw for an absent key.
var ErrKeyNotFound = core.NewNotFoundError("mirror key")

var aliases = map[string][]string{
	KeyClasses:  {"studylink_classes"},
	KeyStudents: {"studylink_students", "studylink_all_students"},
	KeyTeachers: {"studylink_teachers", "studylink_all_teachers"},
	KeyUsers:    {"studylink_users"},
}

// canonicals maps every alias to its canonical key.
var canonicals = func() map[string]string {
	m := make(map[string]string)
	for key, as := range aliases {
		for _, a := range as {
			m[a] = key
		}
	}
	return m
}()

// Canonical returns the canonical key of key, which may be an alias.
func Canonical(key string) string {
	if c, ok := canonicals[key]; ok {
		return c
	}
	return key
}

// Aliases returns the canonical key of key followed by all its aliases.
func Aliases(key string) []string {
	c := Canonical(key)
	return append([]string{c}, aliases[c]...)
}

// DecodeError reports a stored blob that could not be decoded.
type DecodeError struct {
	Key string
	Err error
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("decoding mirror key %q: %v", err.Key, err.Err)
}

func (err *DecodeError) Unwrap() error { return err.Err }

// Backend stores raw blobs.
type Backend interface {
	// Get returns the blob under key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores all entries at once.
	Put(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns the stored keys, sorted.
	Keys(ctx context.Context) ([]string, error)
}

type Store struct {
	backend Backend
	pub     event.Publisher
}

func NewStore(backend Backend, pub event.Publisher) *Store {
	return &Store{backend: backend, pub: pub}
}

// Read decodes the blob stored under key into dst. An absent key leaves dst untouched and returns nil.
// Data found only under an alias is read as well.
func (s *Store) Read(ctx context.Context, key string, dst interface{}) error {
	raw, err := s.get(ctx, key)
	if err != nil || raw == nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &DecodeError{Key: key, Err: err}
	}
	return nil
}

// Raw returns the blob stored under key, or ErrKeyNotFound.
func (s *Store) Raw(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrKeyNotFound
	}
	return raw, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	for _, k := range Aliases(key) {
		raw, ok, err := s.backend.Get(ctx, k)
		if err != nil {
			return nil, errors.Wrapf(err, "reading mirror key %q", k)
		}
		if ok {
			return raw, nil
		}
	}
	return nil, nil
}

// Write stores value under the canonical key of key and every alias, then publishes a mirror event.
func (s *Store) Write(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding mirror key %q", key)
	}
	keys := Aliases(key)
	entries := make(map[string][]byte, len(keys))
	for _, k := range keys {
		entries[k] = raw
	}
	if err := s.backend.Put(ctx, entries); err != nil {
		return errors.Wrapf(err, "writing mirror key %q", key)
	}
	s.pub.Publish(event.Event{Kind: event.Updated, Entity: event.Mirror, Key: keys[0]})
	return nil
}

// Delete removes key and its aliases.
func (s *Store) Delete(ctx context.Context, key string) error {
	keys := Aliases(key)
	if err := s.backend.Delete(ctx, keys...); err != nil {
		return errors.Wrapf(err, "deleting mirror key %q", key)
	}
	s.pub.Publish(event.Event{Kind: event.Deleted, Entity: event.Mirror, Key: keys[0]})
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	return keys, errors.Wrap(err, "listing mirror keys")
}
