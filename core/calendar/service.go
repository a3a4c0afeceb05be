package calendar

import (
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
)

var (
	// errors
	ErrNotFound     = core.NewNotFoundError("event")
	ErrInvalidDate  = errors.New("date must be a valid YYYY-MM-DD date")
	ErrInvalidRange = errors.New("invalid date range")

	dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type (
	Repository interface {
		CreateEvent(e Event) (Event, error)
		// QueryEvents returns the events matching filter, ordered by start date then id.
		QueryEvents(filter *QueryFilter) ([]Event, error)
		GetEventByID(id int) (Event, error)
		UpdateEvent(e Event) (Event, error)
		DeleteEvent(id int) error
	}

	// ClassGetter is implemented by academy.Service.
	ClassGetter interface {
		GetClass(id int) (academy.Class, error)
		Classes(filter academy.ClassFilter) ([]academy.Class, error)
	}

	// TestOwner returns the id of the teacher owning the test.
	TestOwner func(testID int) (int, error)

	Service struct {
		repo      Repository
		classes   ClassGetter
		testOwner TestOwner
		pub       event.Publisher
		now       func() time.Time
	}
)

func NewService(repo Repository, classes ClassGetter, testOwner TestOwner, pub event.Publisher) *Service {
	return &Service{
		repo:      repo,
		classes:   classes,
		testOwner: testOwner,
		pub:       pub,
		now:       time.Now,
	}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	if !dateRegex.MatchString(s) {
		return time.Time{}, ErrInvalidDate
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// NormalizeRange validates a date range. Missing bounds default to the first and last day of the
// month of now. start must not be after end and the range may not exceed MaxRangeDays.
func NormalizeRange(start, end string, now time.Time) (string, string, error) {
	now = now.UTC()
	startDate := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	endDate := startDate.AddDate(0, 1, -1)

	var err error
	if start != "" {
		if startDate, err = ParseDate(start); err != nil {
			return "", "", core.NewValidationError(err, core.FieldError{Field: "start_date", Error: err.Error()})
		}
	}
	if end != "" {
		if endDate, err = ParseDate(end); err != nil {
			return "", "", core.NewValidationError(err, core.FieldError{Field: "end_date", Error: err.Error()})
		}
	}
	if startDate.After(endDate) {
		return "", "", core.NewValidationError(ErrInvalidRange, core.FieldError{
			Field: "start_date", Error: "start date cannot be after end date",
		})
	}
	if endDate.Sub(startDate) > MaxRangeDays*24*time.Hour {
		return "", "", core.NewValidationError(ErrInvalidRange, core.FieldError{
			Field: "end_date", Error: "the range cannot exceed one year",
		})
	}
	return startDate.Format(DateLayout), endDate.Format(DateLayout), nil
}

// List returns the events of [start, end] visible to the actor:
// admins see everything, teachers their schedules and the deadlines of their classes, students the
// deadlines of their classes. Other roles see nothing.
func (svc *Service) List(actor user.User, start, end string) ([]Event, error) {
	start, end, err := NormalizeRange(start, end, svc.now())
	if err != nil {
		return nil, err
	}
	filter := &QueryFilter{Start: start, End: end}

	switch actor.Role {
	case user.RoleAdmin:
	case user.RoleTeacher:
		classes, err := svc.classes.Classes(academy.ClassFilter{TeacherID: actor.ID})
		if err != nil {
			return nil, errors.Wrap(err, "querying teacher classes")
		}
		filter.ClassIDs = classIDs(classes)
		filter.TeacherID = actor.ID
	case user.RoleStudent:
		classes, err := svc.classes.Classes(academy.ClassFilter{StudentID: actor.ID})
		if err != nil {
			return nil, errors.Wrap(err, "querying student classes")
		}
		if len(classes) == 0 {
			return []Event{}, nil
		}
		filter.ClassIDs = classIDs(classes)
		filter.Types = []string{TestDeadline}
	default:
		return []Event{}, nil
	}
	return svc.repo.QueryEvents(filter)
}

func (svc *Service) GetByID(id int) (Event, error) {
	return svc.repo.GetEventByID(id)
}

// Create adds an event; only teachers and admins may create events. A teacher schedule is only visible
// to its teacher. A teacher may only create deadlines for classes they teach and tests they own.
func (svc *Service) Create(actor user.User, ne NewEvent) (Event, error) {
	if !actor.IsTeacher() && !actor.IsAdmin() {
		return Event{}, core.ErrForbidden
	}
	endDate := ne.EndDate
	if endDate == "" {
		endDate = ne.StartDate
	}
	start, end, err := NormalizeRange(ne.StartDate, endDate, svc.now())
	if err != nil {
		return Event{}, err
	}

	now := svc.now().UTC()
	e := Event{
		Type:        ne.Type,
		Title:       ne.Title,
		Description: ne.Description,
		StartDate:   start,
		EndDate:     end,
		Visibility:  ClassWide,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch ne.Type {
	case TeacherSchedule:
		e.Visibility = TeacherOnly
		e.TeacherID = actor.ID
		if actor.IsAdmin() && ne.TeacherID != 0 {
			e.TeacherID = ne.TeacherID
		}
	case TestDeadline:
		if ne.ClassID == 0 {
			return Event{}, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "a test deadline requires a class"})
		}
		e.ClassID = ne.ClassID
		if actor.IsTeacher() {
			if err = svc.ensureTeachesClass(actor.ID, e.ClassID); err != nil {
				return Event{}, err
			}
			e.TeacherID = actor.ID
		} else {
			e.TeacherID = ne.TeacherID
		}
		if ne.TestID != 0 {
			e.TestID = ne.TestID
			if actor.IsTeacher() {
				if err = svc.ensureOwnsTest(actor.ID, e.TestID); err != nil {
					return Event{}, err
				}
			}
		}
	}

	if e, err = svc.repo.CreateEvent(e); err != nil {
		return Event{}, errors.Wrap(err, "creating event")
	}
	svc.pub.Publish(event.New(event.Created, event.Calendar, e.ID, e))
	return e, nil
}

func (svc *Service) Update(actor user.User, id int, ue UpdateEvent) (Event, error) {
	e, err := svc.repo.GetEventByID(id)
	if err != nil {
		return Event{}, errors.Wrap(err, "finding event by ID")
	}
	if err = canModify(actor, e); err != nil {
		return Event{}, err
	}

	if ue.StartDate != "" || ue.EndDate != "" {
		start, end := e.StartDate, e.EndDate
		if ue.StartDate != "" {
			start = ue.StartDate
		}
		if ue.EndDate != "" {
			end = ue.EndDate
		}
		if e.StartDate, e.EndDate, err = NormalizeRange(start, end, svc.now()); err != nil {
			return Event{}, err
		}
	}
	if ue.Title != nil {
		if *ue.Title == "" {
			return Event{}, core.NewValidationError(nil, core.FieldError{Field: "title", Error: "this field is required"})
		}
		e.Title = *ue.Title
	}
	if ue.Description != nil {
		e.Description = *ue.Description
	}

	switch e.Type {
	case TeacherSchedule:
		if actor.IsTeacher() {
			e.TeacherID = actor.ID
		} else if ue.TeacherID != nil {
			e.TeacherID = *ue.TeacherID
		}
	case TestDeadline:
		if ue.ClassID != nil && *ue.ClassID != 0 {
			e.ClassID = *ue.ClassID
		}
		if actor.IsTeacher() {
			if err = svc.ensureTeachesClass(actor.ID, e.ClassID); err != nil {
				return Event{}, err
			}
			e.TeacherID = actor.ID
		} else if ue.TeacherID != nil {
			e.TeacherID = *ue.TeacherID
		}
		if ue.TestID != nil {
			e.TestID = *ue.TestID
		}
		if e.TestID != 0 && actor.IsTeacher() {
			if err = svc.ensureOwnsTest(actor.ID, e.TestID); err != nil {
				return Event{}, err
			}
		}
	}

	e.UpdatedAt = svc.now().UTC()
	if e, err = svc.repo.UpdateEvent(e); err != nil {
		return Event{}, errors.Wrap(err, "updating event")
	}
	svc.pub.Publish(event.New(event.Updated, event.Calendar, e.ID, e))
	return e, nil
}

func (svc *Service) Delete(actor user.User, id int) error {
	e, err := svc.repo.GetEventByID(id)
	if err != nil {
		return errors.Wrap(err, "finding event by ID")
	}
	if err = canModify(actor, e); err != nil {
		return err
	}
	if err = svc.repo.DeleteEvent(id); err != nil {
		return errors.Wrap(err, "deleting event")
	}
	svc.pub.Publish(event.New(event.Deleted, event.Calendar, id, nil))
	return nil
}

// SyncTestDeadline creates or updates the deadline event of a test, or removes it when the deadline is
// not active.
func (svc *Service) SyncTestDeadline(d Deadline) error {
	if !d.Active || d.DueDate == "" || d.ClassID == 0 {
		return svc.RemoveTestDeadline(d.TestID)
	}
	due, err := ParseDate(d.DueDate)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "due_date", Error: err.Error()})
	}
	date := due.Format(DateLayout)
	description := d.Description
	if description == "" {
		description = "Check the test deadline."
	}

	existing, err := svc.repo.QueryEvents(&QueryFilter{TestID: d.TestID, Types: []string{TestDeadline}})
	if err != nil {
		return errors.Wrap(err, "querying test deadline")
	}
	now := svc.now().UTC()
	if len(existing) == 0 {
		e, err := svc.repo.CreateEvent(Event{
			Type:        TestDeadline,
			Title:       d.Title,
			Description: description,
			StartDate:   date,
			EndDate:     date,
			ClassID:     d.ClassID,
			TestID:      d.TestID,
			TeacherID:   d.TeacherID,
			Visibility:  ClassWide,
			CreatedBy:   d.TeacherID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return errors.Wrap(err, "creating test deadline")
		}
		svc.pub.Publish(event.New(event.Created, event.Calendar, e.ID, e))
		return nil
	}

	e := existing[0]
	e.Title = d.Title
	e.Description = description
	e.StartDate, e.EndDate = date, date
	e.ClassID = d.ClassID
	e.TeacherID = d.TeacherID
	e.UpdatedAt = now
	if e, err = svc.repo.UpdateEvent(e); err != nil {
		return errors.Wrap(err, "updating test deadline")
	}
	svc.pub.Publish(event.New(event.Updated, event.Calendar, e.ID, e))
	return nil
}

// RemoveTestDeadline deletes the deadline events of the test, if any.
func (svc *Service) RemoveTestDeadline(testID int) error {
	existing, err := svc.repo.QueryEvents(&QueryFilter{TestID: testID, Types: []string{TestDeadline}})
	if err != nil {
		return errors.Wrap(err, "querying test deadline")
	}
	for _, e := range existing {
		if err := svc.repo.DeleteEvent(e.ID); err != nil {
			return errors.Wrap(err, "deleting test deadline")
		}
		svc.pub.Publish(event.New(event.Deleted, event.Calendar, e.ID, nil))
	}
	return nil
}

// RemoveClass deletes the deadlines of a class. Runs when a class is deleted.
func (svc *Service) RemoveClass(classID int) error {
	existing, err := svc.repo.QueryEvents(&QueryFilter{ClassIDs: []int{classID}, Types: []string{TestDeadline}})
	if err != nil {
		return errors.Wrap(err, "querying class deadlines")
	}
	for _, e := range existing {
		if err := svc.repo.DeleteEvent(e.ID); err != nil {
			return errors.Wrap(err, "deleting class deadline")
		}
		svc.pub.Publish(event.New(event.Deleted, event.Calendar, e.ID, nil))
	}
	return nil
}

func (svc *Service) ensureTeachesClass(teacherID, classID int) error {
	c, err := svc.classes.GetClass(classID)
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}
	if !c.HasTeacher(teacherID) {
		return core.ErrForbidden
	}
	return nil
}

func (svc *Service) ensureOwnsTest(teacherID, testID int) error {
	owner, err := svc.testOwner(testID)
	if err != nil {
		return errors.Wrap(err, "finding test by ID")
	}
	if owner != teacherID {
		return core.ErrForbidden
	}
	return nil
}

// canModify: admins may modify any event, teachers the events they own or created.
func canModify(actor user.User, e Event) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.IsTeacher() && (e.TeacherID == actor.ID || e.CreatedBy == actor.ID) {
		return nil
	}
	return core.ErrForbidden
}

func classIDs(classes []academy.Class) []int {
	ids := make([]int, 0, len(classes))
	for _, c := range classes {
		ids = append(ids, c.ID)
	}
	return ids
}
