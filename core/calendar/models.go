package calendar

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studylink/academy/core"
)

// Event types
const (
	TeacherSchedule = "teacher_schedule"
	TestDeadline    = "test_deadline"
)

// Visibilities
const (
	TeacherOnly = "teacher_only"
	ClassWide   = "class"
)

const (
	DateLayout   = "2006-01-02"
	MaxRangeDays = 370
)

type Event struct {
	ID          int       `json:"id"`
	Type        string    `json:"event_type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartDate   string    `json:"start_date"` // YYYY-MM-DD
	EndDate     string    `json:"end_date"`   // YYYY-MM-DD
	ClassID     int       `json:"class_id"`
	TestID      int       `json:"test_id"`
	TeacherID   int       `json:"teacher_id"`
	Visibility  string    `json:"visibility"`
	CreatedBy   int       `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// Overlaps reports whether the event intersects the [start, end] date range.
func (e Event) Overlaps(start, end string) bool {
	return e.StartDate <= end && e.EndDate >= start
}

// NewEvent contains information needed to create a new Event.
type NewEvent struct {
	Type        string `json:"event_type" validate:"required,oneof=teacher_schedule test_deadline"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	StartDate   string `json:"start_date" validate:"required,date"`
	EndDate     string `json:"end_date" validate:"omitempty,date"`
	ClassID     int    `json:"class_id" validate:"min=0"`
	TestID      int    `json:"test_id" validate:"min=0"`
	TeacherID   int    `json:"teacher_id" validate:"min=0"`
}

func (ne *NewEvent) Validate(validate *validator.Validate) error {
	ne.Type = core.CleanString(ne.Type, true /* lower */)
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	ne.StartDate = core.CleanString(ne.StartDate)
	ne.EndDate = core.CleanString(ne.EndDate)
	if err := validate.Struct(ne); err != nil {
		return err
	}
	if ne.Type == TestDeadline && ne.ClassID == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "a test deadline requires a class"})
	}
	return nil
}

// UpdateEvent defines what information may be provided to modify an existing Event.
// Nil pointers and empty dates leave the field unchanged.
type UpdateEvent struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	StartDate   string  `json:"start_date" validate:"omitempty,date"`
	EndDate     string  `json:"end_date" validate:"omitempty,date"`
	ClassID     *int    `json:"class_id" validate:"omitempty,min=0"`
	TestID      *int    `json:"test_id" validate:"omitempty,min=0"`
	TeacherID   *int    `json:"teacher_id" validate:"omitempty,min=0"`
}

func (ue *UpdateEvent) Validate(validate *validator.Validate) error {
	if ue.Title != nil {
		t := core.CleanString(*ue.Title)
		ue.Title = &t
	}
	if ue.Description != nil {
		d := core.CleanString(*ue.Description)
		ue.Description = &d
	}
	ue.StartDate = core.CleanString(ue.StartDate)
	ue.EndDate = core.CleanString(ue.EndDate)
	return validate.Struct(ue)
}

// QueryFilter selects events overlapping [Start, End]. ClassIDs and TeacherID are OR-ed: an event matches
// when it is a deadline of one of ClassIDs or a schedule of TeacherID. Both empty means no restriction.
type QueryFilter struct {
	Start     string
	End       string
	ClassIDs  []int
	TeacherID int
	TestID    int
	Types     []string
}

func (qf *QueryFilter) Match(e Event) bool {
	if qf.Start != "" && qf.End != "" && !e.Overlaps(qf.Start, qf.End) {
		return false
	}
	if qf.TestID != 0 && e.TestID != qf.TestID {
		return false
	}
	if len(qf.Types) > 0 {
		found := false
		for _, t := range qf.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(qf.ClassIDs) == 0 && qf.TeacherID == 0 {
		return true
	}
	if e.Type == TestDeadline && core.ContainsInt(qf.ClassIDs, e.ClassID) {
		return true
	}
	return e.Type == TeacherSchedule && qf.TeacherID != 0 && e.TeacherID == qf.TeacherID
}

// Deadline is the calendar view of a test. Active is false when the test is unpublished, undated or
// not bound to a class; the deadline event is then removed.
type Deadline struct {
	TestID      int
	ClassID     int
	TeacherID   int
	Title       string
	Description string
	DueDate     string // YYYY-MM-DD
	Active      bool
}
