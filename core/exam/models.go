package exam

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studylink/academy/core"
)

type Test struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	TimeLimit   int        `json:"time_limit"` // minutes
	TotalScore  int        `json:"total_score"`
	IsPublished bool       `json:"is_published"`
	PublishAt   *time.Time `json:"publish_at"`
	DueDate     string     `json:"due_date"` // YYYY-MM-DD
	ClassID     int        `json:"class_id"`
	TeacherID   int        `json:"teacher_id"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	UpdatedAt   time.Time  `json:"updated_at"` // UTC
}

type Question struct {
	ID         int             `json:"id"`
	TestID     int             `json:"test_id"`
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	Payload    json.RawMessage `json:"payload"`
	Points     int             `json:"points"`
	OrderIndex int             `json:"order_index"`
}

// Public returns the question as shown to a student: the answer key is stripped from the payload.
func (q Question) Public() (Question, error) {
	p, err := DecodePayload(q.Type, q.Payload)
	if err != nil {
		return Question{}, err
	}
	raw, err := json.Marshal(p.public())
	if err != nil {
		return Question{}, err
	}
	q.Payload = raw
	return q, nil
}

// Result is the grading of one answer.
type Result struct {
	QuestionID     int             `json:"question_id"`
	Response       json.RawMessage `json:"response"`
	IsCorrect      *bool           `json:"is_correct"`
	Awarded        *int            `json:"awarded"`
	MaxScore       int             `json:"max_score"`
	RequiresManual bool            `json:"requires_manual_grading"`
}

type Submission struct {
	ID          int                     `json:"id"`
	TestID      int                     `json:"test_id"`
	StudentID   int                     `json:"student_id"`
	Answers     map[int]json.RawMessage `json:"answers"` // question id → raw response
	Results     []Result                `json:"results"`
	Score       *int                    `json:"score"`
	IsGraded    bool                    `json:"is_graded"`
	IsPublished bool                    `json:"is_published"`
	Feedback    string                  `json:"feedback"`
	SubmittedAt time.Time               `json:"submitted_at"`
	GradedAt    *time.Time              `json:"graded_at"`
}

// Answered is the number of non-empty answers.
func (s Submission) Answered() int {
	var n int
	for _, raw := range s.Answers {
		if !IsBlank(raw) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of s.
func (s Submission) Clone() Submission {
	answers := make(map[int]json.RawMessage, len(s.Answers))
	for id, raw := range s.Answers {
		answers[id] = append(json.RawMessage{}, raw...)
	}
	s.Answers = answers
	s.Results = append([]Result{}, s.Results...)
	return s
}

// NewTest contains information needed to create a new Test.
type NewTest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"omitempty,max=2000"`
	TimeLimit   int        `json:"time_limit" validate:"min=0"`
	TotalScore  int        `json:"total_score" validate:"min=0"`
	IsPublished bool       `json:"is_published"`
	PublishAt   *time.Time `json:"publish_at"`
	DueDate     string     `json:"due_date" validate:"omitempty,date"`
	ClassID     int        `json:"class_id" validate:"min=0"`
	TeacherID   int        `json:"teacher_id" validate:"min=0"`
}

func (nt *NewTest) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	nt.DueDate = core.CleanString(nt.DueDate)
	return validate.Struct(nt)
}

// UpdateTest defines what information may be provided to modify an existing Test.
// Nil pointers leave the field unchanged; an empty DueDate clears it.
type UpdateTest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	TimeLimit   *int       `json:"time_limit" validate:"omitempty,min=0"`
	TotalScore  *int       `json:"total_score" validate:"omitempty,min=0"`
	IsPublished *bool      `json:"is_published"`
	PublishAt   *time.Time `json:"publish_at"`
	DueDate     *string    `json:"due_date" validate:"omitempty,date"`
	ClassID     *int       `json:"class_id" validate:"omitempty,min=0"`
}

func (ut *UpdateTest) Validate(validate *validator.Validate) error {
	if ut.Title != nil {
		t := core.CleanString(*ut.Title)
		ut.Title = &t
	}
	if ut.Description != nil {
		d := core.CleanString(*ut.Description)
		ut.Description = &d
	}
	if ut.DueDate != nil {
		d := core.CleanString(*ut.DueDate)
		ut.DueDate = &d
	}
	return validate.Struct(ut)
}

type QuestionInput struct {
	Type    string          `json:"type" validate:"required,oneof=ox multiple_choice short_answer essay"`
	Text    string          `json:"text" validate:"required,max=5000"`
	Payload json.RawMessage `json:"payload"`
	Points  int             `json:"points" validate:"min=0"`
}

// Validate checks the input and decodes its payload against the question type.
func (in *QuestionInput) Validate(validate *validator.Validate) error {
	in.Type = core.CleanString(in.Type, true /* lower */)
	in.Text = core.CleanString(in.Text)
	if err := validate.Struct(in); err != nil {
		return err
	}
	if _, err := DecodePayload(in.Type, in.Payload); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "payload", Error: err.Error()})
	}
	return nil
}

type GradeInput struct {
	Score    int    `json:"score" validate:"min=0"`
	Feedback string `json:"feedback" validate:"omitempty,max=5000"`
	Publish  *bool  `json:"publish"`
}

type QueryFilter struct {
	TeacherID   int   `query:"teacher_id"`
	ClassIDs    []int `query:"class_id"` // any of
	IsPublished *bool `query:"is_published"`
}

func (qf *QueryFilter) Match(t Test) bool {
	if qf.TeacherID != 0 && t.TeacherID != qf.TeacherID {
		return false
	}
	if len(qf.ClassIDs) > 0 && !core.ContainsInt(qf.ClassIDs, t.ClassID) {
		return false
	}
	if qf.IsPublished != nil && t.IsPublished != *qf.IsPublished {
		return false
	}
	return true
}

type SubmissionFilter struct {
	TestIDs   []int
	StudentID int
}

func (sf *SubmissionFilter) Match(s Submission) bool {
	if len(sf.TestIDs) > 0 && !core.ContainsInt(sf.TestIDs, s.TestID) {
		return false
	}
	return sf.StudentID == 0 || s.StudentID == sf.StudentID
}

// Directions for MoveQuestion
const (
	Up   = "up"
	Down = "down"
)
