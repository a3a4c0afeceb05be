package academy

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studylink/academy/core"
)

type Subject struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// SubjectInput is used to create or update a Subject.
type SubjectInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Code        string `json:"code" validate:"omitempty,max=20"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

func (in *SubjectInput) Validate(validate *validator.Validate) error {
	in.Name = core.CleanString(in.Name)
	in.Code = core.CleanString(in.Code)
	in.Description = core.CleanString(in.Description)
	return validate.Struct(in)
}

// StudentSummary is the copy of a student kept in a class roster.
type StudentSummary struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type Class struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Grade       string           `json:"grade"`
	Subject     string           `json:"subject"`
	TeacherIDs  []int            `json:"teacher_ids"`
	MaxStudents int              `json:"max_students"`
	Students    []StudentSummary `json:"students"`
	CreatedAt   time.Time        `json:"created_at"` // UTC
	UpdatedAt   time.Time        `json:"updated_at"` // UTC
}

// StudentIDs is derived from Students, in roster order.
func (c Class) StudentIDs() []int {
	ids := make([]int, 0, len(c.Students))
	for _, s := range c.Students {
		ids = append(ids, s.ID)
	}
	return ids
}

func (c Class) HasStudent(id int) bool {
	for _, s := range c.Students {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (c Class) HasTeacher(id int) bool {
	return core.ContainsInt(c.TeacherIDs, id)
}

// IsFull reports whether the roster reached MaxStudents. A zero MaxStudents means unlimited.
func (c Class) IsFull() bool {
	return c.MaxStudents > 0 && len(c.Students) >= c.MaxStudents
}

// Clone returns a deep copy of c.
func (c Class) Clone() Class {
	c.TeacherIDs = append([]int{}, c.TeacherIDs...)
	c.Students = append([]StudentSummary{}, c.Students...)
	return c
}

func (c Class) MarshalJSON() ([]byte, error) {
	type class Class
	return json.Marshal(struct {
		class
		StudentIDs []int `json:"student_ids"`
	}{class(c), c.StudentIDs()})
}

// ClassRef pairs a class id with its display name on a student profile.
type ClassRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type StudentProfile struct {
	UserID  int        `json:"user_id"`
	Classes []ClassRef `json:"classes"`
}

func (p StudentProfile) ClassIDs() []int {
	ids := make([]int, 0, len(p.Classes))
	for _, ref := range p.Classes {
		ids = append(ids, ref.ID)
	}
	return ids
}

func (p StudentProfile) Clone() StudentProfile {
	p.Classes = append([]ClassRef{}, p.Classes...)
	return p
}

type TeacherProfile struct {
	UserID   int    `json:"user_id"`
	Subject  string `json:"subject"`
	ClassIDs []int  `json:"class_ids"`
}

func (p TeacherProfile) Clone() TeacherProfile {
	p.ClassIDs = append([]int{}, p.ClassIDs...)
	return p
}

// ParentProfile links a parent account to the students it follows.
type ParentProfile struct {
	UserID   int   `json:"user_id"`
	ChildIDs []int `json:"child_ids"`
}

func (p ParentProfile) Clone() ParentProfile {
	p.ChildIDs = append([]int{}, p.ChildIDs...)
	return p
}

func (p ParentProfile) HasChild(id int) bool {
	return core.ContainsInt(p.ChildIDs, id)
}

// NewClass contains information needed to create a new Class.
type NewClass struct {
	Name        string `json:"name" validate:"required,max=100"`
	Grade       string `json:"grade" validate:"omitempty,max=50"`
	Subject     string `json:"subject" validate:"omitempty,max=100"`
	TeacherIDs  []int  `json:"teacher_ids" validate:"omitempty,dive,min=1"`
	MaxStudents int    `json:"max_students" validate:"min=0"`
	StudentIDs  []int  `json:"student_ids" validate:"omitempty,dive,min=1"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Grade = core.CleanString(nc.Grade)
	nc.Subject = core.CleanString(nc.Subject)
	return validate.Struct(nc)
}

// UpdateClass defines what information may be provided to modify an existing Class.
// Nil slices and pointers leave the corresponding field unchanged.
type UpdateClass struct {
	Name        string  `json:"name" validate:"omitempty,max=100"`
	Grade       *string `json:"grade" validate:"omitempty,max=50"`
	Subject     *string `json:"subject" validate:"omitempty,max=100"`
	TeacherIDs  []int   `json:"teacher_ids" validate:"omitempty,dive,min=1"`
	MaxStudents *int    `json:"max_students" validate:"omitempty,min=0"`
	StudentIDs  []int   `json:"student_ids" validate:"omitempty,dive,min=1"`
}

func (uc *UpdateClass) Validate(validate *validator.Validate) error {
	uc.Name = core.CleanString(uc.Name)
	if uc.Grade != nil {
		g := core.CleanString(*uc.Grade)
		uc.Grade = &g
	}
	if uc.Subject != nil {
		s := core.CleanString(*uc.Subject)
		uc.Subject = &s
	}
	return validate.Struct(uc)
}

type ClassFilter struct {
	Search    string `query:"search"`
	Subject   string `query:"subject"`
	TeacherID int    `query:"teacher_id"`
	StudentID int    `query:"student_id"`
}

// Inconsistency is a membership edge present on only one side, or a stale class name.
type Inconsistency struct {
	Kind    string `json:"kind"`
	UserID  int    `json:"user_id"`
	ClassID int    `json:"class_id"`
	Detail  string `json:"detail"`
}

// Inconsistency kinds
const (
	MissingStudentRef = "missing_student_ref" // class lists the student, profile does not
	OrphanStudentRef  = "orphan_student_ref"  // profile lists the class, class does not
	StaleClassName    = "stale_class_name"
	MissingTeacherRef = "missing_teacher_ref"
	OrphanTeacherRef  = "orphan_teacher_ref"
)
