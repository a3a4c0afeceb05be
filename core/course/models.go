package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studylink/academy/core"
)

// Difficulties
const (
	Beginner     = "beginner"
	Intermediate = "intermediate"
	Advanced     = "advanced"
)

// Block types
const (
	BlockVideo    = "video"
	BlockCode     = "code"
	BlockTest     = "test"
	BlockMindmap  = "mindmap"
	BlockDocument = "document"
	BlockQuiz     = "quiz"
	BlockImage    = "image"
)

type Block struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	IsRequired  bool   `json:"is_required"`
}

type Course struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Duration    int       `json:"duration"` // minutes
	Difficulty  string    `json:"difficulty"`
	Blocks      []Block   `json:"blocks"`
	ClassIDs    []int     `json:"class_ids"`
	IsPublished bool      `json:"is_published"`
	TeacherID   int       `json:"teacher_id"`
	TeacherIDs  []int     `json:"teacher_ids"` // additional teachers
	CreatedAt   time.Time `json:"created_at"`  // UTC
	UpdatedAt   time.Time `json:"updated_at"`  // UTC
}

func (c Course) Clone() Course {
	c.Blocks = append([]Block{}, c.Blocks...)
	c.ClassIDs = append([]int{}, c.ClassIDs...)
	c.TeacherIDs = append([]int{}, c.TeacherIDs...)
	return c
}

// HasTeacher reports whether id is the primary or an additional teacher.
func (c Course) HasTeacher(id int) bool {
	return c.TeacherID == id || core.ContainsInt(c.TeacherIDs, id)
}

func (c Course) BlockIndex(blockID string) int {
	for i, b := range c.Blocks {
		if b.ID == blockID {
			return i
		}
	}
	return -1
}

func (c Course) RequiredBlockIDs() []string {
	ids := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.IsRequired {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title       string `json:"title" validate:"required,max=200"`
	Subject     string `json:"subject" validate:"omitempty,max=100"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	Duration    int    `json:"duration" validate:"min=0"`
	Difficulty  string `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	ClassIDs    []int  `json:"class_ids" validate:"omitempty,dive,min=1"`
	TeacherID   int    `json:"teacher_id" validate:"min=0"`
	TeacherIDs  []int  `json:"teacher_ids" validate:"omitempty,dive,min=1"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Subject = core.CleanString(nc.Subject)
	nc.Description = core.CleanString(nc.Description)
	nc.Difficulty = core.CleanString(nc.Difficulty, true /* lower */)
	if nc.Difficulty == "" {
		nc.Difficulty = Beginner
	}
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
// Empty strings, nil slices and nil pointers leave the field unchanged.
type UpdateCourse struct {
	Title       string  `json:"title" validate:"omitempty,max=200"`
	Subject     *string `json:"subject" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Duration    *int    `json:"duration" validate:"omitempty,min=0"`
	Difficulty  string  `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	ClassIDs    []int   `json:"class_ids" validate:"omitempty,dive,min=1"`
	TeacherIDs  []int   `json:"teacher_ids" validate:"omitempty,dive,min=1"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Title = core.CleanString(uc.Title)
	uc.Difficulty = core.CleanString(uc.Difficulty, true /* lower */)
	if uc.Subject != nil {
		s := core.CleanString(*uc.Subject)
		uc.Subject = &s
	}
	return validate.Struct(uc)
}

type BlockInput struct {
	Type        string `json:"type" validate:"required,oneof=video code test mindmap document quiz image"`
	Title       string `json:"title" validate:"required,max=200"`
	URL         string `json:"url" validate:"omitempty,max=2000"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	IsRequired  *bool  `json:"is_required"`
}

func (in *BlockInput) Validate(validate *validator.Validate) error {
	in.Type = core.CleanString(in.Type, true /* lower */)
	in.Title = core.CleanString(in.Title)
	in.URL = core.CleanString(in.URL)
	in.Description = core.CleanString(in.Description)
	return validate.Struct(in)
}

type QueryFilter struct {
	Search      string `query:"search"`
	Subject     string `query:"subject"`
	ClassIDs    []int  `query:"class_id"` // any of
	TeacherID   int    `query:"teacher_id"`
	IsPublished *bool  `query:"is_published"`
}

// BlockProgress is the progress of a student on one block.
type BlockProgress struct {
	StudentID int       `json:"student_id"`
	CourseID  int       `json:"course_id"`
	BlockID   string    `json:"block_id"`
	Completed bool      `json:"completed"`
	Progress  int       `json:"progress"` // percent
	UpdatedAt time.Time `json:"updated_at"`
}

type ProgressInput struct {
	Completed bool `json:"completed"`
	Progress  int  `json:"progress" validate:"min=0,max=100"`
}

// StudentCourseProgress is the summary of a student on a course.
type StudentCourseProgress struct {
	StudentID int     `json:"student_id"`
	CourseID  int     `json:"course_id"`
	Completed int     `json:"completed"`
	Required  int     `json:"required"`
	Percent   float64 `json:"percent"`
}
