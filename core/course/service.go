package course

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/progress"
	"github.com/studylink/academy/core/user"
)

// ProgressKey is the mirror key holding block progress.
const ProgressKey = "block_progress"

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("course")
	ErrBlockNotFound = core.NewNotFoundError("block")
	ErrTooManyBlocks = errors.New("too many blocks")
	ErrInvalidOrder  = errors.New("block ids must be a permutation of the course blocks")
)

type (
	Repository interface {
		CreateCourse(c Course) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields.
		QueryCourses(filter *QueryFilter) ([]Course, error)
		GetCourseByID(id int) (Course, error)
		UpdateCourse(c Course) (Course, error)
		DeleteCourse(id int) error
	}

	// ProgressStore persists block progress; implemented by the mirror store.
	ProgressStore interface {
		Read(ctx context.Context, key string, dst interface{}) error
		Write(ctx context.Context, key string, value interface{}) error
	}

	Service struct {
		repo      Repository
		store     ProgressStore
		pub       event.Publisher
		conf      *core.Config
		progressM sync.Mutex // serializes progress read-modify-write
	}
)

func NewService(repo Repository, store ProgressStore, pub event.Publisher, conf *core.Config) *Service {
	return &Service{repo: repo, store: store, pub: pub, conf: conf}
}

func (svc *Service) Query(filter *QueryFilter) ([]Course, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	return svc.repo.QueryCourses(filter)
}

func (svc *Service) GetByID(id int) (Course, error) {
	return svc.repo.GetCourseByID(id)
}

func (svc *Service) Create(nc NewCourse) (Course, error) {
	now := time.Now().UTC()
	c := Course{
		Title:       nc.Title,
		Subject:     nc.Subject,
		Description: nc.Description,
		Duration:    nc.Duration,
		Difficulty:  nc.Difficulty,
		Blocks:      []Block{},
		ClassIDs:    core.UniqueInts(nc.ClassIDs),
		TeacherID:   nc.TeacherID,
		TeacherIDs:  core.RemoveInt(core.UniqueInts(nc.TeacherIDs), nc.TeacherID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c, err := svc.repo.CreateCourse(c)
	if err != nil {
		return Course{}, errors.Wrap(err, "creating course")
	}
	svc.pub.Publish(event.New(event.Created, event.Course, c.ID, c))
	return c, nil
}

func (svc *Service) Update(id int, uc UpdateCourse) (Course, error) {
	return svc.modify(id, func(c *Course) error {
		if uc.Title != "" {
			c.Title = uc.Title
		}
		if uc.Subject != nil {
			c.Subject = *uc.Subject
		}
		if uc.Description != nil {
			c.Description = *uc.Description
		}
		if uc.Duration != nil {
			c.Duration = *uc.Duration
		}
		if uc.Difficulty != "" {
			c.Difficulty = uc.Difficulty
		}
		if uc.ClassIDs != nil {
			c.ClassIDs = core.UniqueInts(uc.ClassIDs)
		}
		if uc.TeacherIDs != nil {
			c.TeacherIDs = core.RemoveInt(core.UniqueInts(uc.TeacherIDs), c.TeacherID)
		}
		return nil
	})
}

func (svc *Service) SetPublished(id int, published bool) (Course, error) {
	return svc.modify(id, func(c *Course) error {
		c.IsPublished = published
		return nil
	})
}

func (svc *Service) AssignClasses(id int, classIDs []int) (Course, error) {
	return svc.Update(id, UpdateCourse{ClassIDs: append([]int{}, classIDs...)})
}

func (svc *Service) AssignTeachers(id int, teacherIDs []int) (Course, error) {
	return svc.Update(id, UpdateCourse{TeacherIDs: append([]int{}, teacherIDs...)})
}

// Delete removes the course and the progress recorded on it.
func (svc *Service) Delete(ctx context.Context, id int) error {
	if err := svc.repo.DeleteCourse(id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	svc.pub.Publish(event.New(event.Deleted, event.Course, id, nil))
	return svc.dropProgress(ctx, func(p BlockProgress) bool { return p.CourseID == id })
}

// Blocks

// AddBlock appends a block; a course holds at most conf.Academy.MaxCourseBlocks blocks.
func (svc *Service) AddBlock(courseID int, in BlockInput) (Course, error) {
	return svc.modify(courseID, func(c *Course) error {
		if max := svc.maxBlocks(); len(c.Blocks) >= max {
			msg := fmt.Sprintf("a course can have at most %d blocks", max)
			return core.NewValidationError(ErrTooManyBlocks, core.FieldError{Field: "blocks", Error: msg})
		}
		b := Block{ID: uuid.NewString(), IsRequired: true}
		applyBlockInput(&b, in)
		c.Blocks = append(c.Blocks, b)
		return nil
	})
}

func (svc *Service) UpdateBlock(courseID int, blockID string, in BlockInput) (Course, error) {
	return svc.modify(courseID, func(c *Course) error {
		idx := c.BlockIndex(blockID)
		if idx < 0 {
			return ErrBlockNotFound
		}
		applyBlockInput(&c.Blocks[idx], in)
		return nil
	})
}

func (svc *Service) DeleteBlock(ctx context.Context, courseID int, blockID string) (Course, error) {
	c, err := svc.modify(courseID, func(c *Course) error {
		idx := c.BlockIndex(blockID)
		if idx < 0 {
			return ErrBlockNotFound
		}
		c.Blocks = append(c.Blocks[:idx], c.Blocks[idx+1:]...)
		return nil
	})
	if err != nil {
		return Course{}, err
	}
	err = svc.dropProgress(ctx, func(p BlockProgress) bool { return p.CourseID == courseID && p.BlockID == blockID })
	return c, err
}

// ReorderBlocks sets the block order; blockIDs must be a permutation of the current block ids.
func (svc *Service) ReorderBlocks(courseID int, blockIDs []string) (Course, error) {
	return svc.modify(courseID, func(c *Course) error {
		if len(blockIDs) != len(c.Blocks) {
			return invalidOrder()
		}
		reordered := make([]Block, 0, len(blockIDs))
		seen := make(map[string]bool, len(blockIDs))
		for _, id := range blockIDs {
			idx := c.BlockIndex(id)
			if idx < 0 || seen[id] {
				return invalidOrder()
			}
			seen[id] = true
			reordered = append(reordered, c.Blocks[idx])
		}
		c.Blocks = reordered
		return nil
	})
}

// RemoveClass drops classID from every course. Runs when a class is deleted.
func (svc *Service) RemoveClass(classID int) error {
	courses, err := svc.repo.QueryCourses(&QueryFilter{ClassIDs: []int{classID}})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	for _, c := range courses {
		if _, err := svc.modify(c.ID, func(c *Course) error {
			c.ClassIDs = core.RemoveInt(c.ClassIDs, classID)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// SyncTeacher unassigns a teacher who changed role from every course.
func (svc *Service) SyncTeacher(old, updated user.User) error {
	if old.Role == user.RoleTeacher && updated.Role != user.RoleTeacher {
		return svc.RemoveTeachers(updated.ID)
	}
	return nil
}

// RemoveTeachers unassigns the users from every course. Runs when users are deleted.
func (svc *Service) RemoveTeachers(ids ...int) error {
	for _, id := range ids {
		courses, err := svc.repo.QueryCourses(&QueryFilter{TeacherID: id})
		if err != nil {
			return errors.Wrap(err, "querying courses")
		}
		for _, c := range courses {
			if _, err := svc.modify(c.ID, func(c *Course) error {
				if c.TeacherID == id {
					c.TeacherID = 0
				}
				c.TeacherIDs = core.RemoveInt(c.TeacherIDs, id)
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Progress

// RecordProgress stores the progress of the student on a block of the course.
func (svc *Service) RecordProgress(ctx context.Context, studentID, courseID int, blockID string, in ProgressInput) (BlockProgress, error) {
	c, err := svc.repo.GetCourseByID(courseID)
	if err != nil {
		return BlockProgress{}, errors.Wrap(err, "finding course by ID")
	}
	if c.BlockIndex(blockID) < 0 {
		return BlockProgress{}, ErrBlockNotFound
	}

	rec := BlockProgress{
		StudentID: studentID,
		CourseID:  courseID,
		BlockID:   blockID,
		Completed: in.Completed || in.Progress >= 100,
		Progress:  in.Progress,
		UpdatedAt: time.Now().UTC(),
	}
	if rec.Completed {
		rec.Progress = 100
	}

	svc.progressM.Lock()
	defer svc.progressM.Unlock()

	records, err := svc.loadProgress(ctx)
	if err != nil {
		return BlockProgress{}, err
	}
	replaced := false
	for i, p := range records {
		if p.StudentID == studentID && p.CourseID == courseID && p.BlockID == blockID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	if err := svc.store.Write(ctx, ProgressKey, records); err != nil {
		return BlockProgress{}, errors.Wrap(err, "saving progress")
	}
	svc.pub.Publish(event.New(event.Updated, event.Progress, studentID, rec))
	return rec, nil
}

// StudentBlocks returns the block progress of the student on the course.
func (svc *Service) StudentBlocks(ctx context.Context, studentID, courseID int) ([]BlockProgress, error) {
	records, err := svc.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BlockProgress, 0)
	for _, p := range records {
		if p.StudentID == studentID && p.CourseID == courseID {
			out = append(out, p)
		}
	}
	return out, nil
}

// CourseProgress summarizes the progress of every student who recorded progress on the course.
func (svc *Service) CourseProgress(ctx context.Context, courseID int) ([]StudentCourseProgress, error) {
	c, err := svc.repo.GetCourseByID(courseID)
	if err != nil {
		return nil, errors.Wrap(err, "finding course by ID")
	}
	records, err := svc.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	byStudent := make(map[int][]progress.Record)
	for _, p := range records {
		if p.CourseID == courseID {
			byStudent[p.StudentID] = append(byStudent[p.StudentID], toRecord(p))
		}
	}
	tracked := []progress.Course{{ID: c.ID, RequiredBlockIDs: c.RequiredBlockIDs()}}
	out := make([]StudentCourseProgress, 0, len(byStudent))
	for studentID, recs := range byStudent {
		sum := progress.StudentProgress(tracked, recs)
		out = append(out, StudentCourseProgress{
			StudentID: studentID,
			CourseID:  courseID,
			Completed: sum.Completed,
			Required:  sum.Required,
			Percent:   sum.Percent,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// StudentProgress aggregates the progress of the student across the published courses of classIDs.
func (svc *Service) StudentProgress(ctx context.Context, studentID int, classIDs []int) (progress.Summary, error) {
	if len(classIDs) == 0 {
		return progress.Summary{}, nil
	}
	published := true
	courses, err := svc.repo.QueryCourses(&QueryFilter{ClassIDs: classIDs, IsPublished: &published})
	if err != nil {
		return progress.Summary{}, errors.Wrap(err, "querying courses")
	}
	records, err := svc.loadProgress(ctx)
	if err != nil {
		return progress.Summary{}, err
	}

	tracked := make([]progress.Course, 0, len(courses))
	for _, c := range courses {
		tracked = append(tracked, progress.Course{ID: c.ID, RequiredBlockIDs: c.RequiredBlockIDs()})
	}
	recs := make([]progress.Record, 0)
	for _, p := range records {
		if p.StudentID == studentID {
			recs = append(recs, toRecord(p))
		}
	}
	return progress.StudentProgress(tracked, recs), nil
}

func (svc *Service) loadProgress(ctx context.Context) ([]BlockProgress, error) {
	var records []BlockProgress
	if err := svc.store.Read(ctx, ProgressKey, &records); err != nil {
		return nil, errors.Wrap(err, "loading progress")
	}
	return records, nil
}

func (svc *Service) dropProgress(ctx context.Context, drop func(p BlockProgress) bool) error {
	svc.progressM.Lock()
	defer svc.progressM.Unlock()

	records, err := svc.loadProgress(ctx)
	if err != nil {
		return err
	}
	kept := make([]BlockProgress, 0, len(records))
	for _, p := range records {
		if !drop(p) {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return errors.Wrap(svc.store.Write(ctx, ProgressKey, kept), "saving progress")
}

// modify loads the course, applies fn and saves the result.
func (svc *Service) modify(id int, fn func(c *Course) error) (Course, error) {
	c, err := svc.repo.GetCourseByID(id)
	if err != nil {
		return Course{}, errors.Wrap(err, "finding course by ID")
	}
	if err = fn(&c); err != nil {
		return Course{}, err
	}
	c.UpdatedAt = time.Now().UTC()
	if c, err = svc.repo.UpdateCourse(c); err != nil {
		return Course{}, errors.Wrap(err, "updating course")
	}
	svc.pub.Publish(event.New(event.Updated, event.Course, c.ID, c))
	return c, nil
}

func (svc *Service) maxBlocks() int {
	if svc.conf.Academy.MaxCourseBlocks > 0 {
		return svc.conf.Academy.MaxCourseBlocks
	}
	return 7
}

func applyBlockInput(b *Block, in BlockInput) {
	b.Type = in.Type
	b.Title = in.Title
	b.URL = in.URL
	b.Description = in.Description
	if in.IsRequired != nil {
		b.IsRequired = *in.IsRequired
	}
}

func invalidOrder() error {
	return core.NewValidationError(ErrInvalidOrder, core.FieldError{Field: "block_ids", Error: ErrInvalidOrder.Error()})
}

func toRecord(p BlockProgress) progress.Record {
	return progress.Record{CourseID: p.CourseID, BlockID: p.BlockID, Completed: p.Completed}
}

// CanEdit reports whether the user (by id and role) may modify the course.
func CanEdit(c Course, userID int, isAdmin bool) bool {
	return isAdmin || c.HasTeacher(userID)
}

// MatchesFilter reports whether c satisfies every set field of filter. Used by the repositories.
func MatchesFilter(c Course, filter *QueryFilter) bool {
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(c.Title), search) &&
			!strings.Contains(strings.ToLower(c.Description), search) {
			return false
		}
	}
	if filter.Subject != "" && !strings.EqualFold(c.Subject, filter.Subject) {
		return false
	}
	if len(filter.ClassIDs) > 0 {
		found := false
		for _, id := range filter.ClassIDs {
			if core.ContainsInt(c.ClassIDs, id) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.TeacherID != 0 && !c.HasTeacher(filter.TeacherID) {
		return false
	}
	if filter.IsPublished != nil && c.IsPublished != *filter.IsPublished {
		return false
	}
	return true
}
