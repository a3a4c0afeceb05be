package exam

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/event"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("test")
	ErrQuestionNotFound   = core.NewNotFoundError("question")
	ErrSubmissionNotFound = core.NewNotFoundError("submission")
	ErrInvalidOrder       = errors.New("question ids must be a permutation of the test questions")
	ErrInvalidDirection   = errors.New("direction must be up or down")
	ErrNotPublished       = errors.New("test is not published")
	ErrDeadlinePassed     = errors.New("test deadline has passed")
	ErrAlreadySubmitted   = errors.New("test already submitted")
)

type (
	Repository interface {
		CreateTest(t Test) (Test, error)
		// QueryTests returns tests matching filter, ordered by id.
		QueryTests(filter *QueryFilter) ([]Test, error)
		GetTestByID(id int) (Test, error)
		UpdateTest(t Test) (Test, error)
		// DeleteTest removes the test with its questions and submissions.
		DeleteTest(id int) error

		// CreateQuestion appends q at the end of its test.
		CreateQuestion(q Question) (Question, error)
		// GetQuestions returns the questions of the test ordered by OrderIndex.
		GetQuestions(testID int) ([]Question, error)
		GetQuestionByID(id int) (Question, error)
		UpdateQuestion(q Question) (Question, error)
		// UpdateQuestions replaces the questions of the test with the result of fn, applied to the
		// current questions in one write. The stored questions are renumbered in order.
		UpdateQuestions(testID int, fn func(qs []Question) ([]Question, error)) ([]Question, error)

		// CreateSubmission fails with a *core.ConflictError when the student already submitted the test.
		CreateSubmission(s Submission) (Submission, error)
		QuerySubmissions(filter *SubmissionFilter) ([]Submission, error)
		GetSubmissionByID(id int) (Submission, error)
		UpdateSubmission(s Submission) (Submission, error)
	}

	// DeadlineSyncer keeps the calendar deadline of a test in sync. Implemented by calendar.Service.
	DeadlineSyncer interface {
		SyncTestDeadline(d calendar.Deadline) error
		RemoveTestDeadline(testID int) error
	}

	Service struct {
		repo      Repository
		deadlines DeadlineSyncer
		pub       event.Publisher
		logger    core.Logger
		now       func() time.Time
	}
)

func NewService(repo Repository, deadlines DeadlineSyncer, pub event.Publisher, logger core.Logger) *Service {
	return &Service{repo: repo, deadlines: deadlines, pub: pub, logger: logger, now: time.Now}
}

// Tests

func (svc *Service) Query(filter *QueryFilter) ([]Test, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	return svc.repo.QueryTests(filter)
}

func (svc *Service) GetByID(id int) (Test, error) {
	return svc.repo.GetTestByID(id)
}

func (svc *Service) Create(nt NewTest) (Test, error) {
	now := svc.now().UTC()
	t := Test{
		Title:       nt.Title,
		Description: nt.Description,
		TimeLimit:   nt.TimeLimit,
		TotalScore:  nt.TotalScore,
		IsPublished: nt.IsPublished,
		PublishAt:   utcPtr(nt.PublishAt),
		DueDate:     nt.DueDate,
		ClassID:     nt.ClassID,
		TeacherID:   nt.TeacherID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t, err := svc.repo.CreateTest(t)
	if err != nil {
		return Test{}, errors.Wrap(err, "creating test")
	}
	svc.pub.Publish(event.New(event.Created, event.Test, t.ID, t))
	if t.IsPublished {
		if err = svc.syncDeadline(t); err != nil {
			return Test{}, err
		}
	}
	return t, nil
}

func (svc *Service) Update(id int, ut UpdateTest) (Test, error) {
	return svc.modify(id, func(t *Test) {
		if ut.Title != nil {
			t.Title = *ut.Title
		}
		if ut.Description != nil {
			t.Description = *ut.Description
		}
		if ut.TimeLimit != nil {
			t.TimeLimit = *ut.TimeLimit
		}
		if ut.TotalScore != nil {
			t.TotalScore = *ut.TotalScore
		}
		if ut.IsPublished != nil {
			t.IsPublished = *ut.IsPublished
		}
		if ut.PublishAt != nil {
			t.PublishAt = utcPtr(ut.PublishAt)
		}
		if ut.DueDate != nil {
			t.DueDate = *ut.DueDate
		}
		if ut.ClassID != nil {
			t.ClassID = *ut.ClassID
		}
	})
}

func (svc *Service) SetPublished(id int, published bool) (Test, error) {
	return svc.modify(id, func(t *Test) {
		t.IsPublished = published
	})
}

// PublishDue publishes the unpublished tests whose publish_at is not after now. The schedule is consumed
// so that a test unpublished later is not published again. It returns the ids of the published tests.
func (svc *Service) PublishDue(now time.Time) ([]int, error) {
	unpublished := false
	tests, err := svc.repo.QueryTests(&QueryFilter{IsPublished: &unpublished})
	if err != nil {
		return nil, errors.Wrap(err, "querying unpublished tests")
	}
	published := make([]int, 0)
	for _, t := range tests {
		if t.PublishAt == nil || t.PublishAt.After(now) {
			continue
		}
		if _, err := svc.modify(t.ID, func(t *Test) {
			t.IsPublished = true
			t.PublishAt = nil
		}); err != nil {
			svc.logger.Error("publishing scheduled test", err, map[string]interface{}{"test_id": t.ID})
			continue
		}
		published = append(published, t.ID)
	}
	return published, nil
}

func (svc *Service) Delete(id int) error {
	if _, err := svc.repo.GetTestByID(id); err != nil {
		return errors.Wrap(err, "finding test by ID")
	}
	if err := svc.deadlines.RemoveTestDeadline(id); err != nil {
		return errors.Wrap(err, "removing test deadline")
	}
	if err := svc.repo.DeleteTest(id); err != nil {
		return errors.Wrap(err, "deleting test")
	}
	svc.pub.Publish(event.New(event.Deleted, event.Test, id, nil))
	return nil
}

// RemoveClass unbinds the tests of a deleted class. Runs when a class is deleted.
func (svc *Service) RemoveClass(classID int) error {
	tests, err := svc.repo.QueryTests(&QueryFilter{ClassIDs: []int{classID}})
	if err != nil {
		return errors.Wrap(err, "querying class tests")
	}
	for _, t := range tests {
		if _, err := svc.modify(t.ID, func(t *Test) { t.ClassID = 0 }); err != nil {
			return err
		}
	}
	return nil
}

// Questions

func (svc *Service) Questions(testID int) ([]Question, error) {
	if _, err := svc.repo.GetTestByID(testID); err != nil {
		return nil, errors.Wrap(err, "finding test by ID")
	}
	return svc.repo.GetQuestions(testID)
}

// PublicQuestions returns the questions of a published test without their answer keys.
func (svc *Service) PublicQuestions(testID int) ([]Question, error) {
	t, err := svc.repo.GetTestByID(testID)
	if err != nil {
		return nil, errors.Wrap(err, "finding test by ID")
	}
	if !t.IsPublished {
		return nil, core.ErrForbidden
	}
	qs, err := svc.repo.GetQuestions(testID)
	if err != nil {
		return nil, errors.Wrap(err, "getting questions")
	}
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		pq, err := q.Public()
		if err != nil {
			return nil, err
		}
		out = append(out, pq)
	}
	return out, nil
}

// AddQuestion appends a question at the end of the test.
func (svc *Service) AddQuestion(testID int, in QuestionInput) (Question, error) {
	q, err := svc.repo.CreateQuestion(Question{
		TestID:  testID,
		Type:    in.Type,
		Text:    in.Text,
		Payload: normalizePayload(in.Payload),
		Points:  in.Points,
	})
	if err != nil {
		return Question{}, errors.Wrap(err, "creating question")
	}
	svc.publishTest(testID)
	return q, nil
}

func (svc *Service) UpdateQuestion(testID, questionID int, in QuestionInput) (Question, error) {
	q, err := svc.question(testID, questionID)
	if err != nil {
		return Question{}, err
	}
	q.Type = in.Type
	q.Text = in.Text
	q.Payload = normalizePayload(in.Payload)
	q.Points = in.Points
	if q, err = svc.repo.UpdateQuestion(q); err != nil {
		return Question{}, errors.Wrap(err, "updating question")
	}
	svc.publishTest(testID)
	return q, nil
}

// DeleteQuestion removes the question; the remaining questions are renumbered contiguously.
func (svc *Service) DeleteQuestion(testID, questionID int) error {
	_, err := svc.updateQuestions(testID, func(qs []Question) ([]Question, error) {
		idx := questionIndex(qs, questionID)
		if idx < 0 {
			return nil, ErrQuestionNotFound
		}
		return append(qs[:idx], qs[idx+1:]...), nil
	})
	return err
}

// ReorderQuestions assigns order indices positionally: orderedIDs[i] gets index i. orderedIDs must be a
// permutation of the test's question ids.
func (svc *Service) ReorderQuestions(testID int, orderedIDs []int) ([]Question, error) {
	return svc.updateQuestions(testID, func(qs []Question) ([]Question, error) {
		if len(orderedIDs) != len(qs) {
			return nil, invalidOrder()
		}
		reordered := make([]Question, 0, len(qs))
		seen := make(map[int]bool, len(qs))
		for _, id := range orderedIDs {
			idx := questionIndex(qs, id)
			if idx < 0 || seen[id] {
				return nil, invalidOrder()
			}
			seen[id] = true
			reordered = append(reordered, qs[idx])
		}
		return reordered, nil
	})
}

// MoveQuestion swaps the question with its predecessor (up) or successor (down). Moving the first
// question up or the last one down is a no-op.
func (svc *Service) MoveQuestion(testID, questionID int, direction string) ([]Question, error) {
	var step int
	switch direction {
	case Up:
		step = -1
	case Down:
		step = 1
	default:
		return nil, core.NewValidationError(ErrInvalidDirection, core.FieldError{Field: "direction", Error: ErrInvalidDirection.Error()})
	}
	return svc.updateQuestions(testID, func(qs []Question) ([]Question, error) {
		idx := questionIndex(qs, questionID)
		if idx < 0 {
			return nil, ErrQuestionNotFound
		}
		if target := idx + step; target >= 0 && target < len(qs) {
			qs[idx], qs[target] = qs[target], qs[idx]
		}
		return qs, nil
	})
}

func (svc *Service) question(testID, questionID int) (Question, error) {
	q, err := svc.repo.GetQuestionByID(questionID)
	if err != nil {
		return Question{}, errors.Wrap(err, "finding question by ID")
	}
	if q.TestID != testID {
		return Question{}, ErrQuestionNotFound
	}
	return q, nil
}

func (svc *Service) updateQuestions(testID int, fn func(qs []Question) ([]Question, error)) ([]Question, error) {
	qs, err := svc.repo.UpdateQuestions(testID, fn)
	if err != nil {
		return nil, err
	}
	svc.publishTest(testID)
	return qs, nil
}

// Submissions

// Submit records and auto-grades the answers of a student. The test must be published and not past its
// due date; a student submits once.
func (svc *Service) Submit(testID, studentID int, answers map[int]json.RawMessage) (Submission, error) {
	t, err := svc.repo.GetTestByID(testID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "finding test by ID")
	}
	if !t.IsPublished {
		return Submission{}, core.NewValidationError(ErrNotPublished, core.FieldError{Field: "test_id", Error: ErrNotPublished.Error()})
	}
	now := svc.now().UTC()
	if t.DueDate != "" && now.Format(calendar.DateLayout) > t.DueDate {
		return Submission{}, core.NewValidationError(ErrDeadlinePassed, core.FieldError{Field: "test_id", Error: ErrDeadlinePassed.Error()})
	}
	qs, err := svc.repo.GetQuestions(testID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "getting questions")
	}
	results, score, manual, err := Grade(qs, answers)
	if err != nil {
		return Submission{}, err
	}

	s := Submission{
		TestID:      testID,
		StudentID:   studentID,
		Answers:     answers,
		Results:     results,
		SubmittedAt: now,
	}
	if s.Answers == nil {
		s.Answers = make(map[int]json.RawMessage)
	}
	if !manual {
		s.Score = &score
		s.IsGraded = true
		s.GradedAt = &now
	}
	if s, err = svc.repo.CreateSubmission(s); err != nil {
		return Submission{}, err
	}
	svc.pub.Publish(event.New(event.Created, event.Submission, s.ID, s))
	return s, nil
}

// Grade auto-grades answers against the questions. It returns the per-question results, the automatic
// score and whether a question requires manual grading.
func Grade(qs []Question, answers map[int]json.RawMessage) ([]Result, int, bool, error) {
	results := make([]Result, 0, len(qs))
	var score int
	var manual bool
	for _, q := range qs {
		p, err := DecodePayload(q.Type, q.Payload)
		if err != nil {
			return nil, 0, false, errors.Wrapf(err, "decoding question %d", q.ID)
		}
		response := answers[q.ID]
		correct, needsManual := p.grade(response)
		r := Result{QuestionID: q.ID, Response: response, MaxScore: q.Points, RequiresManual: needsManual}
		if needsManual {
			manual = true
		} else {
			awarded := 0
			if correct {
				awarded = q.Points
			}
			r.IsCorrect = &correct
			r.Awarded = &awarded
			score += awarded
		}
		results = append(results, r)
	}
	return results, score, manual, nil
}

func (svc *Service) Submissions(testID int) ([]Submission, error) {
	if _, err := svc.repo.GetTestByID(testID); err != nil {
		return nil, errors.Wrap(err, "finding test by ID")
	}
	return svc.repo.QuerySubmissions(&SubmissionFilter{TestIDs: []int{testID}})
}

func (svc *Service) QuerySubmissions(filter *SubmissionFilter) ([]Submission, error) {
	return svc.repo.QuerySubmissions(filter)
}

func (svc *Service) GetSubmission(id int) (Submission, error) {
	return svc.repo.GetSubmissionByID(id)
}

// GradeSubmission sets the final score given by a teacher.
func (svc *Service) GradeSubmission(id int, in GradeInput) (Submission, error) {
	return svc.modifySubmission(id, func(s *Submission) {
		now := svc.now().UTC()
		score := in.Score
		s.Score = &score
		s.IsGraded = true
		s.GradedAt = &now
		if in.Feedback != "" {
			s.Feedback = in.Feedback
		}
		if in.Publish != nil {
			s.IsPublished = *in.Publish
		}
	})
}

func (svc *Service) PublishSubmission(id int, published bool) (Submission, error) {
	return svc.modifySubmission(id, func(s *Submission) {
		s.IsPublished = published
	})
}

func (svc *Service) modifySubmission(id int, fn func(s *Submission)) (Submission, error) {
	s, err := svc.repo.GetSubmissionByID(id)
	if err != nil {
		return Submission{}, errors.Wrap(err, "finding submission by ID")
	}
	fn(&s)
	if s, err = svc.repo.UpdateSubmission(s); err != nil {
		return Submission{}, errors.Wrap(err, "updating submission")
	}
	svc.pub.Publish(event.New(event.Updated, event.Submission, s.ID, s))
	return s, nil
}

// modify loads the test, applies fn, saves it and syncs its calendar deadline.
func (svc *Service) modify(id int, fn func(t *Test)) (Test, error) {
	t, err := svc.repo.GetTestByID(id)
	if err != nil {
		return Test{}, errors.Wrap(err, "finding test by ID")
	}
	fn(&t)
	t.UpdatedAt = svc.now().UTC()
	if t, err = svc.repo.UpdateTest(t); err != nil {
		return Test{}, errors.Wrap(err, "updating test")
	}
	svc.pub.Publish(event.New(event.Updated, event.Test, t.ID, t))
	if err = svc.syncDeadline(t); err != nil {
		return Test{}, err
	}
	return t, nil
}

func (svc *Service) syncDeadline(t Test) error {
	err := svc.deadlines.SyncTestDeadline(calendar.Deadline{
		TestID:      t.ID,
		ClassID:     t.ClassID,
		TeacherID:   t.TeacherID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Active:      t.IsPublished,
	})
	return errors.Wrap(err, "syncing test deadline")
}

// publishTest notifies the observers of a test that its questions changed.
func (svc *Service) publishTest(testID int) {
	t, err := svc.repo.GetTestByID(testID)
	if err != nil {
		return
	}
	svc.pub.Publish(event.New(event.Updated, event.Test, t.ID, t))
}

func questionIndex(qs []Question, id int) int {
	for i, q := range qs {
		if q.ID == id {
			return i
		}
	}
	return -1
}

func invalidOrder() error {
	return core.NewValidationError(ErrInvalidOrder, core.FieldError{Field: "question_ids", Error: ErrInvalidOrder.Error()})
}

func normalizePayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CanEdit reports whether the user may modify the test.
func CanEdit(t Test, userID int, isAdmin bool) bool {
	return isAdmin || t.TeacherID == userID
}
