package dummydb

import (
	"encoding/json"
	"sort"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/exam"
)

type examRepository struct {
	db *examTables
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *DB) exam.Repository {
	return &examRepository{db: db.exam}
}

func (repo *examRepository) CreateTest(t exam.Test) (exam.Test, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.testSeq++
	t.ID = repo.db.testSeq
	repo.db.tests[t.ID] = t
	return t, nil
}

func (repo *examRepository) QueryTests(filter *exam.QueryFilter) ([]exam.Test, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tests := make([]exam.Test, 0)
	for _, t := range repo.db.tests {
		if filter == nil || filter.Match(t) {
			tests = append(tests, t)
		}
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })
	return tests, nil
}

func (repo *examRepository) GetTestByID(id int) (exam.Test, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.tests[id]; ok {
		return t, nil
	}
	return exam.Test{}, exam.ErrNotFound
}

func (repo *examRepository) UpdateTest(t exam.Test) (exam.Test, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tests[t.ID]; !ok {
		return exam.Test{}, exam.ErrNotFound
	}
	repo.db.tests[t.ID] = t
	return t, nil
}

func (repo *examRepository) DeleteTest(id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tests[id]; !ok {
		return exam.ErrNotFound
	}
	delete(repo.db.tests, id)
	for qid, q := range repo.db.questions {
		if q.TestID == id {
			delete(repo.db.questions, qid)
		}
	}
	for sid, s := range repo.db.submissions {
		if s.TestID == id {
			delete(repo.db.submissions, sid)
		}
	}
	return nil
}

func (repo *examRepository) CreateQuestion(q exam.Question) (exam.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tests[q.TestID]; !ok {
		return exam.Question{}, exam.ErrNotFound
	}
	repo.db.questionSeq++
	q.ID = repo.db.questionSeq
	q.OrderIndex = len(repo.db.testQuestions(q.TestID))
	repo.db.questions[q.ID] = copyQuestion(q)
	return q, nil
}

func (repo *examRepository) GetQuestions(testID int) ([]exam.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	return repo.db.testQuestions(testID), nil
}

// testQuestions returns copies of the questions of the test ordered by OrderIndex.
// The caller must hold the lock.
func (db *examTables) testQuestions(testID int) []exam.Question {
	qs := make([]exam.Question, 0)
	for _, q := range db.questions {
		if q.TestID == testID {
			qs = append(qs, copyQuestion(q))
		}
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].OrderIndex != qs[j].OrderIndex {
			return qs[i].OrderIndex < qs[j].OrderIndex
		}
		return qs[i].ID < qs[j].ID
	})
	return qs
}

func (repo *examRepository) GetQuestionByID(id int) (exam.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if q, ok := repo.db.questions[id]; ok {
		return copyQuestion(q), nil
	}
	return exam.Question{}, exam.ErrQuestionNotFound
}

func (repo *examRepository) UpdateQuestion(q exam.Question) (exam.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.questions[q.ID]; !ok {
		return exam.Question{}, exam.ErrQuestionNotFound
	}
	repo.db.questions[q.ID] = copyQuestion(q)
	return q, nil
}

func (repo *examRepository) UpdateQuestions(testID int, fn func(qs []exam.Question) ([]exam.Question, error)) ([]exam.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.tests[testID]; !ok {
		return nil, exam.ErrNotFound
	}
	qs, err := fn(repo.db.testQuestions(testID))
	if err != nil {
		return nil, err
	}

	for id, q := range repo.db.questions {
		if q.TestID == testID {
			delete(repo.db.questions, id)
		}
	}
	for i := range qs {
		qs[i].TestID = testID
		qs[i].OrderIndex = i
		if qs[i].ID == 0 {
			repo.db.questionSeq++
			qs[i].ID = repo.db.questionSeq
		}
		repo.db.questions[qs[i].ID] = copyQuestion(qs[i])
	}
	return repo.db.testQuestions(testID), nil
}

func (repo *examRepository) CreateSubmission(s exam.Submission) (exam.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var count int
	for _, existing := range repo.db.submissions {
		if existing.TestID == s.TestID && existing.StudentID == s.StudentID {
			count++
		}
	}
	if count > 0 {
		return exam.Submission{}, core.NewConflictError(count, "%s", exam.ErrAlreadySubmitted)
	}

	repo.db.submissionSeq++
	s.ID = repo.db.submissionSeq
	repo.db.submissions[s.ID] = s.Clone()
	return s, nil
}

func (repo *examRepository) QuerySubmissions(filter *exam.SubmissionFilter) ([]exam.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]exam.Submission, 0)
	for _, s := range repo.db.submissions {
		if filter == nil || filter.Match(s) {
			subs = append(subs, s.Clone())
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (repo *examRepository) GetSubmissionByID(id int) (exam.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.submissions[id]; ok {
		return s.Clone(), nil
	}
	return exam.Submission{}, exam.ErrSubmissionNotFound
}

func (repo *examRepository) UpdateSubmission(s exam.Submission) (exam.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.submissions[s.ID]; !ok {
		return exam.Submission{}, exam.ErrSubmissionNotFound
	}
	repo.db.submissions[s.ID] = s.Clone()
	return s, nil
}

func copyQuestion(q exam.Question) exam.Question {
	q.Payload = append(json.RawMessage{}, q.Payload...)
	return q
}
