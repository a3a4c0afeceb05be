package dummydb

import (
	"sort"

	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
	"github.com/studylink/academy/storage/mirror"
)

var (
	_ mirror.Source   = (*DB)(nil)
	_ mirror.Restorer = (*DB)(nil)
)

// Snapshot copies every table. Each list is ordered by id.
func (db *DB) Snapshot() (mirror.Snapshot, error) {
	var snap mirror.Snapshot

	db.user.RLock()
	snap.Users = make([]user.Record, 0, len(db.user.table))
	for _, u := range db.user.table {
		snap.Users = append(snap.Users, u.Record())
	}
	db.user.RUnlock()
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })

	err := NewAcademyRepository(db).View(func(tx academy.Tx) error {
		snap.Subjects = tx.Subjects()
		snap.Classes = tx.Classes()
		snap.Students = tx.StudentProfiles()
		snap.Teachers = tx.TeacherProfiles()
		snap.Parents = tx.ParentProfiles()
		return nil
	})
	if err != nil {
		return mirror.Snapshot{}, err
	}

	if snap.Courses, err = NewCourseRepository(db).QueryCourses(new(course.QueryFilter)); err != nil {
		return mirror.Snapshot{}, err
	}

	db.exam.RLock()
	snap.Tests = make([]exam.Test, 0, len(db.exam.tests))
	for _, t := range db.exam.tests {
		snap.Tests = append(snap.Tests, t)
	}
	snap.Questions = make([]exam.Question, 0, len(db.exam.questions))
	for _, q := range db.exam.questions {
		snap.Questions = append(snap.Questions, copyQuestion(q))
	}
	snap.Submissions = make([]exam.Submission, 0, len(db.exam.submissions))
	for _, s := range db.exam.submissions {
		snap.Submissions = append(snap.Submissions, s.Clone())
	}
	db.exam.RUnlock()
	sort.Slice(snap.Tests, func(i, j int) bool { return snap.Tests[i].ID < snap.Tests[j].ID })
	sort.Slice(snap.Questions, func(i, j int) bool { return snap.Questions[i].ID < snap.Questions[j].ID })
	sort.Slice(snap.Submissions, func(i, j int) bool { return snap.Submissions[i].ID < snap.Submissions[j].ID })

	db.calendar.RLock()
	snap.Events = make([]calendar.Event, 0, len(db.calendar.table))
	for _, e := range db.calendar.table {
		snap.Events = append(snap.Events, e)
	}
	db.calendar.RUnlock()
	sort.Slice(snap.Events, func(i, j int) bool { return snap.Events[i].ID < snap.Events[j].ID })

	return snap, nil
}

// Restore replaces the content of every table with snap. Id sequences resume after the highest id.
func (db *DB) Restore(snap mirror.Snapshot) error {
	db.user.Lock()
	db.user.table = make(map[int]*user.User, len(snap.Users))
	db.user.pkCount = 0
	for _, r := range snap.Users {
		usr := r.ToUser()
		db.user.table[usr.ID] = &usr
		db.user.pkCount = maxInt(db.user.pkCount, usr.ID)
	}
	db.user.Unlock()

	data := newAcademyData()
	for _, s := range snap.Subjects {
		data.subjects[s.ID] = s
		data.subjectSeq = maxInt(data.subjectSeq, s.ID)
	}
	for _, c := range snap.Classes {
		data.classes[c.ID] = c.Clone()
		data.classSeq = maxInt(data.classSeq, c.ID)
	}
	for _, p := range snap.Students {
		data.students[p.UserID] = p.Clone()
	}
	for _, p := range snap.Teachers {
		data.teachers[p.UserID] = p.Clone()
	}
	for _, p := range snap.Parents {
		data.parents[p.UserID] = p.Clone()
	}
	db.academy.Lock()
	db.academy.data = data
	db.academy.Unlock()

	db.course.Lock()
	db.course.table = make(map[int]course.Course, len(snap.Courses))
	db.course.pkCount = 0
	for _, c := range snap.Courses {
		db.course.table[c.ID] = c.Clone()
		db.course.pkCount = maxInt(db.course.pkCount, c.ID)
	}
	db.course.Unlock()

	db.exam.Lock()
	db.exam.tests = make(map[int]exam.Test, len(snap.Tests))
	db.exam.questions = make(map[int]exam.Question, len(snap.Questions))
	db.exam.submissions = make(map[int]exam.Submission, len(snap.Submissions))
	db.exam.testSeq, db.exam.questionSeq, db.exam.submissionSeq = 0, 0, 0
	for _, t := range snap.Tests {
		db.exam.tests[t.ID] = t
		db.exam.testSeq = maxInt(db.exam.testSeq, t.ID)
	}
	for _, q := range snap.Questions {
		db.exam.questions[q.ID] = copyQuestion(q)
		db.exam.questionSeq = maxInt(db.exam.questionSeq, q.ID)
	}
	for _, s := range snap.Submissions {
		db.exam.submissions[s.ID] = s.Clone()
		db.exam.submissionSeq = maxInt(db.exam.submissionSeq, s.ID)
	}
	db.exam.Unlock()

	db.calendar.Lock()
	db.calendar.table = make(map[int]calendar.Event, len(snap.Events))
	db.calendar.pkCount = 0
	for _, e := range snap.Events {
		db.calendar.table[e.ID] = e
		db.calendar.pkCount = maxInt(db.calendar.pkCount, e.ID)
	}
	db.calendar.Unlock()
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
