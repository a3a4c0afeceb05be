package dummydb

import (
	"sort"

	"github.com/studylink/academy/core/academy"
)

type academyRepository struct {
	db *academyTables
}

var _ academy.Repository = (*academyRepository)(nil) // interface compliance check

func NewAcademyRepository(db *DB) academy.Repository {
	return &academyRepository{db: db.academy}
}

// Update runs fn against a copy of the tables, swapped in only when fn succeeds.
func (repo *academyRepository) Update(fn func(tx academy.Tx) error) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	staged := repo.db.data.clone()
	if err := fn(&academyTx{data: staged}); err != nil {
		return err
	}
	repo.db.data = staged
	return nil
}

func (repo *academyRepository) View(fn func(tx academy.Tx) error) error {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return fn(&academyTx{data: repo.db.data, readOnly: true})
}

type academyData struct {
	subjects   map[int]academy.Subject
	classes    map[int]academy.Class
	students   map[int]academy.StudentProfile
	teachers   map[int]academy.TeacherProfile
	parents    map[int]academy.ParentProfile
	subjectSeq int
	classSeq   int
}

func newAcademyData() *academyData {
	return &academyData{
		subjects: make(map[int]academy.Subject),
		classes:  make(map[int]academy.Class),
		students: make(map[int]academy.StudentProfile),
		teachers: make(map[int]academy.TeacherProfile),
		parents:  make(map[int]academy.ParentProfile),
	}
}

func (d *academyData) clone() *academyData {
	cp := newAcademyData()
	cp.subjectSeq, cp.classSeq = d.subjectSeq, d.classSeq
	for id, s := range d.subjects {
		cp.subjects[id] = s
	}
	for id, c := range d.classes {
		cp.classes[id] = c.Clone()
	}
	for id, p := range d.students {
		cp.students[id] = p.Clone()
	}
	for id, p := range d.teachers {
		cp.teachers[id] = p.Clone()
	}
	for id, p := range d.parents {
		cp.parents[id] = p.Clone()
	}
	return cp
}

type academyTx struct {
	data     *academyData
	readOnly bool
}

var _ academy.Tx = (*academyTx)(nil)

func (tx *academyTx) mustWrite() {
	if tx.readOnly {
		panic("dummydb: write in a read-only academy transaction")
	}
}

func (tx *academyTx) Subjects() []academy.Subject {
	subjects := make([]academy.Subject, 0, len(tx.data.subjects))
	for _, s := range tx.data.subjects {
		subjects = append(subjects, s)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })
	return subjects
}

func (tx *academyTx) GetSubject(id int) (academy.Subject, error) {
	if s, ok := tx.data.subjects[id]; ok {
		return s, nil
	}
	return academy.Subject{}, academy.ErrSubjectNotFound
}

func (tx *academyTx) CreateSubject(s academy.Subject) academy.Subject {
	tx.mustWrite()
	tx.data.subjectSeq++
	s.ID = tx.data.subjectSeq
	tx.data.subjects[s.ID] = s
	return s
}

func (tx *academyTx) PutSubject(s academy.Subject) {
	tx.mustWrite()
	if s.ID > tx.data.subjectSeq {
		tx.data.subjectSeq = s.ID
	}
	tx.data.subjects[s.ID] = s
}

func (tx *academyTx) DeleteSubject(id int) error {
	tx.mustWrite()
	if _, ok := tx.data.subjects[id]; !ok {
		return academy.ErrSubjectNotFound
	}
	delete(tx.data.subjects, id)
	return nil
}

func (tx *academyTx) Classes() []academy.Class {
	classes := make([]academy.Class, 0, len(tx.data.classes))
	for _, c := range tx.data.classes {
		classes = append(classes, c.Clone())
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	return classes
}

func (tx *academyTx) GetClass(id int) (academy.Class, error) {
	if c, ok := tx.data.classes[id]; ok {
		return c.Clone(), nil
	}
	return academy.Class{}, academy.ErrClassNotFound
}

func (tx *academyTx) CreateClass(c academy.Class) academy.Class {
	tx.mustWrite()
	tx.data.classSeq++
	c.ID = tx.data.classSeq
	tx.data.classes[c.ID] = c.Clone()
	return c
}

func (tx *academyTx) PutClass(c academy.Class) {
	tx.mustWrite()
	if c.ID > tx.data.classSeq {
		tx.data.classSeq = c.ID
	}
	tx.data.classes[c.ID] = c.Clone()
}

func (tx *academyTx) DeleteClass(id int) error {
	tx.mustWrite()
	if _, ok := tx.data.classes[id]; !ok {
		return academy.ErrClassNotFound
	}
	delete(tx.data.classes, id)
	return nil
}

func (tx *academyTx) StudentProfiles() []academy.StudentProfile {
	profiles := make([]academy.StudentProfile, 0, len(tx.data.students))
	for _, p := range tx.data.students {
		profiles = append(profiles, p.Clone())
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })
	return profiles
}

func (tx *academyTx) GetStudentProfile(userID int) (academy.StudentProfile, error) {
	if p, ok := tx.data.students[userID]; ok {
		return p.Clone(), nil
	}
	return academy.StudentProfile{}, academy.ErrProfileNotFound
}

func (tx *academyTx) PutStudentProfile(p academy.StudentProfile) {
	tx.mustWrite()
	tx.data.students[p.UserID] = p.Clone()
}

func (tx *academyTx) DeleteStudentProfile(userID int) {
	tx.mustWrite()
	delete(tx.data.students, userID)
}

func (tx *academyTx) TeacherProfiles() []academy.TeacherProfile {
	profiles := make([]academy.TeacherProfile, 0, len(tx.data.teachers))
	for _, p := range tx.data.teachers {
		profiles = append(profiles, p.Clone())
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })
	return profiles
}

func (tx *academyTx) GetTeacherProfile(userID int) (academy.TeacherProfile, error) {
	if p, ok := tx.data.teachers[userID]; ok {
		return p.Clone(), nil
	}
	return academy.TeacherProfile{}, academy.ErrProfileNotFound
}

func (tx *academyTx) PutTeacherProfile(p academy.TeacherProfile) {
	tx.mustWrite()
	tx.data.teachers[p.UserID] = p.Clone()
}

func (tx *academyTx) DeleteTeacherProfile(userID int) {
	tx.mustWrite()
	delete(tx.data.teachers, userID)
}

func (tx *academyTx) ParentProfiles() []academy.ParentProfile {
	profiles := make([]academy.ParentProfile, 0, len(tx.data.parents))
	for _, p := range tx.data.parents {
		profiles = append(profiles, p.Clone())
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })
	return profiles
}

func (tx *academyTx) GetParentProfile(userID int) (academy.ParentProfile, error) {
	if p, ok := tx.data.parents[userID]; ok {
		return p.Clone(), nil
	}
	return academy.ParentProfile{}, academy.ErrProfileNotFound
}

func (tx *academyTx) PutParentProfile(p academy.ParentProfile) {
	tx.mustWrite()
	tx.data.parents[p.UserID] = p.Clone()
}

func (tx *academyTx) DeleteParentProfile(userID int) {
	tx.mustWrite()
	delete(tx.data.parents, userID)
}
