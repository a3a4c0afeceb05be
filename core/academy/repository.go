package academy

// Repository stores subjects, classes, the student/teacher membership profiles and the parent links.
// Both sides of a membership edge live behind the same lock so that Update can change them together.
type Repository interface {
	// Update runs fn in a read-write transaction. Changes are committed only if fn returns nil.
	Update(fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(fn func(tx Tx) error) error
}

// Tx exposes the academy tables. Getters return copies; Put* methods insert or replace.
// List methods return records ordered by id.
type Tx interface {
	Subjects() []Subject
	GetSubject(id int) (Subject, error)
	CreateSubject(s Subject) Subject
	PutSubject(s Subject)
	DeleteSubject(id int) error

	Classes() []Class
	GetClass(id int) (Class, error)
	CreateClass(c Class) Class
	PutClass(c Class)
	DeleteClass(id int) error

	StudentProfiles() []StudentProfile
	GetStudentProfile(userID int) (StudentProfile, error)
	PutStudentProfile(p StudentProfile)
	DeleteStudentProfile(userID int)

	TeacherProfiles() []TeacherProfile
	GetTeacherProfile(userID int) (TeacherProfile, error)
	PutTeacherProfile(p TeacherProfile)
	DeleteTeacherProfile(userID int)

	ParentProfiles() []ParentProfile
	GetParentProfile(userID int) (ParentProfile, error)
	PutParentProfile(p ParentProfile)
	DeleteParentProfile(userID int)
}
