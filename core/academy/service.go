package academy

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
)

var (
	// errors
	ErrSubjectNotFound = core.NewNotFoundError("subject")
	ErrClassNotFound   = core.NewNotFoundError("class")
	ErrProfileNotFound = core.NewNotFoundError("profile")
	ErrSubjectExists   = errors.New("a subject with this name already exists")
	ErrClassFull       = errors.New("class is full")
	ErrNotStudent      = errors.New("user is not a student")
	ErrNotTeacher      = errors.New("user is not a teacher")
	ErrNotParent       = errors.New("user is not a parent")
)

type (
	// UserGetter resolves the users referenced by rosters. Implemented by user.Service.
	UserGetter interface {
		GetByID(id int) (user.User, error)
	}

	// ClassDeleteHook runs before a class is deleted; an error aborts the deletion.
	ClassDeleteHook func(classID int) error

	Service struct {
		repo   Repository
		users  UserGetter
		pub    event.Publisher
		conf   *core.Config
		logger core.Logger
		hooks  []ClassDeleteHook
	}
)

func NewService(repo Repository, users UserGetter, pub event.Publisher, conf *core.Config, logger core.Logger) *Service {
	return &Service{repo: repo, users: users, pub: pub, conf: conf, logger: logger}
}

// OnClassDelete registers a hook run before every class deletion.
func (svc *Service) OnClassDelete(hook ClassDeleteHook) {
	svc.hooks = append(svc.hooks, hook)
}

// update runs fn in a repository transaction and publishes the collected changes once committed.
func (svc *Service) update(fn func(tx Tx, cs *changeSet) error) error {
	var cs changeSet
	err := svc.repo.Update(func(tx Tx) error {
		cs = changeSet{}
		return fn(tx, &cs)
	})
	if err != nil {
		return err
	}
	svc.pub.Publish(cs.events...)
	return nil
}

// Subjects

func (svc *Service) Subjects() ([]Subject, error) {
	var subjects []Subject
	err := svc.repo.View(func(tx Tx) error {
		subjects = tx.Subjects()
		return nil
	})
	return subjects, err
}

func (svc *Service) GetSubject(id int) (Subject, error) {
	var subj Subject
	err := svc.repo.View(func(tx Tx) (err error) {
		subj, err = tx.GetSubject(id)
		return err
	})
	return subj, err
}

func (svc *Service) CreateSubject(in SubjectInput) (Subject, error) {
	var subj Subject
	err := svc.update(func(tx Tx, cs *changeSet) error {
		if err := checkSubjectName(tx, in.Name, 0); err != nil {
			return err
		}
		now := time.Now().UTC()
		subj = tx.CreateSubject(Subject{
			Name:        in.Name,
			Code:        in.Code,
			Description: in.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		cs.add(event.Created, event.Subject, subj.ID, subj)
		return nil
	})
	return subj, err
}

// UpdateSubject also renames the subject label of the classes that referenced the old name.
func (svc *Service) UpdateSubject(id int, in SubjectInput) (Subject, error) {
	var subj Subject
	err := svc.update(func(tx Tx, cs *changeSet) error {
		var err error
		if subj, err = tx.GetSubject(id); err != nil {
			return err
		}
		if err = checkSubjectName(tx, in.Name, id); err != nil {
			return err
		}
		now := time.Now().UTC()
		if subj.Name != in.Name {
			for _, c := range tx.Classes() {
				if strings.EqualFold(c.Subject, subj.Name) {
					c.Subject = in.Name
					c.UpdatedAt = now
					tx.PutClass(c)
					cs.add(event.Updated, event.Class, c.ID, c)
				}
			}
		}
		subj.Name = in.Name
		subj.Code = in.Code
		subj.Description = in.Description
		subj.UpdatedAt = now
		tx.PutSubject(subj)
		cs.add(event.Updated, event.Subject, subj.ID, subj)
		return nil
	})
	return subj, err
}

// DeleteSubject refuses to delete a subject still referenced by a class name; the ConflictError
// carries the number of referencing classes.
func (svc *Service) DeleteSubject(id int) error {
	return svc.update(func(tx Tx, cs *changeSet) error {
		subj, err := tx.GetSubject(id)
		if err != nil {
			return err
		}
		var count int
		for _, c := range tx.Classes() {
			if strings.EqualFold(c.Subject, subj.Name) {
				count++
			}
		}
		if count > 0 {
			return core.NewConflictError(count, "subject %q is used by %d class(es)", subj.Name, count)
		}
		if err := tx.DeleteSubject(id); err != nil {
			return err
		}
		cs.add(event.Deleted, event.Subject, id, nil)
		return nil
	})
}

func checkSubjectName(tx Tx, name string, excludedID int) error {
	for _, s := range tx.Subjects() {
		if s.ID != excludedID && strings.EqualFold(s.Name, name) {
			return core.NewValidationError(ErrSubjectExists, core.FieldError{Field: "name", Error: ErrSubjectExists.Error()})
		}
	}
	return nil
}

// Classes

func (svc *Service) Classes(filter ClassFilter) ([]Class, error) {
	var classes []Class
	err := svc.repo.View(func(tx Tx) error {
		search := strings.ToLower(core.CleanString(filter.Search))
		classes = make([]Class, 0)
		for _, c := range tx.Classes() {
			if search != "" && !strings.Contains(strings.ToLower(c.Name), search) {
				continue
			}
			if filter.Subject != "" && !strings.EqualFold(c.Subject, filter.Subject) {
				continue
			}
			if filter.TeacherID != 0 && !c.HasTeacher(filter.TeacherID) {
				continue
			}
			if filter.StudentID != 0 && !c.HasStudent(filter.StudentID) {
				continue
			}
			classes = append(classes, c)
		}
		return nil
	})
	return classes, err
}

func (svc *Service) GetClass(id int) (Class, error) {
	var c Class
	err := svc.repo.View(func(tx Tx) (err error) {
		c, err = tx.GetClass(id)
		return err
	})
	return c, err
}

func (svc *Service) ClassStudents(id int) ([]StudentSummary, error) {
	c, err := svc.GetClass(id)
	if err != nil {
		return nil, err
	}
	return c.Students, nil
}

// CreateClass creates the class and registers it on the profiles of its initial students and teachers.
func (svc *Service) CreateClass(nc NewClass) (Class, error) {
	students, err := svc.studentSummaries(nc.StudentIDs)
	if err != nil {
		return Class{}, err
	}
	teacherIDs := core.UniqueInts(nc.TeacherIDs)
	if err = svc.checkTeachers(teacherIDs); err != nil {
		return Class{}, err
	}

	var c Class
	err = svc.update(func(tx Tx, cs *changeSet) error {
		now := time.Now().UTC()
		c = Class{
			Name:        nc.Name,
			Grade:       nc.Grade,
			Subject:     nc.Subject,
			TeacherIDs:  teacherIDs,
			MaxStudents: nc.MaxStudents,
			Students:    []StudentSummary{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for _, s := range students {
			if err := svc.admit(c, s.ID); err != nil {
				return err
			}
			c.Students = append(c.Students, s)
		}
		c = tx.CreateClass(c)
		cs.add(event.Created, event.Class, c.ID, c)

		ref := ClassRef{ID: c.ID, Name: c.Name}
		for _, s := range c.Students {
			setStudentRef(tx, cs, s.ID, ref, true)
		}
		for _, tid := range c.TeacherIDs {
			setTeacherClass(tx, cs, tid, c.ID, true)
		}
		return nil
	})
	return c, err
}

// UpdateClass applies uc. Roster and teacher changes are reconciled onto the profiles, and a rename is
// propagated to the ClassRef of every student profile referencing the class.
func (svc *Service) UpdateClass(id int, uc UpdateClass) (Class, error) {
	var students []StudentSummary
	if uc.StudentIDs != nil {
		var err error
		if students, err = svc.studentSummaries(uc.StudentIDs); err != nil {
			return Class{}, err
		}
	}
	var teacherIDs []int
	if uc.TeacherIDs != nil {
		teacherIDs = core.UniqueInts(uc.TeacherIDs)
		if err := svc.checkTeachers(teacherIDs); err != nil {
			return Class{}, err
		}
	}

	var c Class
	err := svc.update(func(tx Tx, cs *changeSet) error {
		var err error
		if c, err = tx.GetClass(id); err != nil {
			return err
		}
		old := c.Clone()

		if uc.Name != "" {
			c.Name = uc.Name
		}
		if uc.Grade != nil {
			c.Grade = *uc.Grade
		}
		if uc.Subject != nil {
			c.Subject = *uc.Subject
		}
		if uc.MaxStudents != nil {
			c.MaxStudents = *uc.MaxStudents
		}

		if uc.StudentIDs != nil {
			c.Students = make([]StudentSummary, 0, len(students))
			for _, s := range students {
				if !old.HasStudent(s.ID) {
					if err := svc.admit(c, s.ID); err != nil {
						return err
					}
				}
				c.Students = append(c.Students, s)
			}
			for _, s := range old.Students {
				if !c.HasStudent(s.ID) {
					setStudentRef(tx, cs, s.ID, ClassRef{ID: c.ID}, false)
				}
			}
			for _, s := range c.Students {
				setStudentRef(tx, cs, s.ID, ClassRef{ID: c.ID, Name: c.Name}, true)
			}
		}
		if uc.TeacherIDs != nil {
			c.TeacherIDs = teacherIDs
			for _, tid := range old.TeacherIDs {
				if !c.HasTeacher(tid) {
					setTeacherClass(tx, cs, tid, c.ID, false)
				}
			}
			for _, tid := range c.TeacherIDs {
				setTeacherClass(tx, cs, tid, c.ID, true)
			}
		}
		if c.Name != old.Name {
			renameClassRefs(tx, cs, c.ID, c.Name)
		}

		c.UpdatedAt = time.Now().UTC()
		tx.PutClass(c)
		cs.add(event.Updated, event.Class, c.ID, c)
		return nil
	})
	return c, err
}

// RenameClass is UpdateClass restricted to the name.
func (svc *Service) RenameClass(id int, name string) (Class, error) {
	name = core.CleanString(name)
	if name == "" {
		return Class{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field is required"})
	}
	return svc.UpdateClass(id, UpdateClass{Name: name})
}

// DeleteClass removes the class and its id from every student and teacher profile.
func (svc *Service) DeleteClass(id int) error {
	if _, err := svc.GetClass(id); err != nil {
		return err
	}
	for _, hook := range svc.hooks {
		if err := hook(id); err != nil {
			return errors.Wrap(err, "running class delete hook")
		}
	}
	return svc.update(func(tx Tx, cs *changeSet) error {
		if _, err := tx.GetClass(id); err != nil {
			return err
		}
		for _, p := range tx.StudentProfiles() {
			setStudentRef(tx, cs, p.UserID, ClassRef{ID: id}, false)
		}
		for _, p := range tx.TeacherProfiles() {
			setTeacherClass(tx, cs, p.UserID, id, false)
		}
		if err := tx.DeleteClass(id); err != nil {
			return err
		}
		cs.add(event.Deleted, event.Class, id, nil)
		return nil
	})
}

// Profiles

// StudentProfile returns the profile of the student, empty if they were never enrolled.
func (svc *Service) StudentProfile(userID int) (StudentProfile, error) {
	var p StudentProfile
	err := svc.repo.View(func(tx Tx) error {
		p = studentProfile(tx, userID)
		return nil
	})
	return p, err
}

// TeacherProfile returns the profile of the teacher, empty if they were never assigned.
func (svc *Service) TeacherProfile(userID int) (TeacherProfile, error) {
	var p TeacherProfile
	err := svc.repo.View(func(tx Tx) error {
		p = teacherProfile(tx, userID)
		return nil
	})
	return p, err
}

func (svc *Service) SetTeacherSubject(teacherID int, subject string) (TeacherProfile, error) {
	var p TeacherProfile
	err := svc.update(func(tx Tx, cs *changeSet) error {
		p = teacherProfile(tx, teacherID)
		p.Subject = core.CleanString(subject)
		tx.PutTeacherProfile(p)
		cs.add(event.Updated, event.Teacher, p.UserID, p)
		return nil
	})
	return p, err
}

// admit applies the capacity policy to the enrollment of studentID into c.
func (svc *Service) admit(c Class, studentID int) error {
	if !c.IsFull() {
		return nil
	}
	if svc.conf.Academy.CapacityPolicy == core.CapacityEnforce {
		msg := fmt.Sprintf("class %q is full (%d/%d)", c.Name, len(c.Students), c.MaxStudents)
		return core.NewValidationError(ErrClassFull, core.FieldError{Field: "class_ids", Error: msg})
	}
	svc.logger.Warn("class over capacity", map[string]interface{}{
		"class_id":     c.ID,
		"student_id":   studentID,
		"enrolled":     len(c.Students),
		"max_students": c.MaxStudents,
	})
	return nil
}

// studentSummaries resolves ids into roster entries; every id must be an existing student.
func (svc *Service) studentSummaries(ids []int) ([]StudentSummary, error) {
	summaries := make([]StudentSummary, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		usr, err := svc.member(id, user.RoleStudent, "student_ids")
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, StudentSummary{ID: usr.ID, Name: usr.Name, Username: usr.Username})
	}
	return summaries, nil
}

func (svc *Service) checkTeachers(ids []int) error {
	for _, id := range ids {
		if _, err := svc.member(id, user.RoleTeacher, "teacher_ids"); err != nil {
			return err
		}
	}
	return nil
}

// member fetches the user and checks its role; failures are reported on field.
func (svc *Service) member(id int, role, field string) (user.User, error) {
	usr, err := svc.users.GetByID(id)
	if err != nil {
		if core.IsNotFound(err) {
			msg := fmt.Sprintf("user %d not found", id)
			return user.User{}, core.NewValidationError(err, core.FieldError{Field: field, Error: msg})
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if usr.Role != role {
		roleErr := ErrNotStudent
		switch role {
		case user.RoleTeacher:
			roleErr = ErrNotTeacher
		case user.RoleParent:
			roleErr = ErrNotParent
		}
		msg := fmt.Sprintf("user %d is not a %s", id, role)
		return user.User{}, core.NewValidationError(roleErr, core.FieldError{Field: field, Error: msg})
	}
	return usr, nil
}
