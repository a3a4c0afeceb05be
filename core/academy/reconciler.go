package academy

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
)

// SetStudentClasses makes classIDs the exact set of classes the student belongs to.
// Every class roster is updated in the same transaction as the student profile; the returned classes are
// the ones the student now belongs to, ordered by id. Calling it twice with the same ids is a no-op.
func (svc *Service) SetStudentClasses(studentID int, name, username string, classIDs []int) ([]Class, error) {
	ids := core.UniqueInts(classIDs)
	summary := StudentSummary{ID: studentID, Name: name, Username: username}

	var joined []Class
	err := svc.update(func(tx Tx, cs *changeSet) error {
		classes := tx.Classes()
		if err := checkClassIDs(classes, ids); err != nil {
			return err
		}

		now := time.Now().UTC()
		joined = make([]Class, 0, len(ids))
		refs := make([]ClassRef, 0, len(ids))
		for _, c := range classes {
			shouldHave := core.ContainsInt(ids, c.ID)
			idx := rosterIndex(c, studentID)

			switch {
			case shouldHave && idx < 0:
				if err := svc.admit(c, studentID); err != nil {
					return err
				}
				c.Students = append(c.Students, summary)
			case shouldHave && c.Students[idx] != summary:
				c.Students[idx] = summary
			case !shouldHave && idx >= 0:
				c.Students = append(c.Students[:idx], c.Students[idx+1:]...)
			default:
				if shouldHave {
					joined = append(joined, c)
					refs = append(refs, ClassRef{ID: c.ID, Name: c.Name})
				}
				continue
			}

			c.UpdatedAt = now
			tx.PutClass(c)
			cs.add(event.Updated, event.Class, c.ID, c)
			if shouldHave {
				joined = append(joined, c)
				refs = append(refs, ClassRef{ID: c.ID, Name: c.Name})
			}
		}

		p := studentProfile(tx, studentID)
		if !refsEqual(p.Classes, refs) {
			p.Classes = refs
			tx.PutStudentProfile(p)
			cs.add(event.Updated, event.Student, studentID, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// EnrollStudent is SetStudentClasses for an existing student user.
func (svc *Service) EnrollStudent(studentID int, classIDs []int) ([]Class, error) {
	usr, err := svc.member(studentID, user.RoleStudent, "id")
	if err != nil {
		return nil, err
	}
	return svc.SetStudentClasses(usr.ID, usr.Name, usr.Username, classIDs)
}

// SetTeacherClasses makes classIDs the exact set of classes the teacher teaches.
func (svc *Service) SetTeacherClasses(teacherID int, classIDs []int) ([]Class, error) {
	ids := core.UniqueInts(classIDs)

	var taught []Class
	err := svc.update(func(tx Tx, cs *changeSet) error {
		classes := tx.Classes()
		if err := checkClassIDs(classes, ids); err != nil {
			return err
		}

		now := time.Now().UTC()
		taught = make([]Class, 0, len(ids))
		for _, c := range classes {
			shouldHave := core.ContainsInt(ids, c.ID)
			has := c.HasTeacher(teacherID)

			if shouldHave != has {
				if shouldHave {
					c.TeacherIDs = append(c.TeacherIDs, teacherID)
				} else {
					c.TeacherIDs = core.RemoveInt(c.TeacherIDs, teacherID)
				}
				c.UpdatedAt = now
				tx.PutClass(c)
				cs.add(event.Updated, event.Class, c.ID, c)
			}
			if shouldHave {
				taught = append(taught, c)
			}
		}

		p := teacherProfile(tx, teacherID)
		if !intsEqual(p.ClassIDs, ids) {
			p.ClassIDs = ids
			tx.PutTeacherProfile(p)
			cs.add(event.Updated, event.Teacher, teacherID, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taught, nil
}

// AssignTeacher is SetTeacherClasses for an existing teacher user.
func (svc *Service) AssignTeacher(teacherID int, classIDs []int) ([]Class, error) {
	if _, err := svc.member(teacherID, user.RoleTeacher, "id"); err != nil {
		return nil, err
	}
	return svc.SetTeacherClasses(teacherID, classIDs)
}

// RegisterMember sets up the profile of a newly created student or teacher.
func (svc *Service) RegisterMember(usr user.User, subject string, classIDs []int) error {
	switch usr.Role {
	case user.RoleStudent:
		_, err := svc.SetStudentClasses(usr.ID, usr.Name, usr.Username, classIDs)
		return err
	case user.RoleTeacher:
		if subject != "" {
			if _, err := svc.SetTeacherSubject(usr.ID, subject); err != nil {
				return err
			}
		}
		_, err := svc.SetTeacherClasses(usr.ID, classIDs)
		return err
	}
	return nil
}

// RemoveMember removes the users from the students and teacher_ids of every class and from the children
// of every parent, and drops their profiles, in a single transaction.
func (svc *Service) RemoveMember(userIDs ...int) error {
	if len(userIDs) == 0 {
		return nil
	}
	return svc.update(func(tx Tx, cs *changeSet) error {
		now := time.Now().UTC()
		for _, c := range tx.Classes() {
			changed := false
			for _, id := range userIDs {
				if idx := rosterIndex(c, id); idx >= 0 {
					c.Students = append(c.Students[:idx], c.Students[idx+1:]...)
					changed = true
				}
				if c.HasTeacher(id) {
					c.TeacherIDs = core.RemoveInt(c.TeacherIDs, id)
					changed = true
				}
			}
			if changed {
				c.UpdatedAt = now
				tx.PutClass(c)
				cs.add(event.Updated, event.Class, c.ID, c)
			}
		}
		for _, id := range userIDs {
			if _, err := tx.GetStudentProfile(id); err == nil {
				tx.DeleteStudentProfile(id)
				cs.add(event.Deleted, event.Student, id, nil)
			}
			if _, err := tx.GetTeacherProfile(id); err == nil {
				tx.DeleteTeacherProfile(id)
				cs.add(event.Deleted, event.Teacher, id, nil)
			}
			if _, err := tx.GetParentProfile(id); err == nil {
				tx.DeleteParentProfile(id)
				cs.add(event.Deleted, event.Parent, id, nil)
			}
		}
		for _, p := range tx.ParentProfiles() {
			kept := p.ChildIDs[:0]
			for _, id := range p.ChildIDs {
				if !core.ContainsInt(userIDs, id) {
					kept = append(kept, id)
				}
			}
			if len(kept) != len(p.ChildIDs) {
				p.ChildIDs = kept
				tx.PutParentProfile(p)
				cs.add(event.Updated, event.Parent, p.UserID, p)
			}
		}
		return nil
	})
}

// SyncMember carries a user edit over to the class rosters. A student's new name or username replaces
// its StudentSummary in every roster; a student, teacher or parent changing role loses all memberships.
func (svc *Service) SyncMember(old, updated user.User) error {
	if old.Role != updated.Role && old.Role != user.RoleAdmin {
		return svc.RemoveMember(updated.ID)
	}
	if updated.Role != user.RoleStudent || (old.Name == updated.Name && old.Username == updated.Username) {
		return nil
	}

	summary := StudentSummary{ID: updated.ID, Name: updated.Name, Username: updated.Username}
	return svc.update(func(tx Tx, cs *changeSet) error {
		now := time.Now().UTC()
		for _, c := range tx.Classes() {
			idx := rosterIndex(c, updated.ID)
			if idx < 0 || c.Students[idx] == summary {
				continue
			}
			c.Students[idx] = summary
			c.UpdatedAt = now
			tx.PutClass(c)
			cs.add(event.Updated, event.Class, c.ID, c)
		}
		return nil
	})
}

// CheckConsistency reports every membership edge present on only one side, and every ClassRef whose
// name differs from its class.
func (svc *Service) CheckConsistency() ([]Inconsistency, error) {
	var found []Inconsistency
	err := svc.repo.View(func(tx Tx) error {
		found = Audit(tx.Classes(), tx.StudentProfiles(), tx.TeacherProfiles())
		return nil
	})
	return found, err
}

// Repair re-derives every student and teacher profile from the class rosters, which are authoritative.
// It returns the inconsistencies that were fixed.
func (svc *Service) Repair() ([]Inconsistency, error) {
	var fixed []Inconsistency
	err := svc.update(func(tx Tx, cs *changeSet) error {
		classes := tx.Classes()
		fixed = Audit(classes, tx.StudentProfiles(), tx.TeacherProfiles())
		if len(fixed) == 0 {
			return nil
		}

		studentRefs := make(map[int][]ClassRef)
		teacherClasses := make(map[int][]int)
		for _, c := range classes {
			for _, s := range c.Students {
				studentRefs[s.ID] = append(studentRefs[s.ID], ClassRef{ID: c.ID, Name: c.Name})
			}
			for _, tid := range c.TeacherIDs {
				teacherClasses[tid] = append(teacherClasses[tid], c.ID)
			}
		}

		for _, p := range tx.StudentProfiles() {
			if _, ok := studentRefs[p.UserID]; !ok {
				studentRefs[p.UserID] = []ClassRef{}
			}
		}
		for id, refs := range studentRefs {
			p := studentProfile(tx, id)
			if !refsEqual(p.Classes, refs) {
				p.Classes = refs
				tx.PutStudentProfile(p)
				cs.add(event.Updated, event.Student, id, p)
			}
		}

		for _, p := range tx.TeacherProfiles() {
			if _, ok := teacherClasses[p.UserID]; !ok {
				teacherClasses[p.UserID] = []int{}
			}
		}
		for id, classIDs := range teacherClasses {
			p := teacherProfile(tx, id)
			if !intsEqual(p.ClassIDs, classIDs) {
				p.ClassIDs = classIDs
				tx.PutTeacherProfile(p)
				cs.add(event.Updated, event.Teacher, id, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "repairing memberships")
	}
	return fixed, nil
}

// Audit compares class rosters with student and teacher profiles. It works on any snapshot of the data.
func Audit(classes []Class, students []StudentProfile, teachers []TeacherProfile) []Inconsistency {
	found := make([]Inconsistency, 0)
	byID := make(map[int]Class, len(classes))
	for _, c := range classes {
		byID[c.ID] = c
	}
	studentByID := make(map[int]StudentProfile, len(students))
	for _, p := range students {
		studentByID[p.UserID] = p
	}
	teacherByID := make(map[int]TeacherProfile, len(teachers))
	for _, p := range teachers {
		teacherByID[p.UserID] = p
	}

	for _, c := range classes {
		for _, s := range c.Students {
			ref, ok := findRef(studentByID[s.ID].Classes, c.ID)
			switch {
			case !ok:
				found = append(found, Inconsistency{
					Kind: MissingStudentRef, UserID: s.ID, ClassID: c.ID,
					Detail: fmt.Sprintf("class %q lists student %d", c.Name, s.ID),
				})
			case ref.Name != c.Name:
				found = append(found, Inconsistency{
					Kind: StaleClassName, UserID: s.ID, ClassID: c.ID,
					Detail: fmt.Sprintf("profile names class %q, class is %q", ref.Name, c.Name),
				})
			}
		}
		for _, tid := range c.TeacherIDs {
			if !core.ContainsInt(teacherByID[tid].ClassIDs, c.ID) {
				found = append(found, Inconsistency{
					Kind: MissingTeacherRef, UserID: tid, ClassID: c.ID,
					Detail: fmt.Sprintf("class %q lists teacher %d", c.Name, tid),
				})
			}
		}
	}
	for _, p := range students {
		for _, ref := range p.Classes {
			if c, ok := byID[ref.ID]; !ok || !c.HasStudent(p.UserID) {
				found = append(found, Inconsistency{
					Kind: OrphanStudentRef, UserID: p.UserID, ClassID: ref.ID,
					Detail: "profile lists class " + strconv.Itoa(ref.ID),
				})
			}
		}
	}
	for _, p := range teachers {
		for _, cid := range p.ClassIDs {
			if c, ok := byID[cid]; !ok || !c.HasTeacher(p.UserID) {
				found = append(found, Inconsistency{
					Kind: OrphanTeacherRef, UserID: p.UserID, ClassID: cid,
					Detail: "profile lists class " + strconv.Itoa(cid),
				})
			}
		}
	}
	return found
}

func checkClassIDs(classes []Class, ids []int) error {
	for _, id := range ids {
		i := sort.Search(len(classes), func(i int) bool { return classes[i].ID >= id })
		if i == len(classes) || classes[i].ID != id {
			msg := fmt.Sprintf("class %d not found", id)
			return core.NewValidationError(ErrClassNotFound, core.FieldError{Field: "class_ids", Error: msg})
		}
	}
	return nil
}

func rosterIndex(c Class, studentID int) int {
	for i, s := range c.Students {
		if s.ID == studentID {
			return i
		}
	}
	return -1
}

func studentProfile(tx Tx, userID int) StudentProfile {
	p, err := tx.GetStudentProfile(userID)
	if err != nil {
		return StudentProfile{UserID: userID, Classes: []ClassRef{}}
	}
	return p
}

func parentProfile(tx Tx, userID int) ParentProfile {
	p, err := tx.GetParentProfile(userID)
	if err != nil {
		return ParentProfile{UserID: userID, ChildIDs: []int{}}
	}
	return p
}

func teacherProfile(tx Tx, userID int) TeacherProfile {
	p, err := tx.GetTeacherProfile(userID)
	if err != nil {
		return TeacherProfile{UserID: userID, ClassIDs: []int{}}
	}
	return p
}

// setStudentRef adds (or refreshes) or removes ref on the student profile, keeping refs ordered by class id.
func setStudentRef(tx Tx, cs *changeSet, studentID int, ref ClassRef, present bool) {
	p := studentProfile(tx, studentID)
	refs := make([]ClassRef, 0, len(p.Classes)+1)
	for _, r := range p.Classes {
		if r.ID != ref.ID {
			refs = append(refs, r)
		}
	}
	if present {
		refs = append(refs, ref)
		sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	}
	if refsEqual(p.Classes, refs) {
		return
	}
	p.Classes = refs
	tx.PutStudentProfile(p)
	cs.add(event.Updated, event.Student, studentID, p)
}

func setTeacherClass(tx Tx, cs *changeSet, teacherID, classID int, present bool) {
	p := teacherProfile(tx, teacherID)
	ids := core.RemoveInt(p.ClassIDs, classID)
	if present {
		ids = core.UniqueInts(append(ids, classID))
	}
	if intsEqual(p.ClassIDs, ids) {
		return
	}
	p.ClassIDs = ids
	tx.PutTeacherProfile(p)
	cs.add(event.Updated, event.Teacher, teacherID, p)
}

func renameClassRefs(tx Tx, cs *changeSet, classID int, name string) {
	for _, p := range tx.StudentProfiles() {
		if ref, ok := findRef(p.Classes, classID); ok && ref.Name != name {
			setStudentRef(tx, cs, p.UserID, ClassRef{ID: classID, Name: name}, true)
		}
	}
}

func findRef(refs []ClassRef, classID int) (ClassRef, bool) {
	for _, r := range refs {
		if r.ID == classID {
			return r, true
		}
	}
	return ClassRef{}, false
}

func refsEqual(a, b []ClassRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// changeSet collects the events of a transaction, one per entity (the last state wins).
type changeSet struct {
	events []event.Event
	index  map[string]int
}

func (cs *changeSet) add(kind event.Kind, entity event.Entity, id int, payload interface{}) {
	if cs.index == nil {
		cs.index = make(map[string]int)
	}
	key := string(entity) + ":" + strconv.Itoa(id)
	if i, ok := cs.index[key]; ok {
		if cs.events[i].Kind == event.Created && kind == event.Updated {
			kind = event.Created
		}
		cs.events[i] = event.New(kind, entity, id, payload)
		return
	}
	cs.index[key] = len(cs.events)
	cs.events = append(cs.events, event.New(kind, entity, id, payload))
}
