package academy_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
	dummydb "github.com/studylink/academy/storage/database/dummy"
	testutil "github.com/studylink/academy/tests"
)

// assertSymmetric checks that every class roster and every student profile agree.
func assertSymmetric(t *testing.T, svc *academy.Service, studentIDs ...int) {
	t.Helper()
	classes, err := svc.Classes(academy.ClassFilter{})
	require.NoError(t, err)
	for _, id := range studentIDs {
		p, err := svc.StudentProfile(id)
		require.NoError(t, err)
		for _, c := range classes {
			ref, found := findRef(p.Classes, c.ID)
			assert.Equal(t, c.HasStudent(id), found, "student %d / class %d", id, c.ID)
			assert.Equal(t, c.HasStudent(id), core.ContainsInt(c.StudentIDs(), id))
			if found {
				assert.Equal(t, c.Name, ref.Name)
			}
		}
	}
	found, err := svc.CheckConsistency()
	require.NoError(t, err)
	assert.Empty(t, found)
}

func findRef(refs []academy.ClassRef, id int) (academy.ClassRef, bool) {
	for _, r := range refs {
		if r.ID == id {
			return r, true
		}
	}
	return academy.ClassRef{}, false
}

func TestSetStudentClasses_Scenario(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	b := env.CreateClass(t, academy.NewClass{Name: "B"})
	_, err := env.Academy.SetStudentClasses(10, "Kim", "kim1", []int{a.ID})
	require.NoError(t, err)

	joined, err := env.Academy.SetStudentClasses(10, "Kim", "kim1", []int{b.ID})
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, b.ID, joined[0].ID)

	a, err = env.Academy.GetClass(a.ID)
	require.NoError(t, err)
	b, err = env.Academy.GetClass(b.ID)
	require.NoError(t, err)
	assert.Empty(t, a.Students)
	assert.Equal(t, []academy.StudentSummary{{ID: 10, Name: "Kim", Username: "kim1"}}, b.Students)

	p, err := env.Academy.StudentProfile(10)
	require.NoError(t, err)
	assert.Equal(t, []academy.ClassRef{{ID: b.ID, Name: "B"}}, p.Classes)
	assertSymmetric(t, env.Academy, 10)
}

func TestSetStudentClasses_Idempotent(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	b := env.CreateClass(t, academy.NewClass{Name: "B"})

	first, err := env.Academy.SetStudentClasses(7, "Lee", "lee", []int{b.ID, a.ID, a.ID})
	require.NoError(t, err)
	before, err := env.Academy.Classes(academy.ClassFilter{})
	require.NoError(t, err)
	published := len(env.Events.Events)

	second, err := env.Academy.SetStudentClasses(7, "Lee", "lee", []int{a.ID, b.ID})
	require.NoError(t, err)
	after, err := env.Academy.Classes(academy.ClassFilter{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
	assert.Len(t, env.Events.Events, published, "no change, no event")
	for _, c := range after {
		assert.Equal(t, []int{7}, c.StudentIDs(), "no duplicate roster entry")
	}
}

func TestSetStudentClasses_Symmetry(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	ids := make([]int, 0, 4)
	for _, name := range []string{"A", "B", "C", "D"} {
		ids = append(ids, env.CreateClass(t, academy.NewClass{Name: name}).ID)
	}

	steps := []struct {
		student  int
		classIDs []int
	}{
		{1, []int{ids[0], ids[1]}},
		{2, []int{ids[1], ids[2], ids[3]}},
		{1, []int{ids[3]}},
		{3, []int{ids[0], ids[1], ids[2], ids[3]}},
		{2, []int{}},
		{3, []int{ids[2]}},
		{1, nil},
	}
	for _, step := range steps {
		_, err := env.Academy.SetStudentClasses(step.student, "Student", "s", step.classIDs)
		require.NoError(t, err)
		assertSymmetric(t, env.Academy, 1, 2, 3)
	}
}

func TestSetStudentClasses_Removal(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	_, err := env.Academy.SetStudentClasses(5, "Kim", "kim1", []int{a.ID})
	require.NoError(t, err)

	_, err = env.Academy.SetStudentClasses(5, "Kim", "kim1", nil)
	require.NoError(t, err)

	classes, err := env.Academy.Classes(academy.ClassFilter{StudentID: 5})
	require.NoError(t, err)
	assert.Empty(t, classes)
	p, err := env.Academy.StudentProfile(5)
	require.NoError(t, err)
	assert.Empty(t, p.Classes)
}

func TestSetStudentClasses_UnknownClass(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	_, err := env.Academy.SetStudentClasses(5, "Kim", "kim1", []int{a.ID})
	require.NoError(t, err)

	_, err = env.Academy.SetStudentClasses(5, "Kim", "kim1", []int{99})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, academy.ErrClassNotFound, verr.Err)

	a, err = env.Academy.GetClass(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, a.StudentIDs(), "failed call leaves data untouched")
}

func TestSetStudentClasses_RefreshesSummary(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	_, err := env.Academy.SetStudentClasses(5, "Kim", "kim1", []int{a.ID})
	require.NoError(t, err)
	_, err = env.Academy.SetStudentClasses(5, "Kim Minji", "kim1", []int{a.ID})
	require.NoError(t, err)

	students, err := env.Academy.ClassStudents(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []academy.StudentSummary{{ID: 5, Name: "Kim Minji", Username: "kim1"}}, students)
}

func TestCapacityPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  string
		wantErr bool
	}{
		{"soft policy admits over capacity", core.CapacitySoft, false},
		{"enforce policy rejects", core.CapacityEnforce, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf := core.NewTestConfig()
			conf.Academy.CapacityPolicy = tc.policy
			env := testutil.NewEnv(t, conf)
			a := env.CreateClass(t, academy.NewClass{Name: "A", MaxStudents: 1})
			b := env.CreateClass(t, academy.NewClass{Name: "B"})
			_, err := env.Academy.SetStudentClasses(1, "Kim", "kim1", []int{a.ID})
			require.NoError(t, err)

			_, err = env.Academy.SetStudentClasses(2, "Lee", "lee", []int{b.ID, a.ID})
			a, _ = env.Academy.GetClass(a.ID)
			b, _ = env.Academy.GetClass(b.ID)
			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, []int{1, 2}, a.StudentIDs())
				return
			}
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, academy.ErrClassFull, verr.Err)
			assert.Equal(t, []int{1}, a.StudentIDs())
			assert.Empty(t, b.Students, "rejected call is atomic")
		})
	}
}

func TestSetTeacherClasses(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	b := env.CreateClass(t, academy.NewClass{Name: "B"})

	taught, err := env.Academy.SetTeacherClasses(3, []int{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, taught, 2)

	_, err = env.Academy.SetTeacherClasses(3, []int{b.ID})
	require.NoError(t, err)

	a, _ = env.Academy.GetClass(a.ID)
	b, _ = env.Academy.GetClass(b.ID)
	assert.False(t, a.HasTeacher(3))
	assert.True(t, b.HasTeacher(3))
	p, err := env.Academy.TeacherProfile(3)
	require.NoError(t, err)
	assert.Equal(t, []int{b.ID}, p.ClassIDs)
	assertSymmetric(t, env.Academy)
}

func TestRemoveMember_OnUserDelete(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	kim := env.CreateStudent(t, "Kim", "kim1")
	park := env.CreateTeacher(t, "Park", "park")
	a := env.CreateClass(t, academy.NewClass{Name: "A", StudentIDs: []int{kim.ID}, TeacherIDs: []int{park.ID}})
	b := env.CreateClass(t, academy.NewClass{Name: "B", StudentIDs: []int{kim.ID}, TeacherIDs: []int{park.ID}})

	require.NoError(t, env.Users.Delete(kim.ID, park.ID))

	for _, id := range []int{a.ID, b.ID} {
		c, err := env.Academy.GetClass(id)
		require.NoError(t, err)
		assert.False(t, c.HasStudent(kim.ID))
		assert.False(t, c.HasTeacher(park.ID))
	}
	sp, err := env.Academy.StudentProfile(kim.ID)
	require.NoError(t, err)
	assert.Empty(t, sp.Classes)
	tp, err := env.Academy.TeacherProfile(park.ID)
	require.NoError(t, err)
	assert.Empty(t, tp.ClassIDs)
}

func TestSyncMember_OnUserUpdate(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	kim := env.CreateStudent(t, "Kim", "kim1")
	lee := env.CreateStudent(t, "Lee", "lee")
	park := env.CreateTeacher(t, "Park", "park")
	a := env.CreateClass(t, academy.NewClass{Name: "A", StudentIDs: []int{kim.ID, lee.ID}, TeacherIDs: []int{park.ID}})
	b := env.CreateClass(t, academy.NewClass{Name: "B", StudentIDs: []int{kim.ID}})

	update := func(t *testing.T, usr user.User, uu user.UpdateUser) {
		t.Helper()
		require.NoError(t, uu.Validate(usr, env.Validate, env.Users))
		_, err := env.Users.Update(usr.ID, uu)
		require.NoError(t, err)
	}

	t.Run("rename refreshes rosters", func(t *testing.T) {
		update(t, kim, user.UpdateUser{Name: "Kim Minji", Username: "minji"})
		for _, id := range []int{a.ID, b.ID} {
			students, err := env.Academy.ClassStudents(id)
			require.NoError(t, err)
			assert.Contains(t, students, academy.StudentSummary{ID: kim.ID, Name: "Kim Minji", Username: "minji"})
		}
		assertSymmetric(t, env.Academy, kim.ID, lee.ID)
	})

	t.Run("student turned teacher leaves every roster", func(t *testing.T) {
		kim, err := env.Users.GetByID(kim.ID)
		require.NoError(t, err)
		update(t, kim, user.UpdateUser{Role: user.RoleTeacher})

		for _, id := range []int{a.ID, b.ID} {
			c, err := env.Academy.GetClass(id)
			require.NoError(t, err)
			assert.False(t, c.HasStudent(kim.ID), "class %d", id)
		}
		a, err := env.Academy.GetClass(a.ID)
		require.NoError(t, err)
		assert.True(t, a.HasStudent(lee.ID))
		sp, err := env.Academy.StudentProfile(kim.ID)
		require.NoError(t, err)
		assert.Empty(t, sp.Classes)
		assertSymmetric(t, env.Academy, lee.ID)
	})

	t.Run("teacher turned admin leaves every class", func(t *testing.T) {
		update(t, park, user.UpdateUser{Role: user.RoleAdmin})
		a, err := env.Academy.GetClass(a.ID)
		require.NoError(t, err)
		assert.Empty(t, a.TeacherIDs)
		tp, err := env.Academy.TeacherProfile(park.ID)
		require.NoError(t, err)
		assert.Empty(t, tp.ClassIDs)
	})

	t.Run("unrelated edit changes nothing", func(t *testing.T) {
		before, err := env.Academy.GetClass(a.ID)
		require.NoError(t, err)
		lee, err := env.Users.GetByID(lee.ID)
		require.NoError(t, err)
		update(t, lee, user.UpdateUser{Phone: "010-0000"})
		after, err := env.Academy.GetClass(a.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestCreateClass_MemberChecks(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	kim := env.CreateStudent(t, "Kim", "kim1")
	park := env.CreateTeacher(t, "Park", "park")

	tests := []struct {
		name    string
		nc      academy.NewClass
		wantErr error
	}{
		{"teacher as student", academy.NewClass{Name: "A", StudentIDs: []int{park.ID}}, academy.ErrNotStudent},
		{"student as teacher", academy.NewClass{Name: "A", TeacherIDs: []int{kim.ID}}, academy.ErrNotTeacher},
		{"unknown student", academy.NewClass{Name: "A", StudentIDs: []int{404}}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Academy.CreateClass(tc.nc)
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			if tc.wantErr != nil {
				assert.Equal(t, tc.wantErr, verr.Err)
			} else {
				assert.True(t, core.IsNotFound(verr.Err))
			}
		})
	}
}

func TestRenameClass_PropagatesToProfiles(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	kim := env.CreateStudent(t, "Kim", "kim1")
	a := env.CreateClass(t, academy.NewClass{Name: "Math A", StudentIDs: []int{kim.ID}})

	_, err := env.Academy.RenameClass(a.ID, "  Algebra ")
	require.NoError(t, err)

	p, err := env.Academy.StudentProfile(kim.ID)
	require.NoError(t, err)
	assert.Equal(t, []academy.ClassRef{{ID: a.ID, Name: "Algebra"}}, p.Classes)

	_, err = env.Academy.RenameClass(a.ID, " ")
	assert.Error(t, err)
}

func TestUpdateClass_Roster(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	kim := env.CreateStudent(t, "Kim", "kim1")
	lee := env.CreateStudent(t, "Lee", "lee")
	park := env.CreateTeacher(t, "Park", "park")
	a := env.CreateClass(t, academy.NewClass{Name: "A", StudentIDs: []int{kim.ID}})

	grade := "G5"
	a, err := env.Academy.UpdateClass(a.ID, academy.UpdateClass{
		Grade:      &grade,
		StudentIDs: []int{lee.ID},
		TeacherIDs: []int{park.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "G5", a.Grade)
	assert.Equal(t, []int{lee.ID}, a.StudentIDs())
	assert.Equal(t, []int{park.ID}, a.TeacherIDs)
	assertSymmetric(t, env.Academy, kim.ID, lee.ID)

	tp, err := env.Academy.TeacherProfile(park.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{a.ID}, tp.ClassIDs)
}

func TestDeleteClass(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	kim := env.CreateStudent(t, "Kim", "kim1")
	park := env.CreateTeacher(t, "Park", "park")
	a := env.CreateClass(t, academy.NewClass{Name: "A", StudentIDs: []int{kim.ID}, TeacherIDs: []int{park.ID}})
	b := env.CreateClass(t, academy.NewClass{Name: "B", StudentIDs: []int{kim.ID}})

	var hooked []int
	env.Academy.OnClassDelete(func(id int) error {
		hooked = append(hooked, id)
		return nil
	})
	require.NoError(t, env.Academy.DeleteClass(a.ID))
	assert.Equal(t, []int{a.ID}, hooked)

	_, err := env.Academy.GetClass(a.ID)
	assert.True(t, core.IsNotFound(err))
	sp, _ := env.Academy.StudentProfile(kim.ID)
	assert.Equal(t, []academy.ClassRef{{ID: b.ID, Name: "B"}}, sp.Classes)
	tp, _ := env.Academy.TeacherProfile(park.ID)
	assert.Empty(t, tp.ClassIDs)

	t.Run("hook error aborts", func(t *testing.T) {
		env.Academy.OnClassDelete(func(int) error { return errors.New("busy") })
		assert.Error(t, env.Academy.DeleteClass(b.ID))
		_, err := env.Academy.GetClass(b.ID)
		assert.NoError(t, err)
	})
}

func TestCheckConsistencyAndRepair(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	b := env.CreateClass(t, academy.NewClass{Name: "B"})
	_, err := env.Academy.SetStudentClasses(1, "Kim", "kim1", []int{a.ID})
	require.NoError(t, err)

	// corrupt the profiles behind the service's back
	repo := dummydb.NewAcademyRepository(env.DB)
	require.NoError(t, repo.Update(func(tx academy.Tx) error {
		tx.PutStudentProfile(academy.StudentProfile{UserID: 1, Classes: []academy.ClassRef{{ID: b.ID, Name: "B"}}})
		tx.PutTeacherProfile(academy.TeacherProfile{UserID: 9, ClassIDs: []int{a.ID}})
		return nil
	}))

	found, err := env.Academy.CheckConsistency()
	require.NoError(t, err)
	kinds := make([]string, 0, len(found))
	for _, inc := range found {
		kinds = append(kinds, inc.Kind)
	}
	assert.ElementsMatch(t, []string{academy.MissingStudentRef, academy.OrphanStudentRef, academy.OrphanTeacherRef}, kinds)

	fixed, err := env.Academy.Repair()
	require.NoError(t, err)
	assert.Len(t, fixed, 3)
	assertSymmetric(t, env.Academy, 1)

	tp, err := env.Academy.TeacherProfile(9)
	require.NoError(t, err)
	assert.Empty(t, tp.ClassIDs)
}

func TestReconcilerEvents(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	a := env.CreateClass(t, academy.NewClass{Name: "A"})
	env.Events.Events = nil

	_, err := env.Academy.SetStudentClasses(1, "Kim", "kim1", []int{a.ID})
	require.NoError(t, err)
	assert.Equal(t, []event.Entity{event.Class, event.Student}, env.Events.Entities())
}
