package echoapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
	"github.com/studylink/academy/tests"
)

func dialEvents(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev event.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func Test_eventApi_stream(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	student := app.CreateStudent(t, "Student", "student")
	studentToken := getToken(t, app.srv, student)
	parent := testutil.CreateUser(t, app.UserRepo, "Parent", "parent", "parent@example.com", "", user.RoleParent, true)

	t.Run("token required", func(t *testing.T) {
		_, resp, err := dialEvents(t, ts, "")
		require.Equal(t, websocket.ErrBadHandshake, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("parents have no stream", func(t *testing.T) {
		_, resp, err := dialEvents(t, ts, "?token="+getToken(t, app.srv, parent))
		require.Equal(t, websocket.ErrBadHandshake, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("student", func(t *testing.T) {
		conn, _, err := dialEvents(t, ts, "?token="+studentToken+"&entity=subject,user,progress")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return app.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

		app.bus.Publish(
			event.New(event.Created, event.User, 42, nil),                      // hidden
			event.New(event.Created, event.Course, 1, course.Course{ID: 1}),    // filtered out
			event.New(event.Updated, event.Progress, student.ID+1, nil),        // someone else
			event.New(event.Created, event.Subject, 7, academy.Subject{ID: 7}), // visible
			event.New(event.Updated, event.Progress, student.ID, nil),          // visible
		)

		ev := readEvent(t, conn)
		assert.Equal(t, event.Subject, ev.Entity)
		assert.Equal(t, event.Created, ev.Kind)
		assert.Equal(t, 7, ev.EntityID)
		assert.NotEmpty(t, ev.ID)

		ev = readEvent(t, conn)
		assert.Equal(t, event.Progress, ev.Entity)
		assert.Equal(t, student.ID, ev.EntityID)
	})

	t.Run("student sees own classes only", func(t *testing.T) {
		require.Eventually(t, func() bool { return app.bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
		conn, _, err := dialEvents(t, ts, "?token="+studentToken+"&entity=test")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return app.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

		joined := academy.StudentProfile{UserID: student.ID, Classes: []academy.ClassRef{{ID: 5, Name: "5A"}}}
		app.bus.Publish(
			event.New(event.Created, event.Test, 1, exam.Test{ID: 1, ClassID: 5, IsPublished: true}), // not in 5 yet
			event.New(event.Updated, event.Student, student.ID, joined),
			event.New(event.Created, event.Test, 2, exam.Test{ID: 2, ClassID: 6, IsPublished: true}), // other class
			event.New(event.Created, event.Test, 3, exam.Test{ID: 3, ClassID: 5, IsPublished: true}),
		)

		ev := readEvent(t, conn)
		assert.Equal(t, event.Test, ev.Entity)
		assert.Equal(t, 3, ev.EntityID)
	})

	t.Run("shutdown closes the stream", func(t *testing.T) {
		conn, _, err := dialEvents(t, ts, "?token="+studentToken)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return app.bus.Subscribers() >= 1 }, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, app.srv.Close())
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
	})
}

func Test_visibleEvent(t *testing.T) {
	admin := &viewer{User: user.User{ID: 1, Role: user.RoleAdmin}}
	teacher := &viewer{User: user.User{ID: 2, Role: user.RoleTeacher}}
	student := &viewer{User: user.User{ID: 3, Role: user.RoleStudent}, classIDs: []int{1}}
	parent := &viewer{User: user.User{ID: 4, Role: user.RoleParent}}

	score := 8
	ownSubmission := exam.Submission{ID: 1, StudentID: student.ID, Score: &score, Feedback: "Good"}

	tests := []struct {
		name string
		usr  *viewer
		ev   event.Event
		want bool
	}{
		{"admin: accounts", admin, event.New(event.Created, event.User, 9, nil), true},
		{"admin: mirror", admin, event.Event{Kind: event.Updated, Entity: event.Mirror, Key: "classes"}, true},
		{"teacher: accounts hidden", teacher, event.New(event.Created, event.User, 9, nil), false},
		{"teacher: mirror hidden", teacher, event.Event{Kind: event.Updated, Entity: event.Mirror}, false},
		{"teacher: classes", teacher, event.New(event.Updated, event.Class, 1, nil), true},
		{"parent: nothing", parent, event.New(event.Created, event.Subject, 1, nil), false},
		{"student: subjects", student, event.New(event.Created, event.Subject, 1, nil), true},
		{"student: classes hidden", student, event.New(event.Updated, event.Class, 1, nil), false},
		{"student: own profile", student, event.New(event.Updated, event.Student, student.ID, nil), true},
		{"student: other profile", student, event.New(event.Updated, event.Student, 99, nil), false},
		{"student: own submission", student, event.New(event.Created, event.Submission, 1, ownSubmission), true},
		{"student: other submission", student, event.New(event.Created, event.Submission, 2, exam.Submission{StudentID: 99}), false},
		{"student: published test", student, event.New(event.Updated, event.Test, 1, exam.Test{ClassID: 1, IsPublished: true}), true},
		{"student: other class test", student, event.New(event.Updated, event.Test, 1, exam.Test{ClassID: 2, IsPublished: true}), false},
		{"student: unpublished test", student, event.New(event.Updated, event.Test, 1, exam.Test{ClassID: 1}), false},
		{"student: deleted test", student, event.New(event.Deleted, event.Test, 1, nil), true},
		{"student: published course", student, event.New(event.Updated, event.Course, 1, course.Course{ClassIDs: []int{2, 1}, IsPublished: true}), true},
		{"student: other class course", student, event.New(event.Updated, event.Course, 1, course.Course{ClassIDs: []int{2}, IsPublished: true}), false},
		{"student: unpublished course", student, event.New(event.Updated, event.Course, 1, course.Course{}), false},
		{"student: deadline", student, event.New(event.Created, event.Calendar, 1, calendar.Event{Type: calendar.TestDeadline, ClassID: 1}), true},
		{"student: other class deadline", student, event.New(event.Created, event.Calendar, 1, calendar.Event{Type: calendar.TestDeadline, ClassID: 2}), false},
		{"student: schedule", student, event.New(event.Created, event.Calendar, 1, calendar.Event{Type: calendar.TeacherSchedule}), false},
		{"student: mirror", student, event.Event{Kind: event.Updated, Entity: event.Mirror}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := visibleEvent(tt.usr, tt.ev)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("profile events move classes", func(t *testing.T) {
		v := &viewer{User: student.User}
		test := event.New(event.Created, event.Test, 1, exam.Test{ClassID: 7, IsPublished: true})

		v.observe(event.New(event.Updated, event.Student, 99, academy.StudentProfile{Classes: []academy.ClassRef{{ID: 7}}}))
		_, ok := visibleEvent(v, test)
		assert.False(t, ok)

		v.observe(event.New(event.Updated, event.Student, v.ID, academy.StudentProfile{Classes: []academy.ClassRef{{ID: 7}}}))
		_, ok = visibleEvent(v, test)
		assert.True(t, ok)

		v.observe(event.New(event.Deleted, event.Student, v.ID, nil))
		_, ok = visibleEvent(v, test)
		assert.False(t, ok)
	})

	t.Run("unpublished grading is hidden", func(t *testing.T) {
		ev, ok := visibleEvent(student, event.New(event.Created, event.Submission, 1, ownSubmission))
		require.True(t, ok)
		s := ev.Payload.(exam.Submission)
		assert.Nil(t, s.Score)
		assert.Empty(t, s.Feedback)

		ownSubmission.IsPublished = true
		ev, _ = visibleEvent(student, event.New(event.Created, event.Submission, 1, ownSubmission))
		s = ev.Payload.(exam.Submission)
		require.NotNil(t, s.Score)
		assert.Equal(t, 8, *s.Score)
	})
}
