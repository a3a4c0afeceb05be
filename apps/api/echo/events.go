package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type eventApi struct {
	bus      *event.Bus
	users    *user.Service
	academy  *academy.Service
	logger   core.Logger
	upgrader websocket.Upgrader
	quit     <-chan struct{}
}

func registerEventAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps, quit <-chan struct{}) {
	api := eventApi{
		bus:     deps.Bus,
		users:   deps.Users,
		academy: deps.Academy,
		logger:  deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// clients authenticate with a token, not cookies
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		quit: quit,
	}

	g.GET(
		"/events/ws", api.stream,
		tokenFromQuery, jwt, roleMiddleware(api.users, user.RoleAdmin, user.RoleTeacher, user.RoleStudent),
	)
}

// stream pushes the change events visible to the context user over a websocket until the client goes
// away or the server shuts down. `?entity=course,test` and `?id=` narrow the stream.
func (api *eventApi) stream(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := event.Filter{EntityID: queryInt(ctx, "id")}
	for _, e := range queryStrings(ctx, "entity") {
		filter.Entities = append(filter.Entities, event.Entity(e))
	}
	v := &viewer{User: usr}
	subFilter := filter
	if usr.IsStudent() {
		// students follow their own profile to keep their classes current
		if v.classIDs, err = studentClassIDs(api.academy, usr); err != nil {
			return err
		}
		subFilter = event.Filter{}
	}

	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader replied with an HTTP error already
	}
	defer conn.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, subID := api.bus.Subscribe(subCtx, subFilter)
	api.logger.Debug("event stream opened", map[string]interface{}{"subscriber": subID}, usr)

	// the read loop only detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-api.quit:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait),
			)
			return nil
		case <-subCtx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			v.observe(ev)
			if !filter.Match(ev) {
				continue
			}
			ev, visible := visibleEvent(v, ev)
			if !visible {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		}
	}
}

// viewer is the user of an event stream; classIDs are the classes of a student.
type viewer struct {
	user.User
	classIDs []int
}

// observe keeps the classes of a student viewer in sync with their profile events.
func (v *viewer) observe(ev event.Event) {
	if !v.IsStudent() || ev.Entity != event.Student || ev.EntityID != v.ID {
		return
	}
	if p, ok := ev.Payload.(academy.StudentProfile); ok {
		v.classIDs = p.ClassIDs()
	} else if ev.Kind == event.Deleted {
		v.classIDs = nil
	}
}

func (v *viewer) inClass(ids ...int) bool {
	for _, id := range ids {
		if core.ContainsInt(v.classIDs, id) {
			return true
		}
	}
	return false
}

// visibleEvent reports whether v may see ev, and returns the event as they may see it.
// Admins see everything and teachers everything but accounts; students only see the published content
// and deadlines of their classes, and their own progress and submissions.
func visibleEvent(v *viewer, ev event.Event) (event.Event, bool) {
	switch {
	case v.IsAdmin():
		return ev, true
	case v.IsTeacher():
		return ev, ev.Entity != event.User && ev.Entity != event.Mirror
	case !v.IsStudent():
		return ev, false
	}

	switch ev.Entity {
	case event.Subject:
		return ev, true
	case event.Student, event.Progress:
		return ev, ev.EntityID == v.ID
	case event.Submission:
		s, ok := ev.Payload.(exam.Submission)
		if !ok || s.StudentID != v.ID {
			return ev, false
		}
		ev.Payload = studentView(s)
		return ev, true
	case event.Test:
		if ev.Payload == nil {
			return ev, true
		}
		t, ok := ev.Payload.(exam.Test)
		return ev, ok && t.IsPublished && v.inClass(t.ClassID)
	case event.Course:
		if ev.Payload == nil {
			return ev, true
		}
		c, ok := ev.Payload.(course.Course)
		return ev, ok && c.IsPublished && v.inClass(c.ClassIDs...)
	case event.Calendar:
		if ev.Payload == nil {
			return ev, true
		}
		e, ok := ev.Payload.(calendar.Event)
		return ev, ok && e.Type == calendar.TestDeadline && v.inClass(e.ClassID)
	}
	return ev, false
}

// tokenFromQuery accepts the JWT as a `token` query param, as browsers cannot set headers on websockets.
func tokenFromQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" {
			if token := ctx.QueryParam("token"); token != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			}
		}
		return next(ctx)
	}
}
