package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/studylink/academy/core"
)

const (
	orderingParam    = "ordering"
	objectContextKey = "object"
)

type Ordering struct {
	Orderings []core.Ordering
}

// Bind parses `?ordering=name,-created_at`; a leading "-" sorts descending.
func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.Ordering{Field: field, Ascending: !descending})
	}
}

// IDsRequest is the body of endpoints replacing a set of ids, e.g. the classes of a student.
type IDsRequest struct {
	IDs []int `json:"ids" validate:"omitempty,dive,min=1"`
}

func paramID(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func queryInt(ctx echo.Context, name string) int {
	i, _ := strconv.Atoi(ctx.QueryParam(name))
	return i
}

// queryInts accepts repeated (`?id=1&id=2`) and comma separated (`?id=1,2`) values; invalid ids are skipped.
func queryInts(ctx echo.Context, name string) []int {
	var ids []int
	for _, val := range ctx.QueryParams()[name] {
		for _, s := range strings.Split(val, ",") {
			if id, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && id > 0 {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func queryStrings(ctx echo.Context, name string) []string {
	var vals []string
	for _, val := range ctx.QueryParams()[name] {
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				vals = append(vals, s)
			}
		}
	}
	return vals
}

func queryBool(ctx echo.Context, name string) *bool {
	b, err := strconv.ParseBool(ctx.QueryParam(name))
	if err != nil {
		return nil
	}
	return &b
}

func queryTime(ctx echo.Context, name string) time.Time {
	t, err := time.Parse(time.RFC3339, ctx.QueryParam(name))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
