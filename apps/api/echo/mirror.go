package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studylink/academy/storage/mirror"
)

type mirrorApi struct {
	store *mirror.Store
}

func registerMirrorAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := mirrorApi{store: deps.Mirror}

	mg := g.Group("/mirror", jwt, adminMiddleware(deps.Users))
	mg.GET("", api.keys)
	mg.GET("/:key", api.retrieve)
}

func (api *mirrorApi) keys(ctx echo.Context) error {
	keys, err := api.store.Keys(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing mirror keys")
	}
	if keys == nil {
		keys = []string{}
	}
	return ctx.JSON(http.StatusOK, keys)
}

// retrieve returns the raw blob stored under `:key` (or one of its aliases).
func (api *mirrorApi) retrieve(ctx echo.Context) error {
	raw, err := api.store.Raw(ctx.Request().Context(), ctx.Param("key"))
	if err != nil {
		return errors.Wrap(err, "reading mirror key")
	}
	return ctx.JSONBlob(http.StatusOK, raw)
}
