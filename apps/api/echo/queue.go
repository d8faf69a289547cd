package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core/offline"
)

type queueApi struct {
	svc *offline.Service
}

func registerQueueAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := queueApi{svc: deps.Service}

	qg := g.Group("/queue", jwt)
	qg.POST("", api.enqueue)
	qg.GET("", api.query)
	qg.GET("/:id", api.retrieve)
	qg.DELETE("/:id", api.discard)
}

// Handlers

func (api *queueApi) enqueue(ctx echo.Context) error {
	var data offline.NewQueueItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQueueItem")
	}
	item, err := api.svc.Enqueue(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, item)
}

func (api *queueApi) query(ctx echo.Context) error {
	items, err := api.svc.Query(ctx.Request().Context(), ctx.QueryParam("store"))
	if err != nil {
		return errors.Wrap(err, "querying queue")
	}
	if items == nil {
		items = make([]offline.QueueItem, 0)
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *queueApi) retrieve(ctx echo.Context) error {
	item, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting queue item")
	}
	return ctx.JSON(http.StatusOK, item)
}

func (api *queueApi) discard(ctx echo.Context) error {
	if err := api.svc.Discard(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "discarding queue item")
	}
	return ctx.NoContent(http.StatusNoContent)
}
