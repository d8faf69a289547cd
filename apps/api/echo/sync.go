package echoapi

import (
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

type (
	syncApi struct {
		svc         *offline.Service
		coordinator *offline.Coordinator
		watcher     *offline.ConnectivityWatcher
		logger      core.Logger
	}

	connectivityUpdate struct {
		Online *bool `json:"online"`
	}

	statusEvent struct {
		Status   offline.Status `json:"status"`
		Progress int            `json:"progress"`
	}
)

func registerSyncAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps, logger core.Logger) {
	api := syncApi{
		svc:         deps.Service,
		coordinator: deps.Coordinator,
		watcher:     deps.Watcher,
		logger:      logger,
	}

	sg := g.Group("/sync", jwt)
	sg.POST("", api.sync)
	sg.GET("/status", api.status)
	sg.PUT("/connectivity", api.setConnectivity)
	sg.GET("/runs", api.queryRuns)
	sg.GET("/events", api.events)
}

// Handlers

func (api *syncApi) sync(ctx echo.Context) error {
	res := api.coordinator.Sync(ctx.Request().Context(), queryBool(ctx, "force"))
	return ctx.JSON(http.StatusOK, res)
}

func (api *syncApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.coordinator.Status())
}

// setConnectivity feeds the online signal; coming back online syncs before answering.
func (api *syncApi) setConnectivity(ctx echo.Context) error {
	var data connectivityUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to connectivityUpdate")
	}
	if data.Online == nil {
		return core.NewValidationError(errors.New("invalid data"), core.FieldError{Field: "online", Error: "this field is required"})
	}
	api.watcher.SetOnline(ctx.Request().Context(), *data.Online)
	return ctx.JSON(http.StatusOK, api.coordinator.Status())
}

func (api *syncApi) queryRuns(ctx echo.Context) error {
	var filter runFilter
	filter.Bind(ctx)

	runs, err := api.svc.QueryRuns(ctx.Request().Context(), filter.toFilter())
	if err != nil {
		return errors.Wrap(err, "querying sync runs")
	}
	if runs == nil {
		runs = make([]offline.Run, 0)
	}
	return ctx.JSON(http.StatusOK, runs)
}

// events streams the coordinator's status broadcasts over a websocket, starting with the current status.
// Slow clients miss intermediate progress events, never the latest one.
func (api *syncApi) events(ctx echo.Context) error {
	conn, err := websocket.Accept(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "accepting websocket")
	}
	defer func() { _ = conn.CloseNow() }()

	events := make(chan statusEvent, 16)
	id := api.coordinator.AddListener(func(status offline.Status, progress int) {
		ev := statusEvent{Status: status, Progress: progress}
		select {
		case events <- ev:
		default:
			// full: drop the oldest to keep the newest
			select {
			case <-events:
			default:
			}
			select {
			case events <- ev:
			default:
			}
		}
	})
	defer api.coordinator.RemoveListener(id)

	// the client only ever closes: CloseRead cancels wsCtx when it does
	wsCtx := conn.CloseRead(ctx.Request().Context())

	snap := api.coordinator.Status()
	if err = wsjson.Write(wsCtx, conn, statusEvent{Status: snap.Status, Progress: snap.Progress}); err != nil {
		return nil
	}
	for {
		select {
		case <-wsCtx.Done():
			return nil
		case ev := <-events:
			if err = wsjson.Write(wsCtx, conn, ev); err != nil {
				api.logger.Debug(fmt.Sprintf("sync events stream closed: %v", err))
				return nil
			}
		}
	}
}
