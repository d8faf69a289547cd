package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// runFilter binds ?lock=&status=&limit=&ordering= to an offline.RunFilter.
type runFilter struct {
	Ordering
	LockName string
	Status   offline.Status
	Limit    int
}

func (f *runFilter) Bind(ctx echo.Context) {
	f.Ordering.Bind(ctx)
	f.LockName = core.CleanString(ctx.QueryParam("lock"))
	f.Status = offline.Status(core.CleanString(ctx.QueryParam("status"), true))
	if limit, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil {
		f.Limit = limit
	}
}

func (f runFilter) toFilter() offline.RunFilter {
	return offline.RunFilter{
		LockName:  f.LockName,
		Status:    f.Status,
		Limit:     f.Limit,
		Orderings: f.Orderings,
	}
}

func queryBool(ctx echo.Context, name string) bool {
	b, _ := strconv.ParseBool(ctx.QueryParam(name))
	return b
}
