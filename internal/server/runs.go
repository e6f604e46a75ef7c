package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"github.com/mohammad-safakhou/incidentsync/internal/runtime"
	"github.com/mohammad-safakhou/incidentsync/internal/store"
)

// RunLister reads run history.
type RunLister interface {
	ListRuns(ctx context.Context, f store.RunFilter) ([]pipeline.Run, error)
}

// RunsHandler serves run history to operators holding a runs:read token.
type RunsHandler struct {
	Runs RunLister
}

type runResponse struct {
	ID         string     `json:"id"`
	Flow       string     `json:"flow"`
	FeedType   string     `json:"feed_type,omitempty"`
	Status     string     `json:"status"`
	Stage      string     `json:"stage,omitempty"`
	ItemID     string     `json:"item_id,omitempty"`
	StatusURL  string     `json:"status_url,omitempty"`
	Records    int        `json:"records"`
	Rejected   int        `json:"rejected"`
	Deleted    int        `json:"deleted"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("/runs", h.list, runtime.RequireScopes(runtime.ScopeRunsRead))
}

func (h *RunsHandler) list(c echo.Context) error {
	filter := store.RunFilter{Flow: pipeline.Flow(c.QueryParam("flow"))}
	switch filter.Flow {
	case "", pipeline.FlowAppend, pipeline.FlowDelete:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "flow must be append or delete")
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		filter.Limit = n
	}
	runs, err := h.Runs.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	out := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		item := runResponse{
			ID:        r.ID,
			Flow:      string(r.Flow),
			FeedType:  r.FeedType,
			Status:    r.Status,
			Stage:     string(r.Stage),
			ItemID:    r.ItemID,
			StatusURL: r.StatusURL,
			Records:   r.Records,
			Rejected:  r.Rejected,
			Deleted:   r.Deleted,
			Error:     r.Error,
			StartedAt: r.StartedAt,
		}
		if !r.FinishedAt.IsZero() {
			finished := r.FinishedAt
			item.FinishedAt = &finished
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, out)
}
