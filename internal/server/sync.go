package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
)

// InfoMessage is served at the root path.
const InfoMessage = "Waze data"

// SyncHandler exposes the append and delete flows.
type SyncHandler struct {
	Flows  Flows
	Strict bool
	Logger *log.Logger
}

func (h *SyncHandler) Register(e *echo.Echo) {
	e.GET("/", h.info)
	e.GET("/append/:type", h.append)
	e.GET("/delete", h.delete)
}

func (h *SyncHandler) info(c echo.Context) error {
	return c.String(http.StatusOK, InfoMessage)
}

func (h *SyncHandler) append(c echo.Context) error {
	// a disconnecting caller must not abort a half-finished upsert
	ctx := context.WithoutCancel(c.Request().Context())
	res := h.Flows.Append(ctx, c.Param("type"))
	if res.Err != nil && !errors.Is(res.Err, pipeline.ErrUnsupportedFeed) {
		h.Logger.Printf("append %s (run %s) failed at %s: %v", res.FeedType, res.RunID, res.Stage, res.Err)
	}
	return c.HTML(h.status(res.Err), res.Message())
}

func (h *SyncHandler) delete(c echo.Context) error {
	ctx := context.WithoutCancel(c.Request().Context())
	res := h.Flows.Delete(ctx)
	if res.Err != nil {
		h.Logger.Printf("delete (run %s) failed at %s: %v", res.RunID, res.Stage, res.Err)
	}
	return c.HTML(h.status(res.Err), res.Message())
}

// status is always 200 unless strict mode asks for failure-specific codes.
func (h *SyncHandler) status(err error) int {
	if !h.Strict || err == nil {
		return http.StatusOK
	}
	if errors.Is(err, pipeline.ErrUnsupportedFeed) {
		return http.StatusBadRequest
	}
	var se *pipeline.StageError
	if errors.As(err, &se) && se.Local() {
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}
