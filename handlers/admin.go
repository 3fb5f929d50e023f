package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sasta-kro/tmpool/models"
)

// AdminHandler serves the operator endpoints on the admin listener.
type AdminHandler struct {
	pool   ContainerPool
	events EventLister
	logger *slog.Logger
}

// NewAdminHandler constructs an AdminHandler. events may be nil when the
// journal is disabled.
func NewAdminHandler(containerPool ContainerPool, events EventLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		pool:   containerPool,
		events: events,
		logger: logger,
	}
}

// PoolStats handles GET /api/pool: a point-in-time occupancy snapshot.
func (handler *AdminHandler) PoolStats(responseWriter http.ResponseWriter, request *http.Request) {
	writeJsonAndRespond(responseWriter, http.StatusOK, handler.pool.Snapshot())
}

// Events handles GET /api/events?limit=N: the newest journal rows, newest
// first. limit defaults to 50 and is capped to keep the response bounded.
func (handler *AdminHandler) Events(responseWriter http.ResponseWriter, request *http.Request) {
	limit := 50
	if raw := request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "invalid limit "+raw, handler.logger)
			return
		}
		limit = parsed
	}
	if limit > 1000 {
		limit = 1000
	}

	if handler.events == nil {
		writeJsonAndRespond(responseWriter, http.StatusOK, []models.PoolEvent{})
		return
	}

	events, err := handler.events.ListEvents(limit)
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), handler.logger)
		return
	}
	if events == nil {
		// an empty table yields a nil slice, which json encodes as null;
		// clients get [] instead.
		events = []models.PoolEvent{}
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, events)
}
