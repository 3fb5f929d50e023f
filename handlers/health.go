package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler holds the dependencies needed by the health endpoint.
// even though health currently needs no dependencies beyond the logger,
// using a struct keeps the pattern consistent with the other handlers.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler constructs a HealthHandler with the given logger.
func NewHealthHandler(inputLogger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: inputLogger}
}

// healthResponse is the JSON body returned by the health endpoint.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /health.
// returns 200 with a JSON body confirming the process is alive and the
// HTTP stack works. intentionally simple: no daemon check, no proxy
// check, no business logic. kept at the root level rather than under an
// /api prefix because load balancers and uptime monitors expect it there.
func (handler *HealthHandler) Health(responseWriter http.ResponseWriter, request *http.Request) {
	response := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, response)
}
