package handlers

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sasta-kro/tmpool/pool"
)

// APISpawnHandler serves the programmatic spawn endpoint used by other
// services: same pool, JSON in and out, token auth instead of a browser
// flow.
type APISpawnHandler struct {
	pool     ContainerPool
	logger   *slog.Logger
	apiToken string
}

// NewAPISpawnHandler constructs an APISpawnHandler. an empty apiToken
// leaves the endpoint open, matching the interactive flow.
func NewAPISpawnHandler(containerPool ContainerPool, logger *slog.Logger, apiToken string) *APISpawnHandler {
	return &APISpawnHandler{
		pool:     containerPool,
		logger:   logger,
		apiToken: apiToken,
	}
}

// apiSpawnResponse is the JSON body returned on a successful API spawn.
type apiSpawnResponse struct {
	URL string `json:"url"`
}

// Spawn handles POST /api/spawn.
// returns 200 {"url": "<path>?token=..."} with the container's path, or
// 429 {"status":"full"} when nothing is available so callers can apply
// their own backoff.
func (handler *APISpawnHandler) Spawn(responseWriter http.ResponseWriter, request *http.Request) {
	if !handler.authorized(request) {
		handler.logger.Warn("rejected api spawn with a bad or missing token")
		writeStatusJson(responseWriter, http.StatusForbidden)
		return
	}

	container, err := handler.pool.Acquire()
	if err != nil {
		if errors.Is(err, pool.ErrEmptyPool) {
			handler.logger.Warn("api spawn request found the pool empty")
			writeJsonAndRespond(responseWriter, http.StatusTooManyRequests, map[string]string{"status": "full"})
			return
		}
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), handler.logger)
		return
	}

	containerURL := container.Path
	if container.Token != "" {
		containerURL += "?" + url.Values{"token": {container.Token}}.Encode()
	}

	handler.logger.Info("allocated container via api", "path", container.Path)
	writeJsonAndRespond(responseWriter, http.StatusOK, apiSpawnResponse{URL: containerURL})
}

// authorized checks the Authorization header against the configured token.
// the comparison is constant-time: the header is the only credential this
// endpoint has.
func (handler *APISpawnHandler) authorized(request *http.Request) bool {
	if handler.apiToken == "" {
		return true
	}
	expected := "token " + handler.apiToken
	provided := request.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
