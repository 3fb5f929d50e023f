package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/tmpool/models"
	"github.com/sasta-kro/tmpool/pool"
)

// ContainerPool is the slice of the pool the handlers drive. declared here
// so the handlers can be tested against a fake without a daemon behind
// them.
type ContainerPool interface {
	Acquire() (models.Container, error)
	Snapshot() pool.Stats
}

// SpawnHandler serves the interactive spawn flow: a user hits /spawn, gets
// a container from the pool, and is redirected into it.
type SpawnHandler struct {
	pool        ContainerPool
	logger      *slog.Logger
	redirectURI string
	cullPeriod  int
}

// NewSpawnHandler constructs a SpawnHandler. redirectURI is where users
// land inside their container when the request names no path of its own;
// cullPeriod is surfaced on the pool-full page as a retry hint.
func NewSpawnHandler(containerPool ContainerPool, logger *slog.Logger, redirectURI string, cullPeriod int) *SpawnHandler {
	return &SpawnHandler{
		pool:        containerPool,
		logger:      logger,
		redirectURI: strings.TrimPrefix(redirectURI, "/"),
		cullPeriod:  cullPeriod,
	}
}

// Spawn handles GET /spawn and GET /spawn/*.
// acquires a container and answers 302 into it, carrying any extra request
// path through: /spawn/notebooks/Index.ipynb lands the user on that
// notebook inside their assigned container. an empty pool renders the
// full page with 200 so browsers display it instead of an error screen.
func (handler *SpawnHandler) Spawn(responseWriter http.ResponseWriter, request *http.Request) {
	container, err := handler.pool.Acquire()
	if err != nil {
		if errors.Is(err, pool.ErrEmptyPool) {
			handler.logger.Warn("spawn request found the pool empty")
			renderFullPage(responseWriter, handler.cullPeriod, handler.logger)
			return
		}
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), handler.logger)
		return
	}

	redirectPath := strings.TrimPrefix(chi.URLParam(request, "*"), "/")
	if redirectPath == "" {
		redirectPath = handler.redirectURI
	}

	location := container.Path + "/" + redirectPath
	if container.Token != "" {
		location += "?" + url.Values{"token": {container.Token}}.Encode()
	}

	handler.logger.Info("redirecting into container",
		"from", request.URL.Path,
		"to", container.Path,
	)
	http.Redirect(responseWriter, request, location, http.StatusFound)
}

// renderFullPage writes the pool-full page. template execution against a
// static struct cannot realistically fail, but a blank page would be a
// confusing way to find out it somehow did.
func renderFullPage(responseWriter http.ResponseWriter, cullPeriod int, logger *slog.Logger) {
	responseWriter.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := fullTemplate.Execute(responseWriter, fullPageData{CullPeriod: cullPeriod}); err != nil {
		logger.Error("failed to render full page", "error", err)
	}
}
