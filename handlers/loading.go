package handlers

import (
	"log/slog"
	"net/http"
)

// LoadingHandler serves the landing page shown while a freshly assigned
// upstream boots. after the spawn redirect the proxy may 5xx for a few
// seconds; the proxy's error page and direct visits to the root both land
// here, and the page refreshes itself until the upstream answers.
type LoadingHandler struct {
	logger *slog.Logger
}

// NewLoadingHandler constructs a LoadingHandler.
func NewLoadingHandler(logger *slog.Logger) *LoadingHandler {
	return &LoadingHandler{logger: logger}
}

// Loading handles GET / and every path no other route claims.
func (handler *LoadingHandler) Loading(responseWriter http.ResponseWriter, request *http.Request) {
	responseWriter.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loadingTemplate.Execute(responseWriter, nil); err != nil {
		handler.logger.Error("failed to render loading page", "error", err)
	}
}
