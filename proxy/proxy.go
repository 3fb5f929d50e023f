// Package proxy is the client of the external routing proxy. The proxy
// holds the path→upstream table that actually carries user traffic; this
// process only ever edits that table through the three calls below, so the
// whole wire protocol lives in this one file.
//
// wire protocol:
//
//	POST   {endpoint}/api/routes/{path}   body {"target": url, "container_id": id}
//	DELETE {endpoint}/api/routes/{path}
//	GET    {endpoint}/api/routes          -> {"/path": {"target": ..., "last_activity": ...}, ...}
//
// every request carries "Authorization: token <proxy_token>".
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrRouteConflict is returned by Register when the proxy already holds a
// route for the requested path. the pool reacts by retrying the birth with
// a fresh suffix.
var ErrRouteConflict = errors.New("route already registered for path")

// Route is one entry of the proxy's routing table as reported by Routes.
type Route struct {
	// Target is the upstream URL the path forwards to
	Target string `json:"target"`

	// ContainerID is the id recorded at registration time, when present
	ContainerID string `json:"container_id"`

	// LastActivity is the proxy's last observed traffic on this route.
	// nil means the proxy never observed any; freshness calculations must
	// treat that as "now" so brand-new entries are not culled.
	LastActivity *time.Time `json:"last_activity"`
}

// Client talks to the routing proxy's management API. proxy calls are
// plain short-lived JSON requests, so one shared http.Client with a
// conservative timeout covers all of them.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient constructs a proxy client for the given management endpoint.
// the endpoint is stored without a trailing slash so path concatenation
// below stays uniform.
func NewClient(endpoint, token string, logger *slog.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: 20 * time.Second},
		logger:   logger,
	}
}

// Register installs path → target in the proxy's routing table.
// registering an already-routed path is a conflict, surfaced as
// ErrRouteConflict so the caller can pick a new path.
func (client *Client) Register(ctx context.Context, path, target, containerID string) error {
	body, err := json.Marshal(map[string]string{
		"target":       target,
		"container_id": containerID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode route body: %w", err)
	}

	response, err := client.request(ctx, http.MethodPost, client.routeURL(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to register route %q: %w", path, err)
	}
	defer drainAndClose(response)

	switch {
	case response.StatusCode == http.StatusConflict:
		return fmt.Errorf("register %q: %w", path, ErrRouteConflict)
	case response.StatusCode >= 300:
		return fmt.Errorf("failed to register route %q: proxy returned %s", path, response.Status)
	}

	client.logger.Info("route registered", "path", path, "target", target)
	return nil
}

// Unregister removes the route for path. absence is success: a 404 means
// the desired state (no route) already holds, which makes the call safe to
// repeat from cull and cleanout.
func (client *Client) Unregister(ctx context.Context, path string) error {
	response, err := client.request(ctx, http.MethodDelete, client.routeURL(path), nil)
	if err != nil {
		return fmt.Errorf("failed to unregister route %q: %w", path, err)
	}
	defer drainAndClose(response)

	if response.StatusCode >= 300 && response.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to unregister route %q: proxy returned %s", path, response.Status)
	}

	client.logger.Info("route unregistered", "path", path)
	return nil
}

// Routes fetches the proxy's full routing table keyed by path.
func (client *Client) Routes(ctx context.Context) (map[string]Route, error) {
	response, err := client.request(ctx, http.MethodGet, client.endpoint+"/api/routes", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer drainAndClose(response)

	if response.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to list routes: proxy returned %s", response.Status)
	}

	routes := make(map[string]Route)
	if err := json.NewDecoder(response.Body).Decode(&routes); err != nil {
		return nil, fmt.Errorf("failed to decode route table: %w", err)
	}
	return routes, nil
}

// routeURL builds the management URL for one path. paths always start with
// "/", so concatenation onto ".../api/routes" yields ".../api/routes/<p>".
func (client *Client) routeURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return client.endpoint + "/api/routes" + path
}

func (client *Client) request(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "token "+client.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return client.http.Do(request)
}

// drainAndClose consumes whatever is left of a response body before
// closing it, so the underlying connection goes back into the client's
// keep-alive pool instead of being torn down.
func drainAndClose(response *http.Response) {
	io.Copy(io.Discard, response.Body) // nolint:errcheck
	response.Body.Close()
}
