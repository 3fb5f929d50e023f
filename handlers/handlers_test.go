package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/tmpool/config"
	"github.com/sasta-kro/tmpool/models"
	"github.com/sasta-kro/tmpool/pool"
)

// fakePool hands out a scripted sequence of containers, then reports
// empty. implements ContainerPool.
type fakePool struct {
	mu         sync.Mutex
	containers []models.Container
	acquires   int
}

func (fake *fakePool) Acquire() (models.Container, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.acquires++
	if len(fake.containers) == 0 {
		return models.Container{}, pool.ErrEmptyPool
	}
	container := fake.containers[0]
	fake.containers = fake.containers[1:]
	return container, nil
}

func (fake *fakePool) Snapshot() pool.Stats {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return pool.Stats{Capacity: 2, Available: len(fake.containers)}
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		RedirectURI: "/tree",
		CullPeriod:  300,
	}
}

func newPublicServer(t *testing.T, appConfig *config.AppConfig, containerPool ContainerPool) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := CreatePublicRouter(RouterDependencies{
		Logger: logger,
		Config: appConfig,
		Pool:   containerPool,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

// noRedirects returns a client that reports redirects instead of following
// them, so Location headers can be asserted.
func noRedirects() *http.Client {
	return &http.Client{
		CheckRedirect: func(request *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestSpawnRedirectsIntoContainer(t *testing.T) {
	containerPool := &fakePool{containers: []models.Container{
		{ID: "c1", Path: "/testpool/abcdefabcdef", Host: "127.0.0.1", Port: 32001},
	}}
	server := newPublicServer(t, testConfig(), containerPool)

	response, err := noRedirects().Get(server.URL + "/spawn")
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusFound, response.StatusCode)
	assert.Equal(t, "/testpool/abcdefabcdef/tree", response.Header.Get("Location"))
}

func TestSpawnCarriesRequestedPathThrough(t *testing.T) {
	containerPool := &fakePool{containers: []models.Container{
		{ID: "c1", Path: "/testpool/abcdefabcdef"},
	}}
	server := newPublicServer(t, testConfig(), containerPool)

	response, err := noRedirects().Get(server.URL + "/spawn/notebooks/Welcome.ipynb")
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusFound, response.StatusCode)
	assert.Equal(t, "/testpool/abcdefabcdef/notebooks/Welcome.ipynb", response.Header.Get("Location"))
}

func TestSpawnAppendsToken(t *testing.T) {
	containerPool := &fakePool{containers: []models.Container{
		{ID: "c1", Path: "/testpool/abcdefabcdef", Token: "aaaabbbbccccddddeeeeffff000011112222333344445555"},
	}}
	server := newPublicServer(t, testConfig(), containerPool)

	response, err := noRedirects().Get(server.URL + "/spawn")
	require.NoError(t, err)
	defer response.Body.Close()

	location := response.Header.Get("Location")
	assert.Regexp(t, `^/testpool/abcdefabcdef/tree\?token=[0-9a-f]{48}$`, location)
}

func TestSpawnPoolFullRendersRetryPage(t *testing.T) {
	server := newPublicServer(t, testConfig(), &fakePool{})

	response, err := noRedirects().Get(server.URL + "/spawn")
	require.NoError(t, err)
	defer response.Body.Close()

	// the full page is a 200 so browsers show it instead of an error
	// screen, and it names the cull period as a retry hint
	assert.Equal(t, http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "All servers are in use")
	assert.Contains(t, string(body), "300 seconds")
}

func TestAPISpawnReturnsContainerURL(t *testing.T) {
	containerPool := &fakePool{containers: []models.Container{
		{ID: "c1", Path: "/testpool/abcdefabcdef", Token: "deadbeef"},
	}}
	server := newPublicServer(t, testConfig(), containerPool)

	response, err := http.Post(server.URL+"/api/spawn", "application/json", nil)
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusOK, response.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(response.Body).Decode(&payload))
	assert.Equal(t, "/testpool/abcdefabcdef?token=deadbeef", payload["url"])
}

func TestAPISpawnPoolFullReturns429(t *testing.T) {
	server := newPublicServer(t, testConfig(), &fakePool{})

	response, err := http.Post(server.URL+"/api/spawn", "application/json", nil)
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, response.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(response.Body).Decode(&payload))
	assert.Equal(t, "full", payload["status"])
}

func TestAPISpawnTokenAuth(t *testing.T) {
	appConfig := testConfig()
	appConfig.APIToken = "api-secret"
	containerPool := &fakePool{containers: []models.Container{{ID: "c1", Path: "/testpool/x"}}}
	server := newPublicServer(t, appConfig, containerPool)

	// missing token
	response, err := http.Post(server.URL+"/api/spawn", "application/json", nil)
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusForbidden, response.StatusCode)

	// wrong token
	request, _ := http.NewRequest(http.MethodPost, server.URL+"/api/spawn", nil)
	request.Header.Set("Authorization", "token wrong")
	response, err = http.DefaultClient.Do(request)
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusForbidden, response.StatusCode)

	// right token
	request, _ = http.NewRequest(http.MethodPost, server.URL+"/api/spawn", nil)
	request.Header.Set("Authorization", "token api-secret")
	response, err = http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestLoadingPageIsTheCatchAll(t *testing.T) {
	server := newPublicServer(t, testConfig(), &fakePool{})

	for _, path := range []string{"/", "/testpool/abcdefabcdef/tree"} {
		response, err := http.Get(server.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(response.Body)
		response.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode, "path %s", path)
		assert.Contains(t, string(body), "starting up", "path %s", path)
	}
}

func TestCORSHeadersFollowConfiguration(t *testing.T) {
	appConfig := testConfig()
	appConfig.AllowOrigin = "*"
	appConfig.AllowMethods = "GET, POST, OPTIONS"
	server := newPublicServer(t, appConfig, &fakePool{})

	response, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	response.Body.Close()

	assert.Equal(t, "*", response.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", response.Header.Get("Access-Control-Allow-Methods"))
	// unconfigured headers are never emitted
	assert.Empty(t, response.Header.Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, response.Header.Get("Access-Control-Max-Age"))
}

func TestCORSPreflight(t *testing.T) {
	appConfig := testConfig()
	appConfig.AllowOrigin = "https://app.example.com"
	server := newPublicServer(t, appConfig, &fakePool{})

	request, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/spawn", nil)
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	response.Body.Close()

	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	assert.Equal(t, "https://app.example.com", response.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthEndpoint(t *testing.T) {
	server := newPublicServer(t, testConfig(), &fakePool{})

	response, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusOK, response.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(response.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
}

// fakeEvents implements EventLister.
type fakeEvents struct {
	rows []models.PoolEvent
}

func (fake *fakeEvents) ListEvents(limit int) ([]models.PoolEvent, error) {
	if limit < len(fake.rows) {
		return fake.rows[:limit], nil
	}
	return fake.rows, nil
}

func newAdminServer(t *testing.T, containerPool ContainerPool, events EventLister) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := CreateAdminRouter(RouterDependencies{
		Logger:   logger,
		Config:   testConfig(),
		Pool:     containerPool,
		Events:   events,
		Registry: prometheus.NewRegistry(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestAdminPoolStats(t *testing.T) {
	containerPool := &fakePool{containers: []models.Container{{ID: "c1"}, {ID: "c2"}}}
	server := newAdminServer(t, containerPool, nil)

	response, err := http.Get(server.URL + "/api/pool")
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusOK, response.StatusCode)
	var stats pool.Stats
	require.NoError(t, json.NewDecoder(response.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 2, stats.Available)
}

func TestAdminEvents(t *testing.T) {
	events := &fakeEvents{rows: []models.PoolEvent{
		{ID: "1", Event: models.StatusAvailable},
		{ID: "2", Event: models.StatusClaimed},
		{ID: "3", Event: models.StatusCulled},
	}}
	server := newAdminServer(t, &fakePool{}, events)

	response, err := http.Get(server.URL + "/api/events?limit=2")
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusOK, response.StatusCode)
	var rows []models.PoolEvent
	require.NoError(t, json.NewDecoder(response.Body).Decode(&rows))
	assert.Len(t, rows, 2)

	// a bad limit is rejected with the uniform status body
	response, err = http.Get(server.URL + "/api/events?limit=zero")
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestAdminEventsWithoutJournal(t *testing.T) {
	server := newAdminServer(t, &fakePool{}, nil)

	response, err := http.Get(server.URL + "/api/events")
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestAdminMetricsExposed(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tmpool_available_containers", Help: "x"})
	registry.MustRegister(gauge)
	gauge.Set(2)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := CreateAdminRouter(RouterDependencies{
		Logger:   logger,
		Config:   testConfig(),
		Pool:     &fakePool{},
		Registry: registry,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tmpool_available_containers 2")
}
