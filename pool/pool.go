/*
Package pool implements the spawn pool: the concurrent structure that keeps
a target number of ready containers available, hands one to each arriving
user, and reclaims containers when they go idle or age out.

The pool drives two external collaborators, the Docker daemon and the
routing proxy, through the narrow gateway interfaces declared below. All
pool state (the available queue, the claimed index, the in-flight birth
count) is mutated under one mutex; daemon and proxy calls are issued
outside the lock and re-acquire it only to commit their result.
*/
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sasta-kro/tmpool/docker"
	"github.com/sasta-kro/tmpool/models"
	"github.com/sasta-kro/tmpool/proxy"
)

// ErrEmptyPool is returned by Acquire when no container is immediately
// available. it is the only error the pool surfaces to callers; everything
// else is absorbed, logged, and healed by a later heartbeat.
var ErrEmptyPool = errors.New("the container pool is empty")

// DockerGateway is the slice of the docker package the pool drives.
// consuming an interface instead of the concrete gateway keeps the pool
// testable without a daemon.
type DockerGateway interface {
	Launch(ctx context.Context, request docker.LaunchRequest) (docker.Endpoint, error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	ListPool(ctx context.Context, poolRegex *regexp.Regexp) ([]docker.Summary, error)
}

// ProxyGateway is the slice of the proxy package the pool drives.
type ProxyGateway interface {
	Register(ctx context.Context, path, target, containerID string) error
	Unregister(ctx context.Context, path string) error
	Routes(ctx context.Context) (map[string]proxy.Route, error)
}

// EventJournal receives lifecycle events. the db package implements it;
// a nil journal disables journaling.
type EventJournal interface {
	RecordEvent(event models.PoolEvent)
}

// Settings is the static configuration of one pool.
type Settings struct {
	// Capacity is the target number of available containers
	Capacity int

	// PoolName is the fragment identifying this pool's containers: part of
	// every container name and of every path prefix
	PoolName string

	// MaxIdle culls a container whose last observed activity is older
	MaxIdle time.Duration

	// MaxAge culls a container regardless of activity
	MaxAge time.Duration

	// UserLength is the length of the random path segment per container
	UserLength int

	// UseTokens issues a per-container auth token
	UseTokens bool

	// ProbeTimeout bounds the post-launch readiness probe. zero means the
	// default of ten seconds.
	ProbeTimeout time.Duration
}

// probeFunc checks whether a freshly started upstream answers HTTP yet.
// swapped out in tests.
type probeFunc func(ctx context.Context, endpoint docker.Endpoint, path string) error

// Pool is the spawn pool. construct with New; all methods are safe for
// concurrent use.
type Pool struct {
	settings Settings
	docker   DockerGateway
	proxy    ProxyGateway
	journal  EventJournal
	logger   *slog.Logger
	metrics  *Metrics
	probe    probeFunc

	// nameRegex matches this pool's container names in daemon listings
	nameRegex *regexp.Regexp

	mu sync.Mutex

	// available is the FIFO hand-out queue: enqueue at the tail, pop at
	// the head, so the oldest ready container goes out first and no slot
	// sits warm longer than it has to
	available []*models.Container

	// claimed indexes handed-out containers by path. needed so the
	// heartbeat can age-cull containers the pool no longer queues.
	claimed map[string]*models.Container

	// inFlight counts births between launch and enqueue/unwind
	inFlight int

	// births lets shutdown wait for in-flight launches to settle
	births sync.WaitGroup
}

// New constructs a pool around the given gateways. journal may be nil.
// registerer receives the pool's prometheus instruments; pass a fresh
// registry per pool.
func New(
	settings Settings,
	dockerGateway DockerGateway,
	proxyGateway ProxyGateway,
	journal EventJournal,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) *Pool {
	if settings.ProbeTimeout == 0 {
		settings.ProbeTimeout = 10 * time.Second
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	pool := &Pool{
		settings: settings,
		docker:   dockerGateway,
		proxy:    proxyGateway,
		journal:  journal,
		logger:   logger,
		metrics:  NewMetrics(registerer),
		claimed:  make(map[string]*models.Container),
		// container names come back from the daemon with a leading slash;
		// anchoring on it keeps "mypool-x" from matching "notmypool-x"
		nameRegex: regexp.MustCompile("(^|/)" + regexp.QuoteMeta(settings.PoolName) + "-"),
	}
	pool.probe = pool.defaultProbe
	return pool
}

// Acquire removes and returns the head of the available queue. it never
// waits: an empty queue fails fast with ErrEmptyPool so the caller can
// tell the user to come back, and a background replenish is scheduled so
// the queue trends back toward capacity. two concurrent acquires can never
// see the same container because the pop happens under the mutex.
func (pool *Pool) Acquire() (models.Container, error) {
	pool.mu.Lock()
	if len(pool.available) == 0 {
		pool.mu.Unlock()
		pool.metrics.EmptyAcquires.Inc()
		return models.Container{}, ErrEmptyPool
	}

	record := pool.available[0]
	pool.available = pool.available[1:]
	pool.claimed[record.Path] = record
	pool.mu.Unlock()

	pool.metrics.Available.Dec()
	pool.metrics.Acquires.Inc()
	pool.record(models.PoolEvent{
		ContainerID: record.ID,
		Path:        record.Path,
		Event:       models.StatusClaimed,
	})
	pool.logger.Info("container acquired from the pool",
		"container_id", shortID(record.ID),
		"path", record.Path,
	)

	// the user is redirected immediately; the replacement container is
	// born in the background. acquisition never blocks on a birth.
	go pool.Replenish()

	return *record, nil
}

// Stats is a point-in-time snapshot for the admin API.
type Stats struct {
	Capacity       int `json:"capacity"`
	Available      int `json:"available"`
	Claimed        int `json:"claimed"`
	InFlightBirths int `json:"in_flight_births"`
}

// Snapshot reports the pool's current occupancy.
func (pool *Pool) Snapshot() Stats {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return Stats{
		Capacity:       pool.settings.Capacity,
		Available:      len(pool.available),
		Claimed:        len(pool.claimed),
		InFlightBirths: pool.inFlight,
	}
}

// DrainBirths blocks until every in-flight birth has either enqueued its
// container or unwound. called on shutdown before the final cleanout so
// no launch races the teardown.
func (pool *Pool) DrainBirths() {
	pool.births.Wait()
}

// pathPrefix is the prefix every path of this pool starts with.
func (pool *Pool) pathPrefix() string {
	return "/" + pool.settings.PoolName + "/"
}

// pathInUse reports whether a path is currently queued or handed out.
// callers hold the mutex.
func (pool *Pool) pathInUse(path string) bool {
	if _, ok := pool.claimed[path]; ok {
		return true
	}
	for _, record := range pool.available {
		if record.Path == path {
			return true
		}
	}
	return false
}

// record forwards an event to the journal when one is attached.
func (pool *Pool) record(event models.PoolEvent) {
	if pool.journal != nil {
		pool.journal.RecordEvent(event)
	}
}

func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}

// target builds the upstream URL the proxy forwards a path to.
func target(endpoint docker.Endpoint) string {
	return fmt.Sprintf("http://%s:%d", endpoint.Host, endpoint.Port)
}
