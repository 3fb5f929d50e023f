package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sasta-kro/tmpool/docker"
	"github.com/sasta-kro/tmpool/models"
	"github.com/sasta-kro/tmpool/proxy"
	"github.com/sasta-kro/tmpool/util"
)

// birthTimeout bounds one birth end to end: create, start, route
// registration, and the readiness probe, including the retry after a path
// conflict, which shares the same deadline. births deliberately run on
// their own context rather than the heartbeat's, so a shutdown lets them
// finish instead of stranding a half-created container.
const birthTimeout = 2 * time.Minute

// Replenish computes the current deficit and launches that many births
// concurrently. the deficit counts in-flight births, so the sum of queued
// and in-flight containers never exceeds capacity no matter how many
// callers replenish at once. daemon concurrency is bounded further down by
// the docker gateway's worker slots.
//
// births run on their own contexts rather than the caller's: a birth that
// began must finish or unwind even when the heartbeat that started it is
// long over.
func (pool *Pool) Replenish() {
	pool.mu.Lock()
	deficit := pool.settings.Capacity - len(pool.available) - pool.inFlight
	if deficit <= 0 {
		pool.mu.Unlock()
		return
	}
	pool.inFlight += deficit
	pool.births.Add(deficit)
	pool.mu.Unlock()

	pool.metrics.InFlightBirths.Add(float64(deficit))
	pool.logger.Info("replenishing the pool", "births", deficit)

	for i := 0; i < deficit; i++ {
		go pool.birth()
	}
}

// birth runs one launch attempt to completion and settles the in-flight
// accounting no matter how the attempt ends. a failed birth does not
// shrink capacity: the slot is simply free again and the next heartbeat
// retries.
func (pool *Pool) birth() {
	defer pool.births.Done()
	defer func() {
		pool.mu.Lock()
		pool.inFlight--
		pool.mu.Unlock()
		pool.metrics.InFlightBirths.Dec()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), birthTimeout)
	defer cancel()

	// a path collision at the proxy means another party (or a leftover
	// route) already owns the generated suffix; one retry with a fresh
	// suffix covers it. anything rarer is left to the next heartbeat.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var record *models.Container
		record, err = pool.launchOne(ctx)
		if err == nil {
			pool.enqueue(record)
			return
		}
		if !errors.Is(err, proxy.ErrRouteConflict) {
			break
		}
		pool.logger.Warn("path conflict at the proxy, retrying with a new suffix", "error", err)
	}

	pool.metrics.BirthFailures.Inc()
	pool.record(models.PoolEvent{
		Event:  models.EventBirthFailed,
		Detail: err.Error(),
	})
	pool.logger.Error("container birth failed", "error", err)
}

// launchOne performs the birth sequence: path, token, container, route,
// readiness. on any failure the earlier steps are unwound (stop+remove,
// unregister) before the error is returned, so a failed launch leaves
// neither a stray container nor a dangling route behind.
func (pool *Pool) launchOne(ctx context.Context) (*models.Container, error) {
	suffix := util.RandomSuffix(pool.settings.UserLength)
	path := pool.pathPrefix() + suffix

	// the suffix space is large enough that an in-process collision is
	// nearly impossible, but a second draw is cheaper than reasoning
	// about the race.
	pool.mu.Lock()
	for pool.pathInUse(path) {
		suffix = util.RandomSuffix(pool.settings.UserLength)
		path = pool.pathPrefix() + suffix
	}
	pool.mu.Unlock()

	token := ""
	if pool.settings.UseTokens {
		var err error
		token, err = util.NewToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate container token: %w", err)
		}
	}

	endpoint, err := pool.docker.Launch(ctx, docker.LaunchRequest{
		Name:     pool.settings.PoolName + "-" + suffix,
		BasePath: path,
		Token:    token,
	})
	if err != nil {
		return nil, err
	}
	pool.record(models.PoolEvent{ContainerID: endpoint.ID, Path: path, Event: models.StatusCreated})

	if err := pool.proxy.Register(ctx, path, target(endpoint), endpoint.ID); err != nil {
		// the container is running but unreachable; take it down again
		// before reporting the failure.
		if stopErr := pool.docker.Stop(ctx, endpoint.ID); stopErr != nil {
			pool.logger.Error("failed to stop unrouted container", "container_id", shortID(endpoint.ID), "error", stopErr)
		}
		if removeErr := pool.docker.Remove(ctx, endpoint.ID); removeErr != nil {
			pool.logger.Error("failed to remove unrouted container", "container_id", shortID(endpoint.ID), "error", removeErr)
		}
		return nil, err
	}
	pool.record(models.PoolEvent{ContainerID: endpoint.ID, Path: path, Event: models.StatusRouted})

	// the upstream takes a moment to boot. the probe shortens the window
	// where a handed-out container still 5xxes, but the container is
	// committed either way: the proxy keeps answering 5xx until the
	// process is up, and the loading page covers the gap.
	probeCtx, cancelProbe := context.WithTimeout(ctx, pool.settings.ProbeTimeout)
	if err := pool.probe(probeCtx, endpoint, path); err != nil {
		pool.logger.Warn("upstream not confirmed ready, enqueueing anyway",
			"container_id", shortID(endpoint.ID),
			"path", path,
			"error", err,
		)
	}
	cancelProbe()
	pool.record(models.PoolEvent{ContainerID: endpoint.ID, Path: path, Event: models.StatusReady})

	now := time.Now()
	return &models.Container{
		ID:           endpoint.ID,
		Path:         path,
		Host:         endpoint.Host,
		Port:         endpoint.Port,
		Token:        token,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// enqueue commits a ready container to the tail of the FIFO queue.
func (pool *Pool) enqueue(record *models.Container) {
	pool.mu.Lock()
	pool.available = append(pool.available, record)
	queued := len(pool.available)
	pool.mu.Unlock()

	pool.metrics.Available.Inc()
	pool.metrics.Births.Inc()
	pool.record(models.PoolEvent{ContainerID: record.ID, Path: record.Path, Event: models.StatusAvailable})
	pool.logger.Info("container ready and available",
		"container_id", shortID(record.ID),
		"path", record.Path,
		"available", queued,
	)
}

// defaultProbe waits for the upstream to accept TCP, then for an HTTP
// answer on the container's base path. any HTTP status counts as alive:
// the point is to know the process is answering, not that it is happy.
func (pool *Pool) defaultProbe(ctx context.Context, endpoint docker.Endpoint, path string) error {
	address := fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port)
	url := "http://" + address + path

	dialer := &net.Dialer{Timeout: time.Second}
	client := &http.Client{Timeout: 2 * time.Second}

	const waitTime = 200 * time.Millisecond

	connected := false
	for {
		if !connected {
			connection, err := dialer.DialContext(ctx, "tcp", address)
			if err == nil {
				connection.Close()
				connected = true
				continue
			}
		} else {
			request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			response, err := client.Do(request)
			if err == nil {
				response.Body.Close()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("upstream %s did not answer before the probe deadline", address)
		case <-time.After(waitTime):
		}
	}
}
