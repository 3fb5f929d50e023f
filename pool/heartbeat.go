package pool

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sasta-kro/tmpool/models"
	"github.com/sasta-kro/tmpool/proxy"
)

// Run drives the heartbeat until ctx is canceled. the timer is re-armed
// after each heartbeat completes rather than ticking on the wall clock, so
// heartbeats can never overlap no matter how slow the daemon is.
func (pool *Pool) Run(ctx context.Context, period time.Duration) {
	pool.logger.Info("heartbeat loop started",
		"period", period.String(),
		"max_idle", pool.settings.MaxIdle.String(),
		"max_age", pool.settings.MaxAge.String(),
	)

	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pool.logger.Info("heartbeat loop stopped")
			return
		case <-timer.C:
			// one heartbeat gets at most one period; a daemon that hangs
			// longer forfeits the rest of this beat, not the loop.
			beatCtx, cancel := context.WithTimeout(ctx, period)
			pool.Heartbeat(beatCtx)
			cancel()
			timer.Reset(period)
		}
	}
}

// Heartbeat is the periodic observe → cull → replenish cycle. each phase
// sees the results of the one before it: observation refreshes activity
// before culling judges it, and culls free slots before the deficit is
// computed. infrastructure errors end a phase, never the process.
func (pool *Pool) Heartbeat(ctx context.Context) {
	routes, err := pool.proxy.Routes(ctx)
	if err != nil {
		// without the route table there is no activity data, and culling
		// on stale knowledge would kill busy containers. skip straight to
		// replenishment, which does not need the route table (each birth
		// registers its own route).
		pool.logger.Error("proxy unreachable, skipping observe and cull phases", "error", err)
		pool.Replenish()
		return
	}

	pool.observe(routes)
	pool.cull(ctx, routes)
	pool.Replenish()
}

// observe folds the proxy's activity observations into the pool's records.
// activity only ever moves forward; a proxy restart that forgets activity
// must not make containers look younger than the pool knows they are.
func (pool *Pool) observe(routes map[string]proxy.Route) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	refresh := func(record *models.Container) {
		route, ok := routes[record.Path]
		if !ok || route.LastActivity == nil {
			return
		}
		if route.LastActivity.After(record.LastActivity) {
			record.LastActivity = *route.LastActivity
		}
	}

	for _, record := range pool.available {
		refresh(record)
	}
	for _, record := range pool.claimed {
		refresh(record)
	}
}

// cullCandidate is one container scheduled for removal, detached from pool
// state before the slow teardown calls begin.
type cullCandidate struct {
	containerID string
	path        string
}

// cull removes every container that has been idle past MaxIdle or alive
// past MaxAge. candidates are unlinked from pool state under the mutex
// first, so a container being culled can no longer be handed out; the
// actual teardowns then run concurrently outside the lock.
func (pool *Pool) cull(ctx context.Context, routes map[string]proxy.Route) {
	now := time.Now()

	pool.mu.Lock()
	var candidates []cullCandidate

	// available containers: full records, both thresholds apply.
	kept := pool.available[:0]
	for _, record := range pool.available {
		if pool.cullable(now, record.CreatedAt, record.LastActivity) {
			candidates = append(candidates, cullCandidate{containerID: record.ID, path: record.Path})
			continue
		}
		kept = append(kept, record)
	}
	removedFromQueue := len(pool.available) - len(kept)
	pool.available = kept

	// claimed containers: the user may be long gone; the proxy's activity
	// view decides.
	for path, record := range pool.claimed {
		if pool.cullable(now, record.CreatedAt, record.LastActivity) {
			candidates = append(candidates, cullCandidate{containerID: record.ID, path: record.Path})
			delete(pool.claimed, path)
		}
	}

	// orphan routes: paths under this pool's prefix that no record claims,
	// left over from a crash or an out-of-band removal. with observed
	// activity they are culled like anything else; without any, their age
	// is unknowable and the entry is left for a later beat to judge.
	for path, route := range routes {
		if !strings.HasPrefix(path, pool.pathPrefix()) || pool.pathInUse(path) {
			continue
		}
		alreadyCandidate := false
		for _, candidate := range candidates {
			if candidate.path == path {
				alreadyCandidate = true
				break
			}
		}
		if alreadyCandidate {
			continue
		}
		if route.LastActivity != nil && now.Sub(*route.LastActivity) >= pool.settings.MaxIdle {
			candidates = append(candidates, cullCandidate{containerID: route.ContainerID, path: path})
		}
	}
	pool.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	pool.metrics.Available.Sub(float64(removedFromQueue))
	pool.logger.Info("culling containers", "count", len(candidates))

	var teardowns sync.WaitGroup
	for _, candidate := range candidates {
		teardowns.Add(1)
		go func(candidate cullCandidate) {
			defer teardowns.Done()
			pool.teardown(ctx, candidate)
		}(candidate)
	}
	teardowns.Wait()
}

// cullable is the removal predicate: too idle or too old. a container
// whose activity was never observed carries its creation time as
// LastActivity, so "never observed" reads as fresh rather than ancient.
func (pool *Pool) cullable(now, createdAt, lastActivity time.Time) bool {
	if pool.settings.MaxIdle > 0 && now.Sub(lastActivity) >= pool.settings.MaxIdle {
		return true
	}
	if pool.settings.MaxAge > 0 && now.Sub(createdAt) >= pool.settings.MaxAge {
		return true
	}
	return false
}

// teardown walks one container through route removal, stop, and removal.
// every step is attempted even when an earlier one fails: a dead proxy
// must not pin containers on the daemon, and a wedged container must not
// pin its route in the proxy.
func (pool *Pool) teardown(ctx context.Context, candidate cullCandidate) {
	var failures []string

	if candidate.path != "" {
		if err := pool.proxy.Unregister(ctx, candidate.path); err != nil {
			failures = append(failures, "unregister: "+err.Error())
			pool.logger.Error("failed to unregister route during cull",
				"path", candidate.path, "error", err)
		}
	}
	if candidate.containerID != "" {
		if err := pool.docker.Stop(ctx, candidate.containerID); err != nil {
			failures = append(failures, "stop: "+err.Error())
			pool.logger.Error("failed to stop container during cull",
				"container_id", shortID(candidate.containerID), "error", err)
		}
		if err := pool.docker.Remove(ctx, candidate.containerID); err != nil {
			failures = append(failures, "remove: "+err.Error())
			pool.logger.Error("failed to remove container during cull",
				"container_id", shortID(candidate.containerID), "error", err)
		}
	}

	pool.metrics.Culls.Inc()
	if len(failures) > 0 {
		pool.record(models.PoolEvent{
			ContainerID: candidate.containerID,
			Path:        candidate.path,
			Event:       models.EventCullPartial,
			Detail:      strings.Join(failures, "; "),
		})
		return
	}

	pool.record(models.PoolEvent{
		ContainerID: candidate.containerID,
		Path:        candidate.path,
		Event:       models.StatusCulled,
	})
	pool.logger.Info("container culled",
		"container_id", shortID(candidate.containerID),
		"path", candidate.path,
	)
}
