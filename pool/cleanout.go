package pool

import (
	"context"
	"strings"
	"sync"

	"github.com/sasta-kro/tmpool/models"
)

// Cleanout wipes every trace of this pool from the daemon and the proxy:
// all containers whose name matches the pool regex are stopped and
// removed, and every route under the pool's path prefix is unregistered.
//
// run at startup and at shutdown. a container surviving from a previous
// process cannot be re-adopted: its token was never persisted and the
// daemon name does not identify the proxy path it was serving, so the only
// safe reconciliation is a fresh start. the caller follows a startup
// cleanout with one heartbeat to fill the queue.
//
// the operation is idempotent: absent containers and absent routes are
// already in the desired state.
func (pool *Pool) Cleanout(ctx context.Context) {
	pool.logger.Info("cleaning out pool containers and routes", "pool_name", pool.settings.PoolName)

	summaries, err := pool.docker.ListPool(ctx, pool.nameRegex)
	if err != nil {
		pool.logger.Error("cleanout could not list containers", "error", err)
	} else {
		var teardowns sync.WaitGroup
		for _, summary := range summaries {
			teardowns.Add(1)
			go func(containerID string) {
				defer teardowns.Done()
				if err := pool.docker.Stop(ctx, containerID); err != nil {
					pool.logger.Error("cleanout failed to stop container",
						"container_id", shortID(containerID), "error", err)
				}
				if err := pool.docker.Remove(ctx, containerID); err != nil {
					pool.logger.Error("cleanout failed to remove container",
						"container_id", shortID(containerID), "error", err)
					return
				}
				pool.logger.Info("cleanout removed container", "container_id", shortID(containerID))
			}(summary.ID)
		}
		teardowns.Wait()
	}

	routes, err := pool.proxy.Routes(ctx)
	if err != nil {
		pool.logger.Error("cleanout could not list routes", "error", err)
	} else {
		for path := range routes {
			if !strings.HasPrefix(path, pool.pathPrefix()) {
				continue
			}
			if err := pool.proxy.Unregister(ctx, path); err != nil {
				pool.logger.Error("cleanout failed to unregister route", "path", path, "error", err)
			}
		}
	}

	// whatever the pool believed it had is gone now; reset the books so
	// the next heartbeat computes a full deficit.
	pool.mu.Lock()
	dropped := len(pool.available)
	pool.available = nil
	pool.claimed = make(map[string]*models.Container)
	pool.mu.Unlock()

	pool.metrics.Available.Sub(float64(dropped))
}
