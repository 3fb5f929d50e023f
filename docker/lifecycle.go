package docker

import (
	"context"
	"fmt"
	"regexp"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
)

// Stop sends SIGTERM to the container process, giving it time to shut down
// gracefully; if it does not exit within the timeout, Docker sends SIGKILL.
// 10 seconds is generous for a single-user notebook process. stopping a
// container that is already gone is treated as success: the desired state
// is satisfied.
func (gateway *Gateway) Stop(ctx context.Context, containerID string) error {
	stopTimeout := 10
	err := gateway.withRetries(ctx, "stop", Retries, func() error {
		return gateway.sdk.ContainerStop(ctx, containerID, container.StopOptions{
			Timeout: &stopTimeout,
		})
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %q: %w", shortID(containerID), err)
	}
	return nil
}

// Remove deletes the container and its writable layer. Force covers the
// case where a stop was skipped or failed: cull and cleanout both want the
// container gone regardless of what state it is in.
func (gateway *Gateway) Remove(ctx context.Context, containerID string) error {
	err := gateway.withRetries(ctx, "remove", Retries, func() error {
		return gateway.sdk.ContainerRemove(ctx, containerID, container.RemoveOptions{
			RemoveVolumes: false,
			Force:         true,
		})
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %q: %w", shortID(containerID), err)
	}
	return nil
}

// StopAndRemove runs the two teardown steps in order, proceeding to the
// removal even when the stop failed, so a wedged process cannot pin its
// container on the daemon.
func (gateway *Gateway) StopAndRemove(ctx context.Context, containerID string) error {
	stopErr := gateway.Stop(ctx, containerID)
	removeErr := gateway.Remove(ctx, containerID)
	if removeErr != nil {
		return removeErr
	}
	return stopErr
}

// ListPool returns every container on the daemon, running or not, whose
// name matches the pool regex. the daemon has been observed returning
// entries with null Names; those are logged and skipped rather than
// crashing a reconcile pass.
func (gateway *Gateway) ListPool(ctx context.Context, poolRegex *regexp.Regexp) ([]Summary, error) {
	var listed []container.Summary
	err := gateway.withRetries(ctx, "list", Retries, func() error {
		var listErr error
		listed, listErr = gateway.sdk.ContainerList(ctx, container.ListOptions{All: true})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	matching := make([]Summary, 0, len(listed))
	for _, candidate := range listed {
		if candidate.Names == nil {
			gateway.logger.Warn("docker returned a container with null names, ignoring",
				"container_id", shortID(candidate.ID),
			)
			continue
		}
		for _, name := range candidate.Names {
			if poolRegex.MatchString(name) {
				matching = append(matching, Summary{ID: candidate.ID, Names: candidate.Names})
				break
			}
		}
	}
	return matching, nil
}
