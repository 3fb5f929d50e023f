// Package docker wraps the Docker SDK client and provides the operations
// the pool needs: launching pooled containers, stopping and removing them,
// listing the pool's containers on the daemon, and copying files out of an
// image. all Docker SDK calls are isolated here so no other package imports
// the Docker SDK directly. if the Docker interaction strategy changes
// (eg, switching from the SDK to raw socket calls), only this package changes.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	dockerSDKclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-units"
)

// Retries is the number of additional attempts made after a failed daemon
// call before the error is handed back to the caller. transport errors and
// daemon-side 5xx responses are retried; a 4xx-class error fails
// immediately because repeating a rejected request cannot succeed.
const Retries = 1

// Gateway wraps the Docker SDK client with a logger, a bounded worker
// budget, and the per-container launch spec. the SDK client itself manages
// the connection to the Docker daemon; it is safe to share a single Gateway
// across goroutines because the SDK handles concurrency internally and the
// worker slots serialize access beyond the configured budget.
type Gateway struct {
	sdk    *dockerSDKclient.Client
	logger *slog.Logger

	// slots is a counting semaphore bounding concurrent daemon calls.
	// every daemon call acquires a slot first, so a burst of births can
	// never open more than cap(slots) simultaneous requests against the
	// daemon. saturation delays callers, it never drops work.
	slots chan struct{}

	spec Spec

	// nextHostPort assigns upstream ports when the containers share the
	// host network and the daemon therefore cannot assign one.
	portMu       sync.Mutex
	nextHostPort int
}

// Spec carries the static portion of every container launch: everything
// that is the same for each pooled container. the per-launch parts (name,
// path, token) travel in LaunchRequest.
type Spec struct {
	// Image is the image every pooled container runs
	Image string

	// Command is the raw command template; {base_path}, {port}, {ip} and
	// {token} are substituted per launch
	Command string

	// ContainerIP is the host interface published ports bind to, or the
	// bind address of the upstream itself under HostNetwork
	ContainerIP string

	// ContainerPort is the port the upstream listens on inside the
	// container. under HostNetwork it is the first port of the range
	// handed to successive containers.
	ContainerPort int

	// User, when set, overrides the image's default user
	User string

	// MemLimit is a Docker size string ("512m"); parsed once in New
	MemLimit string

	// CPUShares and CPUQuota are forwarded to the daemon when non-zero
	CPUShares int64
	CPUQuota  int64

	// HostNetwork switches containers onto the host network
	HostNetwork bool

	// DockerNetwork, when set, attaches containers to the named network
	// at creation time
	DockerNetwork string

	// HostDirectories are "src:dst[:mode]" bind mounts applied to every
	// container
	HostDirectories []string

	// ExtraHosts are "hostname:ip" /etc/hosts entries for every container
	ExtraHosts []string

	// Version is the daemon API version, "auto" to negotiate
	Version string

	// AssertHostname is accepted for command-line compatibility; the Go
	// SDK drives TLS verification from the DOCKER_* environment variables,
	// so a true value only produces a startup notice
	AssertHostname bool

	// memLimitBytes is the parsed MemLimit, filled in by New
	memLimitBytes int64
}

// NewGateway connects to the Docker daemon, verifies the connection with a
// ping, and returns a Gateway ready for use. returning an error here causes
// main to exit immediately: if the daemon is unreachable at startup, the
// pool cannot function.
func NewGateway(logger *slog.Logger, spec Spec, maxWorkers int) (*Gateway, error) {
	// client.FromEnv reads DOCKER_HOST, DOCKER_TLS_VERIFY and
	// DOCKER_CERT_PATH from the environment and falls back to the default
	// unix socket when they are not set. version negotiation is only
	// enabled for the "auto" sentinel; a pinned version is passed through
	// so the daemon rejects calls it does not support instead of silently
	// downgrading.
	options := []dockerSDKclient.Opt{dockerSDKclient.FromEnv}
	if spec.Version == "" || spec.Version == "auto" {
		options = append(options, dockerSDKclient.WithAPIVersionNegotiation())
	} else {
		options = append(options, dockerSDKclient.WithVersion(spec.Version))
	}

	sdkClient, err := dockerSDKclient.NewClientWithOpts(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker sdk client: %w", err)
	}

	if spec.AssertHostname && os.Getenv("DOCKER_TLS_VERIFY") == "" {
		logger.Warn("assert_hostname is set but DOCKER_TLS_VERIFY is not; " +
			"the SDK takes TLS settings from the environment, the flag has no effect")
	}

	if spec.MemLimit != "" {
		// units.RAMInBytes understands the same size notation the Docker
		// CLI does ("512m", "2g"), including binary suffixes.
		memLimitBytes, err := units.RAMInBytes(spec.MemLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid mem limit %q: %w", spec.MemLimit, err)
		}
		spec.memLimitBytes = memLimitBytes
	}

	if maxWorkers < 1 {
		maxWorkers = 1
	}

	gateway := &Gateway{
		sdk:          sdkClient,
		logger:       logger,
		slots:        make(chan struct{}, maxWorkers),
		spec:         spec,
		nextHostPort: spec.ContainerPort,
	}

	// ping the daemon immediately to fail fast if Docker is not running.
	// a 5-second timeout is enough for a local socket response; if this
	// times out, Docker is either not running or the socket path is wrong.
	pingContext, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()

	if _, err := sdkClient.Ping(pingContext); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	logger.Info("docker client connected",
		"host", sdkClient.DaemonHost(),
		"workers", maxWorkers,
	)
	return gateway, nil
}

// Close releases the underlying Docker SDK client connection.
// deferred in main immediately after NewGateway returns successfully.
func (gateway *Gateway) Close() error {
	return gateway.sdk.Close()
}

// do runs one daemon call inside a worker slot. the slot is held for the
// full duration of the call, so cap(slots) bounds daemon concurrency
// process-wide: births and culls share the same budget.
func (gateway *Gateway) do(ctx context.Context, fn func() error) error {
	select {
	case gateway.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-gateway.slots }()
	return fn()
}

// withRetries attempts a daemon call, retrying up to `tries` additional
// times on retryable errors. the retry count belongs to the call, not to
// the gateway, so composite operations choose their own tolerance.
func (gateway *Gateway) withRetries(ctx context.Context, operation string, tries int, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := gateway.do(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= tries {
			return err
		}
		gateway.logger.Error("docker call failed, retrying",
			"operation", operation,
			"retries_remaining", tries-attempt,
			"error", err,
		)
	}
}

// retryable reports whether a failed daemon call is worth repeating.
// 4xx-class daemon responses describe a request the daemon has already
// rejected; sending it again produces the same answer. everything else
// (socket errors, connection failures, daemon 5xx) may be transient.
func retryable(err error) bool {
	switch {
	case errdefs.IsNotFound(err),
		errdefs.IsConflict(err),
		errdefs.IsInvalidParameter(err),
		errdefs.IsUnauthorized(err),
		errdefs.IsForbidden(err):
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
