package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// LaunchRequest carries the per-container parameters of one launch.
// Grouping them in a struct rather than as individual function arguments
// keeps the Launch signature stable as more options are added.
type LaunchRequest struct {
	// Name is the Docker container name. convention: "<pool_name>-<suffix>"
	Name string

	// BasePath is the URL prefix the upstream must serve under, rendered
	// into the command template as {base_path}
	BasePath string

	// Token is the per-container secret rendered as {token}; empty when
	// token-auth is disabled
	Token string
}

// Endpoint is the address a freshly launched container is reachable at.
type Endpoint struct {
	ID   string
	Host string
	Port int
}

// Summary describes one container found on the daemon during a list call.
type Summary struct {
	ID    string
	Names []string
}

// Launch creates and starts one pooled container and reports where it is
// reachable. the two daemon calls are coupled here because a container
// that was created but cannot start is of no use to the pool: on a start
// failure the created container is removed again before the error is
// returned, so a failed launch leaves nothing behind on the daemon.
func (gateway *Gateway) Launch(ctx context.Context, request LaunchRequest) (Endpoint, error) {
	spec := gateway.spec

	// under host networking there is no daemon port assignment: every
	// container binds the host interface directly, so each launch takes
	// the next port of the configured range and renders it into the
	// command. on the default bridge the daemon assigns the host port and
	// the command keeps the in-container port.
	upstreamPort := spec.ContainerPort
	if spec.HostNetwork {
		upstreamPort = gateway.claimHostPort()
	}

	rendered := renderCommand(spec.Command, request.BasePath, upstreamPort, spec.ContainerIP, request.Token)
	gateway.logger.Debug("rendered container command", "name", request.Name, "command", rendered)

	// the command goes through a shell so templates may use operators and
	// multiple words without the caller having to tokenize anything.
	containerConfig := &container.Config{
		Image: spec.Image,
		Cmd:   []string{"/bin/sh", "-c", rendered},
		User:  spec.User,
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:    spec.memLimitBytes,
			CPUShares: spec.CPUShares,
			CPUQuota:  spec.CPUQuota,
		},
		ExtraHosts: spec.ExtraHosts,
	}

	mounts, err := parseHostDirectories(spec.HostDirectories)
	if err != nil {
		return Endpoint{}, err
	}
	hostConfig.Mounts = mounts

	var networkingConfig *network.NetworkingConfig

	natPort := nat.Port(strconv.Itoa(spec.ContainerPort) + "/tcp")

	switch {
	case spec.HostNetwork:
		hostConfig.NetworkMode = "host"
	default:
		// an empty HostPort asks the daemon to assign an ephemeral host
		// port; the assignment is read back after start. daemon-assigned
		// ports survive host reboots and concurrent allocators, unlike a
		// counter kept in this process.
		containerConfig.ExposedPorts = nat.PortSet{natPort: struct{}{}}
		hostConfig.PortBindings = nat.PortMap{
			natPort: []nat.PortBinding{{HostIP: spec.ContainerIP, HostPort: ""}},
		}
		if spec.DockerNetwork != "" {
			// connecting at creation (not after start) means the container
			// is already on the network when the proxy first routes to it.
			networkingConfig = &network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{
					spec.DockerNetwork: {},
				},
			}
		}
	}

	// the daemon picks the image layer matching the host architecture when
	// the platform is nil.
	var platform *v1.Platform

	var containerID string
	err = gateway.withRetries(ctx, "create", Retries, func() error {
		response, createErr := gateway.sdk.ContainerCreate(
			ctx,
			containerConfig,
			hostConfig,
			networkingConfig,
			platform,
			request.Name,
		)
		if createErr != nil {
			return createErr
		}
		for _, warning := range response.Warnings {
			gateway.logger.Warn("docker create warning", "name", request.Name, "warning", warning)
		}
		containerID = response.ID
		return nil
	})
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to create container %q: %w", request.Name, err)
	}

	gateway.logger.Info("container created",
		"container_id", shortID(containerID),
		"name", request.Name,
	)

	err = gateway.withRetries(ctx, "start", Retries, func() error {
		return gateway.sdk.ContainerStart(ctx, containerID, container.StartOptions{})
	})
	if err != nil {
		// a created-but-unstartable container would otherwise linger on
		// the daemon and match the pool regex forever.
		if removeErr := gateway.Remove(ctx, containerID); removeErr != nil {
			gateway.logger.Error("failed to remove unstartable container",
				"container_id", shortID(containerID),
				"error", removeErr,
			)
		}
		return Endpoint{}, fmt.Errorf("failed to start container %q: %w", request.Name, err)
	}

	endpoint := Endpoint{ID: containerID, Host: spec.ContainerIP, Port: upstreamPort}

	if !spec.HostNetwork {
		endpoint, err = gateway.publishedEndpoint(ctx, containerID, natPort)
		if err != nil {
			if removeErr := gateway.StopAndRemove(ctx, containerID); removeErr != nil {
				gateway.logger.Error("failed to remove container without a published port",
					"container_id", shortID(containerID),
					"error", removeErr,
				)
			}
			return Endpoint{}, err
		}
	}

	gateway.logger.Info("container started",
		"container_id", shortID(containerID),
		"name", request.Name,
		"upstream", fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port),
	)
	return endpoint, nil
}

// publishedEndpoint reads the daemon-assigned host port back after start.
func (gateway *Gateway) publishedEndpoint(ctx context.Context, containerID string, natPort nat.Port) (Endpoint, error) {
	var endpoint Endpoint
	err := gateway.withRetries(ctx, "inspect", Retries, func() error {
		inspect, inspectErr := gateway.sdk.ContainerInspect(ctx, containerID)
		if inspectErr != nil {
			return inspectErr
		}
		if inspect.NetworkSettings == nil {
			return fmt.Errorf("container %s has no network settings", shortID(containerID))
		}
		bindings := inspect.NetworkSettings.Ports[natPort]
		if len(bindings) == 0 {
			return fmt.Errorf("container %s has no binding for %s", shortID(containerID), natPort)
		}
		hostPort, parseErr := strconv.Atoi(bindings[0].HostPort)
		if parseErr != nil {
			return fmt.Errorf("container %s has unparseable host port %q", shortID(containerID), bindings[0].HostPort)
		}
		host := bindings[0].HostIP
		if host == "" {
			host = gateway.spec.ContainerIP
		}
		endpoint = Endpoint{ID: containerID, Host: host, Port: hostPort}
		return nil
	})
	return endpoint, err
}

// claimHostPort hands out the next port of the host-network range.
func (gateway *Gateway) claimHostPort() int {
	gateway.portMu.Lock()
	defer gateway.portMu.Unlock()
	port := gateway.nextHostPort
	gateway.nextHostPort++
	return port
}

// renderCommand substitutes the command template's placeholders. a single
// Replacer pass touches each source byte once, so a placeholder-shaped
// string inside a substituted value is never expanded a second time.
func renderCommand(template, basePath string, port int, ip, token string) string {
	return strings.NewReplacer(
		"{base_path}", basePath,
		"{port}", strconv.Itoa(port),
		"{ip}", ip,
		"{token}", token,
	).Replace(template)
}

// parseHostDirectories turns "src:dst[:mode]" strings into bind mounts.
// a missing dst mounts the source at the same path inside the container;
// mode defaults to rw, "ro" makes the mount read-only.
func parseHostDirectories(directories []string) ([]mount.Mount, error) {
	if len(directories) == 0 {
		return nil, nil
	}
	mounts := make([]mount.Mount, 0, len(directories))
	for _, directory := range directories {
		parts := strings.Split(directory, ":")
		if len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid host directory %q, expected src:dst[:mode]", directory)
		}
		source := parts[0]
		target := source
		if len(parts) > 1 && parts[1] != "" {
			target = parts[1]
		}
		readOnly := false
		if len(parts) == 3 {
			switch parts[2] {
			case "ro":
				readOnly = true
			case "rw", "":
				readOnly = false
			default:
				return nil, fmt.Errorf("invalid mount mode %q in %q", parts[2], directory)
			}
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   source,
			Target:   target,
			ReadOnly: readOnly,
		})
	}
	return mounts, nil
}

// shortID trims a daemon id to the conventional 12 characters for logs.
func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}
