package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
)

// ContainerSnapshot is an immutable capture of a container's definition at
// the moment an update begins. The replacement container is created from
// it: same name, image reference, env, labels, command, ports, binds,
// restart policy and network mode. It is never mutated after capture.
type ContainerSnapshot struct {
	ID       string
	Name     string
	Running  bool
	ImageRef string
	ImageID  string

	Config     *container.Config
	HostConfig *container.HostConfig
	Networking *network.NetworkingConfig
}

// Snapshot inspects a container and captures a sanitized definition. With
// preserveNetwork, static IPs and MAC addresses survive the recreation;
// otherwise the daemon assigns fresh ones.
func (d *DockerEngine) Snapshot(ctx context.Context, containerID string, preserveNetwork bool) (*ContainerSnapshot, error) {
	inspect, err := d.Client.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", containerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	name := strings.TrimPrefix(inspect.Name, "/")

	imageRef := ""
	if inspect.Config != nil {
		imageRef = inspect.Config.Image
	}
	if imageRef == "" {
		imageRef = inspect.Image
	}

	cfg := inspect.Config

	// Reset Hostname if it matches the short ID (meaning it was
	// auto-generated). Docker IDs are hex 64 chars, short ID is 12.
	if cfg != nil && cfg.Hostname != "" {
		if strings.HasPrefix(inspect.ID, cfg.Hostname) {
			cfg.Hostname = ""
		}
	}

	// We must not pass read-only endpoint fields back to Create, so
	// rebuild each endpoint with input fields only.
	networking := &network.NetworkingConfig{
		EndpointsConfig: make(map[string]*network.EndpointSettings),
	}
	if inspect.NetworkSettings != nil {
		for netName, ep := range inspect.NetworkSettings.Networks {
			newEp := &network.EndpointSettings{
				IPAMConfig: ep.IPAMConfig,
				Links:      ep.Links,
				Aliases:    ep.Aliases,
				DriverOpts: ep.DriverOpts,
			}

			if preserveNetwork {
				newEp.MacAddress = ep.MacAddress
				newEp.IPAddress = ep.IPAddress
				newEp.GlobalIPv6Address = ep.GlobalIPv6Address

				// Ensure IPAMConfig enforces the static IP if we have one
				if newEp.IPAddress != "" {
					if newEp.IPAMConfig == nil {
						newEp.IPAMConfig = &network.EndpointIPAMConfig{}
					}
					if newEp.IPAMConfig.IPv4Address == "" {
						newEp.IPAMConfig.IPv4Address = newEp.IPAddress
					}
				}
			}

			networking.EndpointsConfig[netName] = newEp
		}
	}

	running := false
	if inspect.State != nil {
		running = inspect.State.Running
	}

	return &ContainerSnapshot{
		ID:         inspect.ID,
		Name:       name,
		Running:    running,
		ImageRef:   imageRef,
		ImageID:    inspect.Image,
		Config:     cfg,
		HostConfig: inspect.HostConfig,
		Networking: networking,
	}, nil
}
