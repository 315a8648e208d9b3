package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/phiberoptick/dockhand/api"
)

// ErrNotFound marks lookups of containers or images that no longer exist.
var ErrNotFound = errors.New("not found")

// DockerEngine wraps the Docker SDK client with the capability surface the
// update pipeline needs: list/inspect/stop/remove/create/start containers,
// pull images with progress, tag/untag images and resolve image ids.
type DockerEngine struct {
	Client client.APIClient
}

func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Ping to verify connection
	if _, err := cli.Ping(context.Background()); err != nil {
		if runtime.GOOS == "windows" {
			return nil, fmt.Errorf("failed to connect to Docker (is Docker Desktop running? try setting DOCKER_HOST, e.g., 'npipe:////./pipe/docker_engine'): %v", err)
		}
		return nil, fmt.Errorf("failed to connect to Docker: %w", err)
	}
	return &DockerEngine{Client: cli}, nil
}

func (d *DockerEngine) Ping(ctx context.Context) error {
	_, err := d.Client.Ping(ctx)
	return err
}

func (d *DockerEngine) ListContainers(ctx context.Context) ([]types.Container, error) {
	return d.Client.ContainerList(ctx, container.ListOptions{All: true})
}

// pullEvent is one JSON line of the daemon's pull progress stream.
type pullEvent struct {
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	Progress       string `json:"progress,omitempty"`
	ProgressDetail struct {
		Current int64 `json:"current"`
		Total   int64 `json:"total"`
	} `json:"progressDetail"`
	ID string `json:"id,omitempty"`
}

// PullImage pulls an image reference, decoding the daemon's progress
// stream and forwarding each update to onProgress. The pull is drained to
// completion even when onProgress is nil.
func (d *DockerEngine) PullImage(ctx context.Context, imageRef string, onProgress func(api.PullProgress)) error {
	reader, err := d.Client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	for {
		var event pullEvent
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}

		if event.Error != "" {
			return fmt.Errorf("pull error: %s", event.Error)
		}

		if onProgress == nil {
			continue
		}

		p := api.PullProgress{Status: event.Status, Layer: event.ID}
		if event.ProgressDetail.Total > 0 {
			p.Percent = float64(event.ProgressDetail.Current) / float64(event.ProgressDetail.Total) * 100
		}
		onProgress(p)
	}
	return nil
}

// ImageIDByRef resolves an image reference (tag or digest) to its image id.
func (d *DockerEngine) ImageIDByRef(ctx context.Context, imageRef string) (string, error) {
	inspect, err := d.Client.ImageInspect(ctx, imageRef)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("image %s: %w", imageRef, ErrNotFound)
		}
		return "", err
	}
	return inspect.ID, nil
}

// TagImage points imageRef at the given image id.
func (d *DockerEngine) TagImage(ctx context.Context, imageID, imageRef string) error {
	return d.Client.ImageTag(ctx, imageID, imageRef)
}

// RemoveImage deletes an image reference. Other tags on the same image
// are left alone.
func (d *DockerEngine) RemoveImage(ctx context.Context, imageRef string) error {
	_, err := d.Client.ImageRemove(ctx, imageRef, image.RemoveOptions{})
	return err
}

func (d *DockerEngine) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	opts := container.StopOptions{}
	if timeoutSeconds > 0 {
		opts.Timeout = &timeoutSeconds
	}
	return d.Client.ContainerStop(ctx, containerID, opts)
}

func (d *DockerEngine) RemoveContainer(ctx context.Context, containerID string) error {
	return d.Client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (d *DockerEngine) StartContainer(ctx context.Context, containerID string) error {
	return d.Client.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (d *DockerEngine) RestartContainer(ctx context.Context, containerID string) error {
	return d.Client.ContainerRestart(ctx, containerID, container.StopOptions{})
}

// CreateContainer creates (but does not start) a replacement container
// from a snapshot, under the snapshot's original name.
func (d *DockerEngine) CreateContainer(ctx context.Context, snap *ContainerSnapshot) (string, error) {
	created, err := d.Client.ContainerCreate(ctx, snap.Config, snap.HostConfig, snap.Networking, nil, snap.Name)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// imageDetails returns the resolved image name, image id, RepoDigests,
// OS and architecture for a container.
func (d *DockerEngine) imageDetails(ctx context.Context, containerID string) (string, string, []string, string, string, error) {
	cJSON, err := d.Client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", "", nil, "", "", err
	}

	// Image field in ContainerJSON is the ImageID
	iJSON, err := d.Client.ImageInspect(ctx, cJSON.Image)
	if err != nil {
		// If image inspect fails, we return what we have
		if cJSON.Config != nil {
			return cJSON.Config.Image, cJSON.Image, nil, "", "", nil
		}
		return "", cJSON.Image, nil, "", "", nil
	}

	configImage := ""
	if cJSON.Config != nil {
		configImage = cJSON.Config.Image
	}
	return configImage, cJSON.Image, iJSON.RepoDigests, iJSON.Os, iJSON.Architecture, nil
}
