package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/logger"
)

var checkLog = logger.WithSubsystem("check")

// CheckUpdates compares every container's local RepoDigests against the
// remote registry digest and reports which have a newer image available.
// filter narrows the check to a single container name ("" or "all" checks
// everything). Containers with a pending update feed the dashboard's
// pending-update markers; the update pipeline clears them on success.
func CheckUpdates(ctx context.Context, docker *DockerEngine, registry *RegistryClient, filter string, force bool, onProgress func(api.ContainerCheck, int, int)) ([]api.ContainerCheck, error) {
	allContainers, err := docker.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	totalToCheck := 0
	for _, c := range allContainers {
		if cleanedName(c.Names) == "" {
			continue
		}
		if filter != "" && filter != "all" && cleanedName(c.Names) != filter {
			continue
		}
		totalToCheck++
	}

	var checks []api.ContainerCheck
	var wg sync.WaitGroup
	var mu sync.Mutex
	var processedCount int32

	// Limit concurrency to avoid overwhelming registry or network
	sem := make(chan struct{}, 5)

	for _, c := range allContainers {
		cName := cleanedName(c.Names)
		if cName == "" {
			continue
		}
		if filter != "" && filter != "all" && cName != filter {
			continue
		}

		wg.Add(1)
		go func(name, image, id string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					checkLog.Errorf("PANIC in check goroutine for %s: %v", name, r)
				}
			}()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			chk := api.ContainerCheck{
				ID:     id,
				Name:   name,
				Status: "checked",
			}

			// Resolve the true image name first (List may return a SHA)
			resolvedName, _, repoDigests, osName, arch, err := docker.imageDetails(ctx, id)
			if ctx.Err() != nil {
				return
			}

			if err != nil {
				chk.Error = fmt.Sprintf("Inspect error: %v", err)
				chk.Status = "error"
			} else {
				chk.Image = image
				if resolvedName != "" {
					chk.Image = resolvedName
				}
				if len(repoDigests) > 0 {
					chk.LocalDigest = repoDigests[0]
				}

				var platform *v1.Platform
				if osName != "" && arch != "" {
					platform = &v1.Platform{OS: osName, Architecture: arch}
				}

				if ctx.Err() != nil {
					return
				}

				imageToCheck := rewriteLoopbackRegistry(chk.Image)

				// Check the index digest first (how most RepoDigests are
				// stored), then fall back to the platform child manifest to
				// avoid multi-arch false positives.
				remoteDigest, err := registry.GetRemoteDigest(imageToCheck, nil, force)
				found := err == nil && digestMatches(repoDigests, remoteDigest)

				if !found && platform != nil {
					if platformDigest, perr := registry.GetRemoteDigest(imageToCheck, platform, force); perr == nil {
						remoteDigest = platformDigest
						found = digestMatches(repoDigests, platformDigest)
					}
				}

				if err != nil && remoteDigest == "" {
					if ctx.Err() != nil {
						return
					}
					chk.Error = fmt.Sprintf("Registry error: %v", err)
					chk.Status = "error"
				} else {
					chk.RemoteDigest = remoteDigest
					chk.UpdateAvailable = !found
				}
			}

			if ctx.Err() != nil {
				return
			}

			mu.Lock()
			checks = append(checks, chk)
			newCount := atomic.AddInt32(&processedCount, 1)
			mu.Unlock()

			if onProgress != nil {
				onProgress(chk, int(newCount), totalToCheck)
			}
		}(cName, c.Image, c.ID)
	}
	wg.Wait()

	return checks, nil
}

func cleanedName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func digestMatches(repoDigests []string, remoteDigest string) bool {
	for _, rd := range repoDigests {
		parts := strings.Split(rd, "@")
		if len(parts) == 2 && parts[1] == remoteDigest {
			return true
		}
	}
	return false
}

// rewriteLoopbackRegistry fixes localhost registries when the dashboard
// itself runs in a container.
func rewriteLoopbackRegistry(image string) string {
	if strings.HasPrefix(image, "localhost:") {
		return strings.Replace(image, "localhost:", "host.docker.internal:", 1)
	}
	if strings.HasPrefix(image, "127.0.0.1:") {
		return strings.Replace(image, "127.0.0.1:", "host.docker.internal:", 1)
	}
	return image
}
