package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// RegistryClient resolves remote image digests for update-availability
// checks. Lookups are cached briefly so a dashboard refresh does not
// hammer the registry; force bypasses the cache.
type RegistryClient struct {
	mu    sync.Mutex
	cache map[string]cachedDigest
	ttl   time.Duration
}

type cachedDigest struct {
	digest  string
	fetched time.Time
}

func NewRegistryClient() *RegistryClient {
	return &RegistryClient{
		cache: make(map[string]cachedDigest),
		ttl:   5 * time.Minute,
	}
}

// GetRemoteDigest fetches the digest of the remote image
func (r *RegistryClient) GetRemoteDigest(image string, platform *v1.Platform, force bool) (string, error) {
	key := image
	if platform != nil {
		key += "|" + platform.OS + "/" + platform.Architecture
	}

	if !force {
		r.mu.Lock()
		if c, ok := r.cache[key]; ok && time.Since(c.fetched) < r.ttl {
			r.mu.Unlock()
			return c.digest, nil
		}
		r.mu.Unlock()
	}

	options := []crane.Option{
		crane.WithAuthFromKeychain(authn.DefaultKeychain),
	}
	if platform != nil {
		options = append(options, crane.WithPlatform(platform))
	}

	digest, err := crane.Digest(image, options...)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[key] = cachedDigest{digest: digest, fetched: time.Now()}
	r.mu.Unlock()

	return digest, nil
}

// DigestsDiffer compares a local RepoDigest against a remote digest.
// Docker's ImageID is the sha256 of the config JSON, not the distribution
// digest, so callers must pass RepoDigests from inspect.
func (r *RegistryClient) DigestsDiffer(localDigest, remoteDigest string) bool {
	return !strings.EqualFold(localDigest, remoteDigest)
}

// Ping checks registry connectivity by attempting to fetch a known image digest
func (r *RegistryClient) Ping() error {
	// We use alpine:latest as a lightweight check
	_, err := r.GetRemoteDigest("library/alpine:latest", nil, false)
	return err
}
