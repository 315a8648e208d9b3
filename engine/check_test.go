package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestMatches(t *testing.T) {
	repoDigests := []string{
		"nginx@sha256:aaa",
		"mirror.example.com/nginx@sha256:bbb",
	}

	assert.True(t, digestMatches(repoDigests, "sha256:aaa"))
	assert.True(t, digestMatches(repoDigests, "sha256:bbb"))
	assert.False(t, digestMatches(repoDigests, "sha256:ccc"))
	assert.False(t, digestMatches(nil, "sha256:aaa"))
	assert.False(t, digestMatches([]string{"malformed"}, "sha256:aaa"))
}

func TestCleanedName(t *testing.T) {
	assert.Equal(t, "web", cleanedName([]string{"/web"}))
	assert.Equal(t, "web", cleanedName([]string{"web"}))
	assert.Equal(t, "", cleanedName(nil))
}

func TestRewriteLoopbackRegistry(t *testing.T) {
	assert.Equal(t, "host.docker.internal:5000/app:v1", rewriteLoopbackRegistry("localhost:5000/app:v1"))
	assert.Equal(t, "host.docker.internal:5000/app:v1", rewriteLoopbackRegistry("127.0.0.1:5000/app:v1"))
	assert.Equal(t, "ghcr.io/owner/app:v1", rewriteLoopbackRegistry("ghcr.io/owner/app:v1"))
}
