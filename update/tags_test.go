package update

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestPinned(t *testing.T) {
	tests := []struct {
		ref    string
		pinned bool
	}{
		{"nginx:1.25", false},
		{"nginx", false},
		{"registry.example.com:5000/team/app:v2", false},
		{"nginx@sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		// Tag plus digest still resolves by digest, but the tag makes it
		// mutable from the user's point of view, so it is not pinned.
		{"nginx:1.25@sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.pinned, DigestPinned(tt.ref))
		})
	}
}

func TestTempRefFor(t *testing.T) {
	t.Run("tagged reference", func(t *testing.T) {
		ref, err := tempRefFor("nginx:1.25")
		require.NoError(t, err)
		assert.Equal(t, "nginx:1.25-dockhand-scan", ref)
	})

	t.Run("untagged defaults to latest", func(t *testing.T) {
		ref, err := tempRefFor("redis")
		require.NoError(t, err)
		assert.Equal(t, "redis:latest-dockhand-scan", ref)
	})

	t.Run("private registry path survives", func(t *testing.T) {
		ref, err := tempRefFor("registry.example.com:5000/team/app:v2")
		require.NoError(t, err)
		assert.Equal(t, "registry.example.com:5000/team/app:v2-dockhand-scan", ref)
	})

	t.Run("invalid reference errors", func(t *testing.T) {
		_, err := tempRefFor("UPPER CASE IS INVALID")
		assert.Error(t, err)
	})
}

func TestTagSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	setup := func() (*fakeRuntime, *TagSession) {
		rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
		rt.pulls["nginx:1.25"] = "sha256:new"
		require.NoError(t, rt.PullImage(ctx, "nginx:1.25", nil))

		session, err := NewTagManager(rt).Begin(ctx, "nginx:1.25", "sha256:old")
		require.NoError(t, err)
		return rt, session
	}

	t.Run("begin re-points original tag and creates temp tag", func(t *testing.T) {
		rt, session := setup()

		assert.Equal(t, "sha256:new", session.NewImageID)
		assert.Equal(t, "nginx:1.25-dockhand-scan", session.TempRef)
		// Original tag points back at the running image while the scan
		// is pending; the temp tag holds the candidate.
		assert.Equal(t, "sha256:old", rt.tags["nginx:1.25"])
		assert.Equal(t, "sha256:new", rt.tags["nginx:1.25-dockhand-scan"])
	})

	t.Run("promote moves original tag to new image and removes temp", func(t *testing.T) {
		rt, session := setup()

		require.NoError(t, session.Promote(ctx))
		assert.Equal(t, "sha256:new", rt.tags["nginx:1.25"])
		assert.NotContains(t, rt.tags, "nginx:1.25-dockhand-scan")
	})

	t.Run("discard keeps original tag on old image", func(t *testing.T) {
		rt, session := setup()

		session.Discard(ctx)
		assert.Equal(t, "sha256:old", rt.tags["nginx:1.25"])
		assert.NotContains(t, rt.tags, "nginx:1.25-dockhand-scan")
	})

	t.Run("cleanup is idempotent", func(t *testing.T) {
		rt, session := setup()

		require.NoError(t, session.Promote(ctx))
		session.Discard(ctx)
		session.Discard(ctx)
		assert.Equal(t, []string{"nginx:1.25-dockhand-scan"}, rt.removedImages)
	})
}

func TestTagSessionBeginResolveFailure(t *testing.T) {
	rt := newFakeRuntime()
	_, err := NewTagManager(rt).Begin(context.Background(), "ghost:latest", "sha256:old")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageResolve)
}

func TestTagSessionBeginSameImage(t *testing.T) {
	// Pull found nothing new: the tag still points at the old image. No
	// re-point happens, but the temp tag is still created so the scan
	// path is uniform.
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	session, err := NewTagManager(rt).Begin(context.Background(), "nginx:1.25", "sha256:old")
	require.NoError(t, err)
	assert.Equal(t, "sha256:old", session.NewImageID)
	assert.Equal(t, "sha256:old", rt.tags["nginx:1.25-dockhand-scan"])
}
