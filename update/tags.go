package update

import (
	"context"
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/phiberoptick/dockhand/logger"
)

// tempTagSuffix marks the disposable reference a pulled image is scanned
// under. It exists only between "pull complete" and the policy decision.
const tempTagSuffix = "dockhand-scan"

// DigestPinned reports whether an image reference is identified purely by
// content digest. Digest-referenced images are immutable, so the scan
// tag dance is unnecessary for them.
func DigestPinned(imageRef string) bool {
	if strings.HasPrefix(imageRef, "sha256:") {
		return true
	}
	named, err := reference.ParseNormalizedNamed(imageRef)
	if err != nil {
		return false
	}
	_, canonical := named.(reference.Canonical)
	_, tagged := named.(reference.NamedTagged)
	return canonical && !tagged
}

// tempRefFor derives the temporary scan reference for an original
// repo:tag reference.
func tempRefFor(imageRef string) (string, error) {
	named, err := reference.ParseNormalizedNamed(imageRef)
	if err != nil {
		return "", fmt.Errorf("cannot parse image reference %q: %w", imageRef, err)
	}
	tag := "latest"
	if t, ok := named.(reference.NamedTagged); ok {
		tag = t.Tag()
	}
	return fmt.Sprintf("%s:%s-%s", reference.FamiliarName(named), tag, tempTagSuffix), nil
}

// TagManager runs the temporary-tag protocol that lets a freshly pulled
// image be scanned without the original tag ever pointing at an
// unvalidated image.
type TagManager struct {
	rt  Runtime
	log *logger.SubsystemLogger
}

func NewTagManager(rt Runtime) *TagManager {
	return &TagManager{rt: rt, log: logger.WithSubsystem("tags")}
}

// TagSession tracks one container's temp tag from creation to promotion
// or discard. Exactly one of Promote/Discard must be called; both remove
// the temp tag, and calling either twice is a no-op.
type TagSession struct {
	m           *TagManager
	OriginalRef string
	TempRef     string
	OldImageID  string
	NewImageID  string
	finished    bool
}

// Begin runs after a pull completed: it resolves the new image id by the
// (now overwritten) original tag, points the original tag back at the
// old image id, and creates the temporary tag on the new image.
func (m *TagManager) Begin(ctx context.Context, originalRef, oldImageID string) (*TagSession, error) {
	newID, err := m.rt.ImageIDByRef(ctx, originalRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageResolve, err)
	}

	// The pull moved originalRef onto the new image. Re-point it at the
	// known-good running image so the tag never resolves to an unscanned
	// image while the policy decision is pending. Best-effort: the old
	// image may have been pruned already.
	if oldImageID != "" && oldImageID != newID {
		if err := m.rt.TagImage(ctx, oldImageID, originalRef); err != nil {
			m.log.WarnContext(ctx, "Could not re-point original tag at the running image",
				logger.String("ref", originalRef),
				logger.String("old_image", oldImageID),
				logger.Err(err),
			)
		}
	}

	tempRef, err := tempRefFor(originalRef)
	if err != nil {
		return nil, err
	}

	if err := m.rt.TagImage(ctx, newID, tempRef); err != nil {
		return nil, fmt.Errorf("failed to create temporary scan tag %s: %w", tempRef, err)
	}

	return &TagSession{
		m:           m,
		OriginalRef: originalRef,
		TempRef:     tempRef,
		OldImageID:  oldImageID,
		NewImageID:  newID,
	}, nil
}

// Promote re-points the original tag at the approved new image and
// removes the temporary tag.
func (s *TagSession) Promote(ctx context.Context) error {
	if err := s.m.rt.TagImage(ctx, s.NewImageID, s.OriginalRef); err != nil {
		return fmt.Errorf("failed to promote %s to %s: %w", s.NewImageID, s.OriginalRef, err)
	}
	s.cleanup(ctx)
	return nil
}

// Discard removes the temporary tag, leaving the original tag on the old
// image. Used on block and on scan failure.
func (s *TagSession) Discard(ctx context.Context) {
	s.cleanup(ctx)
}

// cleanup removes the temp tag. Failure is logged, not escalated: a
// leaked temp tag is a cosmetic leak, and the next batch run can remove
// it again.
func (s *TagSession) cleanup(ctx context.Context) {
	if s.finished {
		return
	}
	s.finished = true

	if err := s.m.rt.RemoveImage(ctx, s.TempRef); err != nil {
		s.m.log.WarnContext(ctx, "Failed to remove temporary scan tag",
			logger.String("temp_ref", s.TempRef),
			logger.Err(err),
		)
	}
}
