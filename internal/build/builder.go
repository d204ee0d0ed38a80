package build

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/docport/docport/internal/artifacts"
	"github.com/docport/docport/internal/metrics"
	"github.com/docport/docport/internal/podman"
	"github.com/docport/docport/internal/recipe"
	"github.com/docport/docport/internal/store"
	"github.com/docport/docport/pkg/types"
)

// Runtime is the subset of the container runtime the builder needs.
type Runtime interface {
	BuildImage(ctx context.Context, opts podman.BuildOptions) (string, error)
	ImageID(ctx context.Context, ref string) (string, error)
	RemoveImage(ctx context.Context, ref string) error
	TagImage(ctx context.Context, source, target string) error
	PushImage(ctx context.Context, ref string) error
	LoginRegistry(ctx context.Context, registry, username, password string) error
}

// RegistryConfig configures an optional remote registry for pushes.
type RegistryConfig struct {
	Registry   string // e.g. "registry.example.com"
	Repository string // e.g. "docport-images"
	Username   string
	Password   string
}

// IsConfigured reports whether pushes are possible.
func (c *RegistryConfig) IsConfigured() bool {
	return c != nil && c.Registry != ""
}

// Builder turns recipes into images. The rendered build file is written to a
// temp directory and the recipe's context is passed to podman untouched, so
// the build's layer caching depends only on the recipe, the manifest, and the
// source tree itself.
type Builder struct {
	rt       Runtime
	store    *store.Store
	logs     *artifacts.LogStore // nil if log archiving not configured
	registry *RegistryConfig     // nil if no remote registry
}

// NewBuilder creates a new image builder.
func NewBuilder(rt Runtime, st *store.Store, logs *artifacts.LogStore, registry *RegistryConfig) *Builder {
	return &Builder{rt: rt, store: st, logs: logs, registry: registry}
}

// Build validates and renders the recipe, builds the image, and records the
// result. Any failure aborts with a failed build record and no image entry;
// podman guarantees no partial image is tagged.
func (b *Builder) Build(ctx context.Context, req types.BuildRequest) (*types.Build, error) {
	r := recipe.WithDefaults(req.Recipe)
	if err := recipe.Validate(r); err != nil {
		return nil, err
	}

	seq := recipe.Render(r)
	recipeDigest, depsDigest, err := recipe.Digest(r, seq)
	if err != nil {
		return nil, err
	}

	tag := req.Tag
	if tag == "" {
		tag = recipe.ShortDigest(recipeDigest)
	}
	imageRef := recipe.ImageRef(r.Name, tag, recipeDigest)

	bld := &types.Build{
		ID:           uuid.New().String()[:8],
		Name:         r.Name,
		Tag:          tag,
		ImageRef:     imageRef,
		RecipeDigest: recipeDigest,
		DepsDigest:   depsDigest,
		Status:       types.BuildStatusBuilding,
		CreatedAt:    time.Now(),
	}
	if err := b.store.RecordBuild(bld); err != nil {
		return nil, err
	}

	// The build file never lands in the source tree; a stray Containerfile
	// there would itself invalidate the source layer.
	tmpDir, err := os.MkdirTemp("", "docport-build-*")
	if err != nil {
		return b.fail(bld, "", fmt.Errorf("failed to create temp dir for build: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	containerfilePath := filepath.Join(tmpDir, "Containerfile")
	if err := os.WriteFile(containerfilePath, []byte(seq.Containerfile()), 0644); err != nil {
		return b.fail(bld, "", fmt.Errorf("failed to write Containerfile: %w", err))
	}

	start := time.Now()
	buildLog, err := b.rt.BuildImage(ctx, podman.BuildOptions{
		Tag:               imageRef,
		ContainerfilePath: containerfilePath,
		ContextDir:        r.Context,
		NoCache:           req.NoCache,
	})
	bld.DurationMS = time.Since(start).Milliseconds()
	metrics.BuildDuration.WithLabelValues(r.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return b.fail(bld, buildLog, fmt.Errorf("failed to build %s: %w", r.Name, err))
	}

	imageID, err := b.rt.ImageID(ctx, imageRef)
	if err != nil {
		return b.fail(bld, buildLog, err)
	}
	bld.ImageID = imageID
	bld.Status = types.BuildStatusSucceeded
	if err := b.store.UpdateBuild(bld); err != nil {
		return nil, err
	}
	metrics.BuildsTotal.WithLabelValues(r.Name, string(types.BuildStatusSucceeded)).Inc()
	b.archiveLog(ctx, bld.ID, buildLog)

	if req.Push && b.registry.IsConfigured() {
		if err := b.push(ctx, bld); err != nil {
			// The local image is intact; push failure doesn't fail the build.
			log.Printf("build: push failed for %s: %v", imageRef, err)
		}
	}

	log.Printf("build: %s built as %s (digest %s, %dms)",
		r.Name, imageRef, recipe.ShortDigest(recipeDigest), bld.DurationMS)
	return bld, nil
}

func (b *Builder) fail(bld *types.Build, buildLog string, cause error) (*types.Build, error) {
	bld.Status = types.BuildStatusFailed
	bld.Error = cause.Error()
	if err := b.store.UpdateBuild(bld); err != nil {
		log.Printf("build: failed to record build failure for %s: %v", bld.ID, err)
	}
	metrics.BuildsTotal.WithLabelValues(bld.Name, string(types.BuildStatusFailed)).Inc()
	if buildLog != "" {
		b.archiveLog(context.Background(), bld.ID, buildLog)
	}
	return nil, cause
}

func (b *Builder) archiveLog(ctx context.Context, buildID, buildLog string) {
	if b.logs == nil || buildLog == "" {
		return
	}
	key, err := b.logs.ArchiveBuildLog(ctx, buildID, []byte(buildLog))
	if err != nil {
		log.Printf("build: failed to archive log for %s: %v", buildID, err)
		return
	}
	log.Printf("build: archived log for %s as %s", buildID, key)
}

// Remove deletes a build: the local image, the archived log, and the record.
func (b *Builder) Remove(ctx context.Context, id string) error {
	bld, err := b.store.GetBuild(id)
	if err != nil {
		return err
	}

	if bld.Status == types.BuildStatusSucceeded {
		if err := b.rt.RemoveImage(ctx, bld.ImageRef); err != nil {
			return err
		}
	}
	if b.logs != nil {
		if err := b.logs.DeleteBuildLog(ctx, id); err != nil {
			log.Printf("build: failed to delete archived log for %s: %v", id, err)
		}
	}
	if err := b.store.DeleteBuild(id); err != nil {
		return err
	}
	log.Printf("build: removed %s (%s)", id, bld.ImageRef)
	return nil
}

func (b *Builder) push(ctx context.Context, bld *types.Build) error {
	remoteRef := fmt.Sprintf("%s/%s:%s-%s",
		b.registry.Registry, b.registry.Repository, bld.Name, bld.Tag)

	if b.registry.Username != "" {
		if err := b.rt.LoginRegistry(ctx, b.registry.Registry, b.registry.Username, b.registry.Password); err != nil {
			return err
		}
	}
	if err := b.rt.TagImage(ctx, bld.ImageRef, remoteRef); err != nil {
		return err
	}
	log.Printf("build: pushing %s...", remoteRef)
	if err := b.rt.PushImage(ctx, remoteRef); err != nil {
		return err
	}
	log.Printf("build: push complete for %s", remoteRef)
	return nil
}
