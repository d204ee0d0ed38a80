package podman

import (
	"context"
	"fmt"
	"strings"
)

// BuildOptions controls an image build.
type BuildOptions struct {
	Tag               string // image reference to tag the result with
	ContainerfilePath string // path to the rendered build file
	ContextDir        string // source tree used as build context
	NoCache           bool
}

// BuildImage runs podman build and returns the combined build log. The build
// is atomic from the caller's perspective: on any step failure podman exits
// non-zero and no image is tagged.
func (c *Client) BuildImage(ctx context.Context, opts BuildOptions) (string, error) {
	args := []string{"build", "-t", opts.Tag, "-f", opts.ContainerfilePath}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	args = append(args, opts.ContextDir)

	result, err := c.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to build image %s: %w", opts.Tag, err)
	}
	buildLog := result.Stdout + result.Stderr
	if result.ExitCode != 0 {
		return buildLog, fmt.Errorf("podman build failed (exit %d): %s",
			result.ExitCode, lastLines(result.Stderr, 5))
	}
	return buildLog, nil
}

// ImageID returns the full image ID for a reference.
func (c *Client) ImageID(ctx context.Context, ref string) (string, error) {
	result, err := c.Run(ctx, "image", "inspect", "--format", "{{.Id}}", ref)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("podman image inspect failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// ImageExists checks whether an image is available locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	result, err := c.Run(ctx, "image", "exists", ref)
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

// RemoveImage removes a local image.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	result, err := c.Run(ctx, "rmi", ref)
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", ref, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman rmi failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// TagImage applies an additional tag to an existing image.
func (c *Client) TagImage(ctx context.Context, source, target string) error {
	result, err := c.Run(ctx, "tag", source, target)
	if err != nil {
		return fmt.Errorf("failed to tag image %s: %w", source, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman tag failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// PushImage pushes an image to its registry.
func (c *Client) PushImage(ctx context.Context, ref string) error {
	result, err := c.Run(ctx, "push", ref)
	if err != nil {
		return fmt.Errorf("failed to push image %s: %w", ref, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman push failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// LoginRegistry authenticates to a registry using the dedicated auth file.
func (c *Client) LoginRegistry(ctx context.Context, registry, username, password string) error {
	result, err := c.Run(ctx, "login", "--username", username, "--password", password, registry)
	if err != nil {
		return fmt.Errorf("failed to login to %s: %w", registry, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman login failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// lastLines returns the trailing n lines of s, for compact error messages
// from long build logs.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
