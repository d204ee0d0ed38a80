package podman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docport/docport/internal/metrics"
)

// Client wraps the podman CLI for image and container operations.
type Client struct {
	binaryPath string
	authFile   string // dedicated auth file to avoid Docker credential helper conflicts
}

// NewClient creates a new Podman client. It verifies podman is available.
func NewClient() (*Client, error) {
	path, err := exec.LookPath("podman")
	if err != nil {
		return nil, fmt.Errorf("podman not found in PATH: %w", err)
	}

	// A dedicated auth file keeps podman from inheriting Docker Desktop's
	// credential helpers (docker-credential-desktop and friends).
	authFile, err := ensureAuthFile()
	if err != nil {
		return nil, fmt.Errorf("failed to set up podman auth: %w", err)
	}

	return &Client{binaryPath: path, authFile: authFile}, nil
}

// AuthFile returns the path to the dedicated auth file.
func (c *Client) AuthFile() string {
	return c.authFile
}

func ensureAuthFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "docport")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	authFile := filepath.Join(dir, "auth.json")
	if _, err := os.Stat(authFile); os.IsNotExist(err) {
		if err := os.WriteFile(authFile, []byte(`{"auths":{}}`), 0600); err != nil {
			return "", err
		}
	}
	return authFile, nil
}

// ExecResult holds the output from a podman command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes a podman command and returns the result. A non-zero podman
// exit is reported through ExitCode, not as an error; an error means the
// process could not be run at all.
func (c *Client) Run(ctx context.Context, args ...string) (*ExecResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	cmd.Env = append(os.Environ(), "REGISTRY_AUTH_FILE="+c.authFile)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if len(args) > 0 {
		metrics.RuntimeOpDuration.WithLabelValues(args[0]).Observe(time.Since(start).Seconds())
	}

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("podman exec failed: %w", err)
	}

	return result, nil
}

// RunJSON executes a podman command and parses JSON output into dest.
func (c *Client) RunJSON(ctx context.Context, dest interface{}, args ...string) error {
	result, err := c.Run(ctx, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman %s failed (exit %d): %s",
			strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	if err := json.Unmarshal([]byte(result.Stdout), dest); err != nil {
		return fmt.Errorf("failed to parse podman output: %w", err)
	}
	return nil
}

// Version returns the podman version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.Run(ctx, "version", "--format", "{{.Client.Version}}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}
