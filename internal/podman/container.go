package podman

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ContainerConfig defines how to create a container.
type ContainerConfig struct {
	Name    string
	Image   string
	Labels  map[string]string
	Env     map[string]string
	Publish []string // port mappings, e.g. ["8000:8000/tcp"]
}

// CreateContainer creates a container with the given config. Returns the
// container ID. The image's baked-in entrypoint command is used as-is.
func (c *Client) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	args := []string{"create", "--name", cfg.Name}

	for k, v := range cfg.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range cfg.Env {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, v))
	}
	for _, pub := range cfg.Publish {
		args = append(args, "--publish", pub)
	}

	args = append(args, cfg.Image)

	result, err := c.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", cfg.Name, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("podman create failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return strings.TrimSpace(result.Stdout), nil
}

// StartContainer starts a container by name or ID.
func (c *Client) StartContainer(ctx context.Context, nameOrID string) error {
	result, err := c.Run(ctx, "start", nameOrID)
	if err != nil {
		return fmt.Errorf("failed to start container %s: %w", nameOrID, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman start failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// StopContainer stops a container, giving it timeoutSec to exit before the
// runtime sends SIGKILL.
func (c *Client) StopContainer(ctx context.Context, nameOrID string, timeoutSec int) error {
	args := []string{"stop"}
	if timeoutSec > 0 {
		args = append(args, "--time", fmt.Sprintf("%d", timeoutSec))
	}
	args = append(args, nameOrID)

	result, err := c.Run(ctx, args...)
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w", nameOrID, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman stop failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// RemoveContainer removes a container. Force=true kills running containers.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "--force", "--time", "0")
	}
	args = append(args, nameOrID)

	result, err := c.Run(ctx, args...)
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", nameOrID, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("podman rm failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// ContainerInfo holds inspect output for a container.
type ContainerInfo struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Status     string `json:"Status"`
		Running    bool   `json:"Running"`
		ExitCode   int    `json:"ExitCode"`
		StartedAt  string `json:"StartedAt"`
		FinishedAt string `json:"FinishedAt"`
	} `json:"State"`
	Config struct {
		Labels map[string]string `json:"Labels"`
		Image  string            `json:"Image"`
	} `json:"Config"`
}

// InspectContainer returns detailed info about a container.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (*ContainerInfo, error) {
	var infos []ContainerInfo
	if err := c.RunJSON(ctx, &infos, "inspect", nameOrID); err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", nameOrID, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("container %s not found", nameOrID)
	}
	return &infos[0], nil
}

// PSEntry represents a container from podman ps.
type PSEntry struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	State  string            `json:"State"`
	Labels map[string]string `json:"Labels"`
	Image  string            `json:"Image"`
}

// ListContainers lists containers matching the given label filter.
func (c *Client) ListContainers(ctx context.Context, labelFilter string) ([]PSEntry, error) {
	args := []string{"ps", "-a", "--format", "json"}
	if labelFilter != "" {
		args = append(args, "--filter", fmt.Sprintf("label=%s", labelFilter))
	}

	result, err := c.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("podman ps failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	output := strings.TrimSpace(result.Stdout)
	if output == "" {
		return nil, nil
	}

	var entries []PSEntry
	if err := parseJSONOutput(output, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse podman ps output: %w", err)
	}
	return entries, nil
}

// parseJSONOutput handles both JSON array and newline-delimited JSON.
func parseJSONOutput(output string, dest *[]PSEntry) error {
	output = strings.TrimSpace(output)
	if output == "" || output == "[]" {
		return nil
	}

	// Try array first (newer podman versions)
	if strings.HasPrefix(output, "[") {
		return json.Unmarshal([]byte(output), dest)
	}

	// Newline-delimited JSON (older podman versions)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry PSEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return err
		}
		*dest = append(*dest, entry)
	}
	return nil
}

// ContainerLogs returns the container's captured stdout/stderr.
func (c *Client) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", tail))
	}
	args = append(args, nameOrID)

	result, err := c.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to get logs for %s: %w", nameOrID, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("podman logs failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	// podman interleaves server logs on stderr
	return result.Stdout + result.Stderr, nil
}

// FollowLogs starts streaming container logs. The returned reader combines
// stdout and stderr; cancel the context to stop the stream, then call the
// returned wait function to reap the process.
func (c *Client) FollowLogs(ctx context.Context, nameOrID string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, c.binaryPath, "logs", "--follow", nameOrID)
	cmd.Env = append(os.Environ(), "REGISTRY_AUTH_FILE="+c.authFile)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, fmt.Errorf("failed to follow logs for %s: %w", nameOrID, err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close() // readers see EOF once the process exits
		done <- err
	}()
	wait := func() error { return <-done }
	return pr, wait, nil
}

// TopEntry is one process row from podman top.
type TopEntry struct {
	PID     string
	Command string
}

// ContainerTop lists the processes running inside a container.
func (c *Client) ContainerTop(ctx context.Context, nameOrID string) ([]TopEntry, error) {
	result, err := c.Run(ctx, "top", nameOrID, "pid,args")
	if err != nil {
		return nil, fmt.Errorf("failed to get processes for %s: %w", nameOrID, err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("podman top failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return parseTopOutput(result.Stdout), nil
}

// parseTopOutput parses the tabular podman top output, skipping the header.
func parseTopOutput(output string) []TopEntry {
	var entries []TopEntry
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header: PID ARGS
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, TopEntry{
			PID:     fields[0],
			Command: strings.Join(fields[1:], " "),
		})
	}
	return entries
}
