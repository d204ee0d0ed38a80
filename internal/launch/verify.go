package launch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docport/docport/internal/podman"
	"github.com/docport/docport/pkg/types"
)

// Start-time failures are fatal and never retried here; a restart policy, if
// any, belongs to outside orchestration. Classification exists so callers and
// operators can tell a host-side port conflict from a broken image.
var (
	ErrPortConflict      = errors.New("port already in use")
	ErrImportFailure     = errors.New("application object could not be imported")
	ErrMissingDependency = errors.New("missing runtime dependency")
	ErrStartupTimeout    = errors.New("startup verification timed out")
)

// classification patterns, matched against container logs and runtime errors.
// The import/dependency strings follow CPython and uvicorn diagnostics.
var failurePatterns = []struct {
	substr string
	err    error
}{
	{"address already in use", ErrPortConflict},
	{"bind: address already in use", ErrPortConflict},
	{"port is already allocated", ErrPortConflict},
	{"ModuleNotFoundError", ErrMissingDependency},
	{"No module named", ErrMissingDependency},
	{"Could not import module", ErrImportFailure},
	{"Error loading ASGI app", ErrImportFailure},
	{"ImportError", ErrImportFailure},
	{"AttributeError", ErrImportFailure},
}

// ClassifyStartFailure maps diagnostic text from a failed start onto a known
// failure kind. Unrecognized output is passed through as a generic error
// carrying the last line of the log.
func ClassifyStartFailure(diagnostic string) error {
	lower := strings.ToLower(diagnostic)
	for _, p := range failurePatterns {
		if strings.Contains(lower, strings.ToLower(p.substr)) {
			return fmt.Errorf("%w: %s", p.err, lastLine(diagnostic))
		}
	}
	if strings.TrimSpace(diagnostic) == "" {
		return errors.New("container exited without output")
	}
	return fmt.Errorf("start failed: %s", lastLine(diagnostic))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// CountWorkers derives a worker report from a container's process table. The
// first server process is the supervisor; every further server process is a
// worker it forked. Non-server processes (shell wrappers, init stubs) are
// skipped, whatever PID they hold.
func CountWorkers(procs []podman.TopEntry, expected int, instanceID string) *types.WorkerReport {
	report := &types.WorkerReport{
		InstanceID: instanceID,
		Expected:   expected,
	}

	serverProcs := 0
	for _, p := range procs {
		cmd := strings.ToLower(p.Command)
		isServer := strings.Contains(cmd, "uvicorn") ||
			strings.Contains(cmd, "python") ||
			strings.Contains(cmd, "spawn_main")
		if !isServer {
			continue
		}
		if !report.Supervisor {
			report.Supervisor = true
			continue
		}
		serverProcs++
	}
	report.Active = serverProcs
	return report
}
