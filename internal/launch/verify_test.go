package launch

import (
	"errors"
	"testing"

	"github.com/docport/docport/internal/podman"
)

func TestClassifyStartFailure(t *testing.T) {
	cases := []struct {
		name       string
		diagnostic string
		want       error
	}{
		{"port conflict", "ERROR: [Errno 98] address already in use", ErrPortConflict},
		{"podman bind", "bind: address already in use", ErrPortConflict},
		{"port allocated", "port is already allocated", ErrPortConflict},
		{"missing module", "ModuleNotFoundError: No module named 'fitz'", ErrMissingDependency},
		{"import error", "ImportError: cannot import name 'app'", ErrImportFailure},
		{"asgi load", "Error loading ASGI app. Could not import module \"api.main\".", ErrImportFailure},
		{"attribute", "AttributeError: module 'api.main' has no attribute 'app'", ErrImportFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifyStartFailure(tc.diagnostic)
			if !errors.Is(err, tc.want) {
				t.Errorf("ClassifyStartFailure(%q) = %v, want %v", tc.diagnostic, err, tc.want)
			}
		})
	}
}

func TestClassifyStartFailure_Unrecognized(t *testing.T) {
	err := ClassifyStartFailure("something exploded\nlast line here")
	if err == nil {
		t.Fatal("expected error for unrecognized diagnostic")
	}
	for _, known := range []error{ErrPortConflict, ErrImportFailure, ErrMissingDependency} {
		if errors.Is(err, known) {
			t.Errorf("unrecognized diagnostic misclassified as %v", known)
		}
	}
	if got := err.Error(); got != "start failed: last line here" {
		t.Errorf("expected last line in error, got %q", got)
	}
}

func TestClassifyStartFailure_EmptyOutput(t *testing.T) {
	err := ClassifyStartFailure("   \n  ")
	if err == nil || err.Error() != "container exited without output" {
		t.Errorf("expected silent-exit error, got %v", err)
	}
}

func TestCountWorkers(t *testing.T) {
	procs := []podman.TopEntry{
		{PID: "1", Command: "/usr/local/bin/python /usr/local/bin/uvicorn api.main:app --workers 4"},
		{PID: "8", Command: "/usr/local/bin/python -c from multiprocessing.spawn import spawn_main"},
		{PID: "9", Command: "/usr/local/bin/python -c from multiprocessing.spawn import spawn_main"},
		{PID: "10", Command: "/usr/local/bin/python -c from multiprocessing.spawn import spawn_main"},
		{PID: "11", Command: "/usr/local/bin/python -c from multiprocessing.spawn import spawn_main"},
	}

	report := CountWorkers(procs, 4, "abc12345")
	if !report.Supervisor {
		t.Error("expected supervisor to be detected")
	}
	if report.Active != 4 {
		t.Errorf("expected 4 active workers, got %d", report.Active)
	}
	if report.Expected != 4 {
		t.Errorf("expected Expected=4, got %d", report.Expected)
	}
}

func TestCountWorkers_MissingWorkers(t *testing.T) {
	procs := []podman.TopEntry{
		{PID: "1", Command: "uvicorn api.main:app --workers 4"},
		{PID: "8", Command: "python -c spawn_main"},
	}

	report := CountWorkers(procs, 4, "abc12345")
	if report.Active != 1 {
		t.Errorf("expected 1 active worker, got %d", report.Active)
	}
	if report.Active >= report.Expected {
		t.Error("expected fewer active than expected workers")
	}
}

func TestCountWorkers_IgnoresUnrelatedProcesses(t *testing.T) {
	procs := []podman.TopEntry{
		{PID: "1", Command: "uvicorn api.main:app"},
		{PID: "5", Command: "sh -c sleep 100"},
		{PID: "8", Command: "python -c spawn_main"},
	}

	report := CountWorkers(procs, 1, "abc12345")
	if report.Active != 1 {
		t.Errorf("shell process counted as worker: got %d active", report.Active)
	}
}

func TestCountWorkers_WrapperAsFirstProcess(t *testing.T) {
	procs := []podman.TopEntry{
		{PID: "1", Command: "sh -c ./entrypoint.sh"},
		{PID: "2", Command: "uvicorn api.main:app --workers 2"},
		{PID: "8", Command: "python -c spawn_main"},
		{PID: "9", Command: "python -c spawn_main"},
	}

	report := CountWorkers(procs, 2, "abc12345")
	if !report.Supervisor {
		t.Error("supervisor behind a shell wrapper not detected")
	}
	if report.Active != 2 {
		t.Errorf("expected 2 active workers, got %d", report.Active)
	}
}

func TestCountWorkers_Empty(t *testing.T) {
	report := CountWorkers(nil, 4, "abc12345")
	if report.Supervisor || report.Active != 0 {
		t.Errorf("empty process table should report nothing, got %+v", report)
	}
}
