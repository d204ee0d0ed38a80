package launch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/docport/docport/internal/metrics"
	"github.com/docport/docport/internal/podman"
	"github.com/docport/docport/internal/store"
	"github.com/docport/docport/pkg/types"
)

// fakeRuntime records calls and plays back configured container state.
type fakeRuntime struct {
	created   []podman.ContainerConfig
	started   []string
	stopped   []string
	stopGrace []int
	removed   []string
	forced    []bool

	startErr error
	noImage  bool
	running  bool
	exitCode int
	logs     string
	top      []podman.TopEntry
}

func (f *fakeRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	return !f.noImage, nil
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, cfg podman.ContainerConfig) (string, error) {
	f.created = append(f.created, cfg)
	return "cid-" + cfg.Name, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, nameOrID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, nameOrID)
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, nameOrID string, timeoutSec int) error {
	f.stopped = append(f.stopped, nameOrID)
	f.stopGrace = append(f.stopGrace, timeoutSec)
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	f.removed = append(f.removed, nameOrID)
	f.forced = append(f.forced, force)
	return nil
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, nameOrID string) (*podman.ContainerInfo, error) {
	info := &podman.ContainerInfo{}
	info.State.Running = f.running
	info.State.ExitCode = f.exitCode
	info.Config.Labels = map[string]string{
		labelID:      "abc12345",
		labelPort:    "8000",
		labelWorkers: "4",
		labelCreated: time.Now().Format(time.RFC3339),
	}
	info.Config.Image = "localhost/docport/document-portal:v1"
	return info, nil
}

func (f *fakeRuntime) ListContainers(ctx context.Context, labelFilter string) ([]podman.PSEntry, error) {
	return nil, nil
}

func (f *fakeRuntime) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	return f.logs, nil
}

func (f *fakeRuntime) ContainerTop(ctx context.Context, nameOrID string) ([]podman.TopEntry, error) {
	return f.top, nil
}

func testLauncher(t *testing.T, rt *fakeRuntime, probeErr error) (*Launcher, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	l := NewLauncher(rt, st, Options{
		StartupTimeout: 50 * time.Millisecond,
		StopGrace:      10 * time.Second,
	})
	l.probe = func(port int) error { return probeErr }
	return l, st
}

func TestLaunch_Success(t *testing.T) {
	rt := &fakeRuntime{running: true}
	l, st := testLauncher(t, rt, nil)

	inst, err := l.Launch(context.Background(), types.LaunchRequest{
		ImageRef: "localhost/docport/document-portal:v1",
		BuildID:  "b1",
	})
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}

	if inst.Status != types.InstanceStatusRunning {
		t.Errorf("expected running status, got %s", inst.Status)
	}
	if inst.Port != 8000 || inst.Workers != 4 {
		t.Errorf("defaults not applied: port=%d workers=%d", inst.Port, inst.Workers)
	}

	if len(rt.created) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(rt.created))
	}
	cfg := rt.created[0]
	if cfg.Name != "dp-"+inst.ID {
		t.Errorf("unexpected container name %s", cfg.Name)
	}
	if cfg.Labels[labelID] != inst.ID {
		t.Errorf("instance ID label missing, got %v", cfg.Labels)
	}
	if cfg.Labels[labelBuild] != "b1" {
		t.Errorf("build label missing, got %v", cfg.Labels)
	}
	if len(cfg.Publish) != 1 || cfg.Publish[0] != "8000:8000/tcp" {
		t.Errorf("unexpected publish spec %v", cfg.Publish)
	}

	stored, err := st.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if stored.Status != types.InstanceStatusRunning {
		t.Errorf("store status = %s, want running", stored.Status)
	}
}

func TestLaunch_RequiresImage(t *testing.T) {
	l, _ := testLauncher(t, &fakeRuntime{}, nil)
	if _, err := l.Launch(context.Background(), types.LaunchRequest{}); err == nil {
		t.Error("expected error for missing image ref")
	}
}

func TestLaunch_UnknownImage(t *testing.T) {
	rt := &fakeRuntime{noImage: true}
	l, _ := testLauncher(t, rt, nil)

	_, err := l.Launch(context.Background(), types.LaunchRequest{ImageRef: "img:v1"})
	if err == nil {
		t.Fatal("expected error for unknown image")
	}
	if len(rt.created) != 0 {
		t.Error("no container should be created for an unknown image")
	}
}

func TestLaunch_StartFailureClassified(t *testing.T) {
	rt := &fakeRuntime{startErr: fmt.Errorf("podman start failed (exit 126): bind: address already in use")}
	l, st := testLauncher(t, rt, nil)

	_, err := l.Launch(context.Background(), types.LaunchRequest{ImageRef: "img:v1"})
	if !errors.Is(err, ErrPortConflict) {
		t.Fatalf("expected port conflict, got %v", err)
	}

	// Failed container must be torn down so no partial bind lingers.
	if len(rt.removed) != 1 || !rt.forced[0] {
		t.Errorf("expected forced removal of failed container, got removed=%v forced=%v", rt.removed, rt.forced)
	}

	stored, err := st.GetInstance(launchedID(t, err))
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if stored.Status != types.InstanceStatusFailed {
		t.Errorf("store status = %s, want failed", stored.Status)
	}
}

// launchedID extracts the instance ID from a launch failure message.
func launchedID(t *testing.T, err error) string {
	t.Helper()
	msg := err.Error()
	const prefix = "failed to launch instance "
	i := strings.Index(msg, prefix)
	if i < 0 {
		t.Fatalf("no instance ID in error %q", msg)
	}
	rest := msg[i+len(prefix):]
	if j := strings.Index(rest, ":"); j > 0 {
		return rest[:j]
	}
	t.Fatalf("malformed launch error %q", msg)
	return ""
}

func TestLaunch_ExitDuringStartup(t *testing.T) {
	rt := &fakeRuntime{
		running:  false,
		exitCode: 1,
		logs:     "Traceback (most recent call last):\nModuleNotFoundError: No module named 'fitz'",
	}
	l, _ := testLauncher(t, rt, nil)

	_, err := l.Launch(context.Background(), types.LaunchRequest{ImageRef: "img:v1"})
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected missing dependency, got %v", err)
	}
	if len(rt.removed) != 1 {
		t.Errorf("expected failed container removed, got %v", rt.removed)
	}
}

func TestLaunch_StartupTimeout(t *testing.T) {
	rt := &fakeRuntime{running: true}
	l, _ := testLauncher(t, rt, fmt.Errorf("connection refused"))

	_, err := l.Launch(context.Background(), types.LaunchRequest{ImageRef: "img:v1"})
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected startup timeout, got %v", err)
	}
	if len(rt.removed) != 1 {
		t.Errorf("expected timed-out container removed, got %v", rt.removed)
	}
}

func TestStop(t *testing.T) {
	rt := &fakeRuntime{running: true}
	l, st := testLauncher(t, rt, nil)

	inst, err := l.Launch(context.Background(), types.LaunchRequest{ImageRef: "img:v1"})
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}

	if err := l.Stop(context.Background(), inst.ID); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	if len(rt.stopped) != 1 || rt.stopped[0] != "dp-"+inst.ID {
		t.Errorf("unexpected stop calls: %v", rt.stopped)
	}
	if rt.stopGrace[0] != 10 {
		t.Errorf("expected 10s grace, got %d", rt.stopGrace[0])
	}
	// Graceful stop removes without force.
	if rt.forced[len(rt.forced)-1] {
		t.Error("graceful stop should not force-remove")
	}

	stored, err := st.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if stored.Status != types.InstanceStatusStopped {
		t.Errorf("store status = %s, want stopped", stored.Status)
	}
}

func TestStopAndKill_GaugeTracksOwnLaunches(t *testing.T) {
	rt := &fakeRuntime{running: true}
	l, _ := testLauncher(t, rt, nil)

	base := testutil.ToFloat64(metrics.InstancesActive)

	inst, err := l.Launch(context.Background(), types.LaunchRequest{ImageRef: "img:v1"})
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.InstancesActive); got != base+1 {
		t.Errorf("gauge after launch = %v, want %v", got, base+1)
	}

	if err := l.Stop(context.Background(), inst.ID); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.InstancesActive); got != base {
		t.Errorf("gauge after stop = %v, want %v", got, base)
	}

	// A repeated kill, or stopping an instance launched by an earlier
	// process, must not drive the gauge negative.
	if err := l.Kill(context.Background(), inst.ID); err != nil {
		t.Fatalf("Kill error: %v", err)
	}
	if err := l.Stop(context.Background(), "deadbeef"); err != nil {
		t.Fatalf("Stop of unowned instance: %v", err)
	}
	if got := testutil.ToFloat64(metrics.InstancesActive); got != base {
		t.Errorf("gauge drifted to %v, want %v", got, base)
	}
}

func TestVerifyWorkers(t *testing.T) {
	rt := &fakeRuntime{
		running: true,
		top: []podman.TopEntry{
			{PID: "1", Command: "uvicorn api.main:app --workers 4"},
			{PID: "8", Command: "python -c spawn_main"},
			{PID: "9", Command: "python -c spawn_main"},
			{PID: "10", Command: "python -c spawn_main"},
			{PID: "11", Command: "python -c spawn_main"},
		},
	}
	l, _ := testLauncher(t, rt, nil)

	report, err := l.VerifyWorkers(context.Background(), "abc12345")
	if err != nil {
		t.Fatalf("VerifyWorkers error: %v", err)
	}
	if !report.Supervisor || report.Active != 4 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestVerifyWorkers_NotRunning(t *testing.T) {
	rt := &fakeRuntime{running: false}
	l, _ := testLauncher(t, rt, nil)

	if _, err := l.VerifyWorkers(context.Background(), "abc12345"); err == nil {
		t.Error("expected error for stopped instance")
	}
}

func TestLabelsRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	labels := map[string]string{
		labelID:      "abc12345",
		labelBuild:   "b1",
		labelPort:    strconv.Itoa(8000),
		labelWorkers: strconv.Itoa(4),
		labelCreated: now.Format(time.RFC3339),
	}

	inst := labelsToInstance(labels)
	if inst.ID != "abc12345" || inst.BuildID != "b1" {
		t.Errorf("identity labels lost: %+v", inst)
	}
	if inst.Port != 8000 || inst.Workers != 4 {
		t.Errorf("numeric labels lost: %+v", inst)
	}
	if !inst.StartedAt.Equal(now) {
		t.Errorf("created label lost: got %v want %v", inst.StartedAt, now)
	}
}

