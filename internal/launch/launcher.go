package launch

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docport/docport/internal/metrics"
	"github.com/docport/docport/internal/podman"
	"github.com/docport/docport/internal/store"
	"github.com/docport/docport/pkg/types"
)

const (
	labelPrefix  = "docport"
	labelID      = labelPrefix + ".id"
	labelBuild   = labelPrefix + ".build"
	labelPort    = labelPrefix + ".port"
	labelWorkers = labelPrefix + ".workers"
	labelCreated = labelPrefix + ".created"
	namePrefix   = "dp"

	defaultPort    = 8000
	defaultWorkers = 4

	defaultStartupTimeout = 15 * time.Second
	defaultStopGrace      = 10 * time.Second
)

// Runtime is the subset of the container runtime the launcher needs.
type Runtime interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	CreateContainer(ctx context.Context, cfg podman.ContainerConfig) (string, error)
	StartContainer(ctx context.Context, nameOrID string) error
	StopContainer(ctx context.Context, nameOrID string, timeoutSec int) error
	RemoveContainer(ctx context.Context, nameOrID string, force bool) error
	InspectContainer(ctx context.Context, nameOrID string) (*podman.ContainerInfo, error)
	ListContainers(ctx context.Context, labelFilter string) ([]podman.PSEntry, error)
	ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error)
	ContainerTop(ctx context.Context, nameOrID string) ([]podman.TopEntry, error)
}

// Options tune the launcher's startup and shutdown behavior.
type Options struct {
	StartupTimeout time.Duration // bound on fail-fast startup verification
	StopGrace      time.Duration // grace period before SIGKILL on stop
}

// Launcher manages service instance lifecycle: launch with fail-fast startup
// verification, graceful stop, and removal. The container runtime is the
// source of truth for instance state; docport metadata rides on labels.
type Launcher struct {
	rt    Runtime
	store *store.Store
	opts  Options

	// probe dials the published port; swapped out in tests.
	probe func(port int) error

	// active tracks instances this process launched, so the gauge only
	// counts down what it counted up. Instances from a previous process
	// can still be stopped; they just never touched the gauge.
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLauncher creates a new instance launcher.
func NewLauncher(rt Runtime, st *store.Store, opts Options) *Launcher {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	return &Launcher{
		rt:     rt,
		store:  st,
		opts:   opts,
		active: make(map[string]struct{}),
		probe: func(port int) error {
			conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

// Launch creates and starts a container from a built image and verifies it
// came up: the container must stay running and the published port must accept
// connections within the startup timeout. On any failure the container is
// removed so no orphaned listener or partial bind is left behind, and the
// instance is recorded as failed.
func (l *Launcher) Launch(ctx context.Context, req types.LaunchRequest) (*types.Instance, error) {
	if req.ImageRef == "" {
		return nil, fmt.Errorf("launch: image reference is required")
	}
	exists, err := l.rt.ImageExists(ctx, req.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("launch: image %s not found; build it first", req.ImageRef)
	}
	port := req.Port
	if port == 0 {
		port = defaultPort
	}
	workers := req.Workers
	if workers == 0 {
		workers = defaultWorkers
	}

	id := uuid.New().String()[:8]
	name := fmt.Sprintf("%s-%s", namePrefix, id)
	now := time.Now()

	inst := &types.Instance{
		ID:        id,
		BuildID:   req.BuildID,
		ImageRef:  req.ImageRef,
		Port:      port,
		Workers:   workers,
		Status:    types.InstanceStatusCreated,
		StartedAt: now,
	}
	if err := l.store.RecordInstance(inst); err != nil {
		return nil, err
	}

	cfg := podman.ContainerConfig{
		Name:  name,
		Image: req.ImageRef,
		Labels: map[string]string{
			labelID:      id,
			labelBuild:   req.BuildID,
			labelPort:    strconv.Itoa(port),
			labelWorkers: strconv.Itoa(workers),
			labelCreated: now.Format(time.RFC3339),
		},
		Publish: []string{fmt.Sprintf("%d:%d/tcp", port, port)},
	}

	start := time.Now()
	if _, err := l.rt.CreateContainer(ctx, cfg); err != nil {
		return nil, l.failInstance(ctx, inst, name, false, err)
	}
	if err := l.rt.StartContainer(ctx, name); err != nil {
		return nil, l.failInstance(ctx, inst, name, true, ClassifyStartFailure(err.Error()))
	}

	if err := l.verifyStartup(ctx, name, port); err != nil {
		metrics.LaunchDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		return nil, l.failInstance(ctx, inst, name, true, err)
	}
	metrics.LaunchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	inst.Status = types.InstanceStatusRunning
	if err := l.store.UpdateInstanceStatus(id, types.InstanceStatusRunning, ""); err != nil {
		log.Printf("launch: failed to record running state for %s: %v", id, err)
	}
	l.mu.Lock()
	l.active[id] = struct{}{}
	l.mu.Unlock()
	metrics.InstancesActive.Inc()

	log.Printf("launch: instance %s running (%s on :%d, %d workers)", id, req.ImageRef, port, workers)
	return inst, nil
}

// verifyStartup polls the container until the port accepts connections. A
// container that exits during the window is a start failure, classified from
// its log.
func (l *Launcher) verifyStartup(ctx context.Context, name string, port int) error {
	deadline := time.Now().Add(l.opts.StartupTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := l.rt.InspectContainer(ctx, name)
		if err != nil {
			return fmt.Errorf("startup verification: %w", err)
		}
		if !info.State.Running {
			logText, _ := l.rt.ContainerLogs(ctx, name, 50)
			cause := ClassifyStartFailure(logText)
			return fmt.Errorf("container exited during startup (exit %d): %w",
				info.State.ExitCode, cause)
		}

		if err := l.probe(port); err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("port %d not accepting connections within %s: %w",
				port, l.opts.StartupTimeout, ErrStartupTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// failInstance tears the container down (when it was created), records the
// failure, and returns the cause.
func (l *Launcher) failInstance(ctx context.Context, inst *types.Instance, name string, created bool, cause error) error {
	if created {
		if err := l.rt.RemoveContainer(ctx, name, true); err != nil {
			log.Printf("launch: cleanup of failed instance %s: %v", inst.ID, err)
		}
	}
	if err := l.store.UpdateInstanceStatus(inst.ID, types.InstanceStatusFailed, cause.Error()); err != nil {
		log.Printf("launch: failed to record failure for %s: %v", inst.ID, err)
	}
	return fmt.Errorf("failed to launch instance %s: %w", inst.ID, cause)
}

// Stop gracefully stops a running instance, waiting out the grace period
// before the runtime escalates to SIGKILL, then removes the container.
func (l *Launcher) Stop(ctx context.Context, id string) error {
	name := l.ContainerName(id)
	if err := l.rt.StopContainer(ctx, name, int(l.opts.StopGrace.Seconds())); err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", id, err)
	}
	if err := l.rt.RemoveContainer(ctx, name, false); err != nil {
		return fmt.Errorf("failed to remove stopped instance %s: %w", id, err)
	}
	if err := l.store.UpdateInstanceStatus(id, types.InstanceStatusStopped, ""); err != nil {
		log.Printf("launch: failed to record stop for %s: %v", id, err)
	}
	l.release(id)
	log.Printf("launch: instance %s stopped", id)
	return nil
}

// Kill forcefully removes an instance.
func (l *Launcher) Kill(ctx context.Context, id string) error {
	if err := l.rt.RemoveContainer(ctx, l.ContainerName(id), true); err != nil {
		return fmt.Errorf("failed to kill instance %s: %w", id, err)
	}
	if err := l.store.UpdateInstanceStatus(id, types.InstanceStatusStopped, ""); err != nil {
		log.Printf("launch: failed to record kill for %s: %v", id, err)
	}
	l.release(id)
	return nil
}

// release drops an instance from the active set, decrementing the gauge only
// if this process launched it.
func (l *Launcher) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[id]; ok {
		delete(l.active, id)
		metrics.InstancesActive.Dec()
	}
}

// Get returns live instance info by ID.
func (l *Launcher) Get(ctx context.Context, id string) (*types.Instance, error) {
	info, err := l.rt.InspectContainer(ctx, l.ContainerName(id))
	if err != nil {
		return nil, fmt.Errorf("instance %s not found: %w", id, err)
	}
	return containerInfoToInstance(info), nil
}

// List returns all docport instances known to the runtime.
func (l *Launcher) List(ctx context.Context) ([]types.Instance, error) {
	entries, err := l.rt.ListContainers(ctx, labelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]types.Instance, 0, len(entries))
	for _, e := range entries {
		instances = append(instances, psEntryToInstance(e))
	}
	return instances, nil
}

// VerifyWorkers inspects the process tree of a running instance and reports
// the supervisor and active worker processes against the declared count.
func (l *Launcher) VerifyWorkers(ctx context.Context, id string) (*types.WorkerReport, error) {
	inst, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != types.InstanceStatusRunning {
		return nil, fmt.Errorf("instance %s is not running", id)
	}

	procs, err := l.rt.ContainerTop(ctx, l.ContainerName(id))
	if err != nil {
		return nil, err
	}
	return CountWorkers(procs, inst.Workers, id), nil
}

// ContainerName returns the runtime container name for an instance ID.
func (l *Launcher) ContainerName(id string) string {
	return fmt.Sprintf("%s-%s", namePrefix, id)
}

func containerInfoToInstance(info *podman.ContainerInfo) *types.Instance {
	inst := labelsToInstance(info.Config.Labels)
	inst.ImageRef = info.Config.Image
	if info.State.Running {
		inst.Status = types.InstanceStatusRunning
	} else {
		inst.Status = types.InstanceStatusStopped
	}
	return inst
}

func psEntryToInstance(entry podman.PSEntry) types.Instance {
	inst := labelsToInstance(entry.Labels)
	inst.ImageRef = entry.Image
	if entry.State == "running" {
		inst.Status = types.InstanceStatusRunning
	} else {
		inst.Status = types.InstanceStatusStopped
	}
	return *inst
}

func labelsToInstance(labels map[string]string) *types.Instance {
	port, _ := strconv.Atoi(labels[labelPort])
	workers, _ := strconv.Atoi(labels[labelWorkers])
	startedAt, _ := time.Parse(time.RFC3339, labels[labelCreated])
	return &types.Instance{
		ID:        labels[labelID],
		BuildID:   labels[labelBuild],
		Port:      port,
		Workers:   workers,
		StartedAt: startedAt,
	}
}
