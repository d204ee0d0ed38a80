package types

import "time"

// InstanceStatus represents the lifecycle state of a service instance.
// The lifecycle is linear: an image is built, an instance is launched from it,
// runs, and is stopped. Start-time failures land in the terminal failed state.
type InstanceStatus string

const (
	InstanceStatusCreated InstanceStatus = "created"
	InstanceStatusRunning InstanceStatus = "running"
	InstanceStatusStopped InstanceStatus = "stopped"
	InstanceStatusFailed  InstanceStatus = "failed"
)

// Instance represents one launched service container.
type Instance struct {
	ID        string         `json:"instanceID"`
	BuildID   string         `json:"buildID,omitempty"`
	ImageRef  string         `json:"imageRef"`
	Port      int            `json:"port"`
	Workers   int            `json:"workers"`
	Status    InstanceStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
}

// LaunchRequest is the request body for launching an instance.
type LaunchRequest struct {
	ImageRef string `json:"imageRef"`
	BuildID  string `json:"buildID,omitempty"`
	Port     int    `json:"port,omitempty"`    // host port, defaults to the recipe port baked into the image
	Workers  int    `json:"workers,omitempty"` // expected worker count, default 4
}

// WorkerReport is the response for a worker-count check against a running
// instance: the supervisor process plus the workers it forked.
type WorkerReport struct {
	InstanceID string `json:"instanceID"`
	Expected   int    `json:"expected"`
	Active     int    `json:"active"`
	Supervisor bool   `json:"supervisor"`
}

// LogTokenResponse carries a short-lived token scoped to one instance's log
// stream.
type LogTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
