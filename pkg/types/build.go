package types

import "time"

// BuildStatus represents the current state of an image build.
type BuildStatus string

const (
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// Recipe is the declarative input for an image build. It captures the full
// build-and-launch contract of a service image: base interpreter, build-time
// environment flags, OS packages, the dependency manifest, the source context,
// and the fixed server command baked into the image.
type Recipe struct {
	Name       string            `json:"name"`
	BaseImage  string            `json:"baseImage"`            // pinned reference, e.g. docker.io/library/python:3.10-slim
	Env        map[string]string `json:"env,omitempty"`        // build-time env, immutable for the container's lifetime
	OSPackages []string          `json:"osPackages,omitempty"` // apt packages, installed in order
	Manifest   string            `json:"manifest"`             // dependency manifest path relative to Context
	Workdir    string            `json:"workdir,omitempty"`    // default /app
	Context    string            `json:"context,omitempty"`    // source tree directory, default "."

	// Launch contract
	App     string `json:"app"`               // ASGI import path, e.g. "api.main:app"
	Host    string `json:"host,omitempty"`    // bind address, default 0.0.0.0
	Port    int    `json:"port,omitempty"`    // default 8000
	Workers int    `json:"workers,omitempty"` // default 4
}

// Build records one image build.
type Build struct {
	ID           string      `json:"buildID"`
	Name         string      `json:"name"`
	Tag          string      `json:"tag"`
	ImageRef     string      `json:"imageRef"`
	ImageID      string      `json:"imageID,omitempty"`
	RecipeDigest string      `json:"recipeDigest"`
	DepsDigest   string      `json:"depsDigest"`
	Status       BuildStatus `json:"status"`
	Error        string      `json:"error,omitempty"`
	DurationMS   int64       `json:"durationMs"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// BuildRequest is the request body for starting a build.
type BuildRequest struct {
	Recipe  Recipe `json:"recipe"`
	Tag     string `json:"tag,omitempty"` // defaults to the short recipe digest
	Push    bool   `json:"push,omitempty"`
	NoCache bool   `json:"noCache,omitempty"`
}
