package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/docport/docport/pkg/types"
)

const (
	defaultWorkdir = "/app"
	defaultHost    = "0.0.0.0"
	defaultPort    = 8000
	defaultWorkers = 4
)

// appPattern matches an ASGI import path: dotted module path, colon, attribute.
var appPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*:[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default returns the document-portal build recipe: a pinned Python base with
// a compiler toolchain and PDF utilities, dependencies from requirements.txt,
// and a four-worker uvicorn server on port 8000.
func Default() types.Recipe {
	return types.Recipe{
		Name:      "document-portal",
		BaseImage: "docker.io/library/python:3.10-slim",
		Env: map[string]string{
			"PYTHONDONTWRITEBYTECODE": "1",
			"PYTHONUNBUFFERED":        "1",
		},
		OSPackages: []string{"gcc", "poppler-utils"},
		Manifest:   "requirements.txt",
		Workdir:    defaultWorkdir,
		Context:    ".",
		App:        "api.main:app",
		Host:       defaultHost,
		Port:       defaultPort,
		Workers:    defaultWorkers,
	}
}

// LoadFile reads a recipe from a JSON file and applies defaults.
func LoadFile(path string) (types.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Recipe{}, fmt.Errorf("failed to read recipe %s: %w", path, err)
	}

	var r types.Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return types.Recipe{}, fmt.Errorf("failed to parse recipe %s: %w", path, err)
	}

	// Relative context paths are resolved against the recipe file's directory.
	if r.Context != "" && !filepath.IsAbs(r.Context) {
		r.Context = filepath.Join(filepath.Dir(path), r.Context)
	}

	return WithDefaults(r), nil
}

// WithDefaults fills unset optional fields with the standard values.
func WithDefaults(r types.Recipe) types.Recipe {
	if r.Workdir == "" {
		r.Workdir = defaultWorkdir
	}
	if r.Context == "" {
		r.Context = "."
	}
	if r.Host == "" {
		r.Host = defaultHost
	}
	if r.Port == 0 {
		r.Port = defaultPort
	}
	if r.Workers == 0 {
		r.Workers = defaultWorkers
	}
	return r
}

// Validate checks a recipe against the build contract. The base image must be
// pinned to a concrete tag, the manifest must exist inside the context, and
// the launch parameters must be sane. Validation failures abort the build
// before any layer is produced.
func Validate(r types.Recipe) error {
	if r.Name == "" {
		return fmt.Errorf("recipe: name is required")
	}
	if err := ValidatePinnedRef(r.BaseImage); err != nil {
		return err
	}
	if r.Manifest == "" {
		return fmt.Errorf("recipe: dependency manifest is required")
	}
	if filepath.IsAbs(r.Manifest) || strings.Contains(r.Manifest, "..") {
		return fmt.Errorf("recipe: manifest %q must be a plain path inside the context", r.Manifest)
	}
	if r.Context != "" {
		if fi, err := os.Stat(r.Context); err != nil || !fi.IsDir() {
			return fmt.Errorf("recipe: context directory %q not found", r.Context)
		}
		manifestPath := filepath.Join(r.Context, r.Manifest)
		if _, err := os.Stat(manifestPath); err != nil {
			return fmt.Errorf("recipe: manifest %s not found in context: %w", r.Manifest, err)
		}
	}
	if !appPattern.MatchString(r.App) {
		return fmt.Errorf("recipe: app %q is not a valid module:attribute import path", r.App)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("recipe: port %d out of range", r.Port)
	}
	if r.Workers < 1 {
		return fmt.Errorf("recipe: worker count must be at least 1, got %d", r.Workers)
	}
	for _, pkg := range r.OSPackages {
		if pkg == "" || strings.ContainsAny(pkg, " \t\n;&|") {
			return fmt.Errorf("recipe: invalid OS package name %q", pkg)
		}
	}
	return nil
}

// ValidatePinnedRef checks that an image reference carries a concrete version
// tag. Floating references (no tag, or "latest") make builds unreproducible
// and are rejected.
func ValidatePinnedRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("recipe: base image is required")
	}

	// A digest reference is pinned by definition.
	if strings.Contains(ref, "@sha256:") {
		return nil
	}

	// Find the tag separator, ignoring a registry port (host:5000/img:tag).
	slash := strings.LastIndex(ref, "/")
	tagSep := strings.LastIndex(ref, ":")
	if tagSep <= slash {
		return fmt.Errorf("recipe: base image %q has no version tag; pin it to a specific version", ref)
	}

	tag := ref[tagSep+1:]
	if tag == "" || tag == "latest" {
		return fmt.Errorf("recipe: base image %q uses a floating tag; pin it to a specific version", ref)
	}
	return nil
}
