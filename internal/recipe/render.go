package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docport/docport/pkg/types"
)

// StepKind identifies a layer-producing build step.
type StepKind string

const (
	StepBase     StepKind = "base"
	StepEnv      StepKind = "env"
	StepWorkdir  StepKind = "workdir"
	StepPackages StepKind = "packages"
	StepManifest StepKind = "manifest"
	StepDeps     StepKind = "deps"
	StepSource   StepKind = "source"
	StepExpose   StepKind = "expose"
	StepCommand  StepKind = "command"
)

// Step is one rendered build instruction with its content digest.
type Step struct {
	Kind        StepKind `json:"kind"`
	Instruction string   `json:"instruction"`
	Digest      string   `json:"digest"`
}

// LayerSequence is the ordered list of rendered build steps. Each step's
// output filesystem layer is the input of the next, so order is part of the
// build contract: the dependency manifest is copied and installed before the
// source tree so that source-only edits leave the dependency layers cacheable.
type LayerSequence struct {
	Steps []Step `json:"steps"`
}

// Render produces the layer sequence for a recipe. Rendering is deterministic:
// the same recipe always yields byte-identical instructions, which is what
// makes rebuilds reproducible and layer caches stable.
func Render(r types.Recipe) LayerSequence {
	r = WithDefaults(r)
	var steps []Step

	add := func(kind StepKind, instruction string) {
		sum := sha256.Sum256([]byte(instruction))
		steps = append(steps, Step{
			Kind:        kind,
			Instruction: instruction,
			Digest:      hex.EncodeToString(sum[:]),
		})
	}

	add(StepBase, "FROM "+r.BaseImage)

	// Env keys are emitted in sorted order so map iteration cannot perturb
	// the rendered output.
	if len(r.Env) > 0 {
		keys := make([]string, 0, len(r.Env))
		for k := range r.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+r.Env[k])
		}
		add(StepEnv, "ENV "+strings.Join(pairs, " "))
	}

	add(StepWorkdir, "WORKDIR "+r.Workdir)

	if len(r.OSPackages) > 0 {
		add(StepPackages, fmt.Sprintf(
			"RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*",
			strings.Join(r.OSPackages, " ")))
	}

	// Manifest copy and dependency install come before the source copy.
	add(StepManifest, fmt.Sprintf("COPY %s .", r.Manifest))
	add(StepDeps, fmt.Sprintf("RUN pip install --no-cache-dir -r %s", r.Manifest))
	add(StepSource, "COPY . .")

	add(StepExpose, fmt.Sprintf("EXPOSE %d", r.Port))
	add(StepCommand, fmt.Sprintf(
		`CMD ["uvicorn", "%s", "--host", "%s", "--port", "%d", "--workers", "%d"]`,
		r.App, r.Host, r.Port, r.Workers))

	return LayerSequence{Steps: steps}
}

// Containerfile returns the rendered build file text.
func (s LayerSequence) Containerfile() string {
	lines := make([]string, 0, len(s.Steps))
	for _, step := range s.Steps {
		lines = append(lines, step.Instruction)
	}
	return strings.Join(lines, "\n") + "\n"
}

// DependencySteps returns the prefix of the sequence that determines the
// dependency layers: everything up to and including the dependency install.
// None of these steps read the source tree beyond the manifest, so their
// digests are unaffected by source-only changes.
func (s LayerSequence) DependencySteps() []Step {
	for i, step := range s.Steps {
		if step.Kind == StepDeps {
			return s.Steps[:i+1]
		}
	}
	return nil
}

// Digest computes the reproducible identity of a build: the rendered
// instructions combined with the manifest content. Two builds with equal
// digests install identical OS and dependency layers from an identical base.
func Digest(r types.Recipe, seq LayerSequence) (recipeDigest, depsDigest string, err error) {
	manifest, err := os.ReadFile(filepath.Join(r.Context, r.Manifest))
	if err != nil {
		return "", "", fmt.Errorf("failed to read manifest for digest: %w", err)
	}

	full := sha256.New()
	deps := sha256.New()
	for _, step := range seq.Steps {
		full.Write([]byte(step.Instruction))
		full.Write([]byte{'\n'})
	}
	for _, step := range seq.DependencySteps() {
		deps.Write([]byte(step.Instruction))
		deps.Write([]byte{'\n'})
	}
	full.Write(manifest)
	deps.Write(manifest)

	return hex.EncodeToString(full.Sum(nil)), hex.EncodeToString(deps.Sum(nil)), nil
}

// ImageRef builds the local image reference for a named build. An empty tag
// defaults to the first 12 hex digits of the recipe digest, so untagged
// rebuilds of the same recipe land on the same reference.
func ImageRef(name, tag, recipeDigest string) string {
	if tag == "" {
		tag = ShortDigest(recipeDigest)
	}
	return fmt.Sprintf("localhost/docport/%s:%s", name, tag)
}

// ShortDigest truncates a hex digest for use as a tag or log field.
func ShortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
