package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docport/docport/pkg/types"
)

// testContext creates a build context directory with a requirements.txt.
func testContext(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

func testRecipe(t *testing.T) types.Recipe {
	r := Default()
	r.Context = testContext(t, "fastapi==0.110.0\nuvicorn==0.29.0\n")
	return r
}

func TestValidate_DefaultRecipe(t *testing.T) {
	if err := Validate(testRecipe(t)); err != nil {
		t.Fatalf("default recipe should validate, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.Recipe)
	}{
		{"missing name", func(r *types.Recipe) { r.Name = "" }},
		{"missing base image", func(r *types.Recipe) { r.BaseImage = "" }},
		{"floating tag", func(r *types.Recipe) { r.BaseImage = "python:latest" }},
		{"missing manifest", func(r *types.Recipe) { r.Manifest = "" }},
		{"absolute manifest", func(r *types.Recipe) { r.Manifest = "/etc/passwd" }},
		{"traversal manifest", func(r *types.Recipe) { r.Manifest = "../requirements.txt" }},
		{"manifest not in context", func(r *types.Recipe) { r.Manifest = "missing.txt" }},
		{"bad app path", func(r *types.Recipe) { r.App = "api/main:app" }},
		{"app without attribute", func(r *types.Recipe) { r.App = "api.main" }},
		{"port out of range", func(r *types.Recipe) { r.Port = 70000 }},
		{"negative workers", func(r *types.Recipe) { r.Workers = -1 }},
		{"package injection", func(r *types.Recipe) { r.OSPackages = []string{"gcc; rm -rf /"} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRecipe(t)
			tc.mutate(&r)
			if err := Validate(r); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidatePinnedRef(t *testing.T) {
	valid := []string{
		"docker.io/library/python:3.10-slim",
		"python:3.10",
		"registry.example.com:5000/app/python:3.10",
		"python@sha256:0123456789abcdef",
	}
	for _, ref := range valid {
		if err := ValidatePinnedRef(ref); err != nil {
			t.Errorf("ValidatePinnedRef(%q) unexpected error: %v", ref, err)
		}
	}

	invalid := []string{
		"",
		"python",
		"python:latest",
		"python:",
		"registry.example.com:5000/app/python",
	}
	for _, ref := range invalid {
		if err := ValidatePinnedRef(ref); err == nil {
			t.Errorf("ValidatePinnedRef(%q) expected error", ref)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	r := WithDefaults(types.Recipe{Name: "x"})
	if r.Workdir != "/app" {
		t.Errorf("expected default workdir /app, got %s", r.Workdir)
	}
	if r.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", r.Host)
	}
	if r.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", r.Port)
	}
	if r.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", r.Workers)
	}
}

func TestWithDefaults_KeepsExplicitValues(t *testing.T) {
	r := WithDefaults(types.Recipe{Name: "x", Port: 9000, Workers: 2})
	if r.Port != 9000 || r.Workers != 2 {
		t.Errorf("explicit values overwritten: port=%d workers=%d", r.Port, r.Workers)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	ctxDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(ctxDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ctxDir, "requirements.txt"), []byte("fastapi==0.110.0\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	recipeJSON := `{
		"name": "document-portal",
		"baseImage": "docker.io/library/python:3.10-slim",
		"manifest": "requirements.txt",
		"context": "src",
		"app": "api.main:app"
	}`
	path := filepath.Join(dir, "recipe.json")
	if err := os.WriteFile(path, []byte(recipeJSON), 0644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if r.Context != ctxDir {
		t.Errorf("expected context resolved to %s, got %s", ctxDir, r.Context)
	}
	if r.Port != 8000 || r.Workers != 4 {
		t.Errorf("defaults not applied: port=%d workers=%d", r.Port, r.Workers)
	}
	if err := Validate(r); err != nil {
		t.Errorf("loaded recipe should validate, got: %v", err)
	}
}

func TestLoadFile_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for malformed recipe JSON")
	}
}
