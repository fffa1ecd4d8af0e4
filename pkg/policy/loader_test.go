package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/farmops/pondsync/pkg/ponds"
)

const reservedPolicy = `# Pond 13 is reserved for the koi.
# Ask the grounds team first.
package pondsync.admission.reserved

import rego.v1

deny contains msg if {
	input.operation == "create"
	input.name == "Pond 13"
	msg := "Pond 13 is reserved"
}
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := writePolicy(t, t.TempDir(), "reserved.rego", reservedPolicy)

	policy, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "reserved" {
		t.Errorf("expected name reserved, got %s", policy.Name)
	}
	if policy.Description != "Pond 13 is reserved for the koi. Ask the grounds team first." {
		t.Errorf("unexpected description: %q", policy.Description)
	}
	if policy.Source != path || !policy.Enabled {
		t.Errorf("unexpected policy: %+v", policy)
	}
}

func TestLoadFromFile_Unsupported(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := writePolicy(t, t.TempDir(), "policy.json", `{}`)

	if _, err := loader.loadFromFile(path); err == nil {
		t.Fatal("expected error for non-rego file")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writePolicy(t, dir, "reserved.rego", reservedPolicy)
	writePolicy(t, dir, "reserved_test.rego", "package x")
	writePolicy(t, dir, "README.md", "docs")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePolicy(t, filepath.Join(dir, "nested"), "other.rego", "package pondsync.admission.other\n")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	writePolicy(t, dir, "reserved.rego", reservedPolicy)

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	reasons, err := eng.Admit(ctx, ponds.AdmissionInput{Operation: ponds.OpCreate, Name: "Pond 13"})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != "Pond 13 is reserved" {
		t.Errorf("unexpected reasons: %v", reasons)
	}

	if err := eng.LoadPolicies(ctx, []string{dir}); err == nil {
		t.Error("expected error loading the same policy twice")
	}
}

func TestEngineLoadPolicies_InvalidRego(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package broken\n\ndeny contains msg if {\n")

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Fatal("expected compile error")
	}
}
