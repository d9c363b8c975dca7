package exclude

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bryanpaget/tenant-reaper/internal/policy"
)

func writeList(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadParsing(t *testing.T) {
	dir := t.TempDir()
	nsPath := writeList(t, dir, "namespaces", `
# protected namespaces
kube-system
monitoring   # trailing comment
  padded-ns

#commented-out-ns
`)

	s, err := Load(Paths{Namespaces: nsPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, ns := range []string{"kube-system", "monitoring", "padded-ns"} {
		if !s.IsExcluded(policy.KindPod, "any", ns) {
			t.Errorf("namespace %q should be excluded", ns)
		}
	}
	if s.IsExcluded(policy.KindPod, "any", "commented-out-ns") {
		t.Error("commented-out namespace should not be excluded")
	}

	n, _, _, _ := s.Counts()
	if n != 3 {
		t.Errorf("namespace set size = %d, want 3", n)
	}
}

func TestNamespaceSupersedesKind(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Paths{
		Namespaces: writeList(t, dir, "namespaces", "shared-infra\n"),
		Pods:       writeList(t, dir, "pods", "debug-shell\n"),
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Excluded namespace protects every kind, even names not in any list.
	for _, kind := range policy.Kinds {
		if !s.IsExcluded(kind, "unlisted", "shared-infra") {
			t.Errorf("kind %s in excluded namespace should be excluded", kind)
		}
	}

	// Name exclusion is per-kind.
	if !s.IsExcluded(policy.KindPod, "debug-shell", "tenant-s-alice") {
		t.Error("listed pod name should be excluded")
	}
	if s.IsExcluded(policy.KindController, "debug-shell", "tenant-s-alice") {
		t.Error("pod list must not exclude controllers")
	}
}

func TestExactMatching(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Paths{Pods: writeList(t, dir, "pods", "debug-shell\n")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"debug-shell", true},
		{"Debug-Shell", false},
		{"debug-shell-2", false},
		{"debug", false},
	}
	for _, tt := range tests {
		if got := s.IsExcluded(policy.KindPod, tt.name, "ns"); got != tt.want {
			t.Errorf("IsExcluded(pod, %q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMissingFilesAreEmptySets(t *testing.T) {
	s, err := Load(Paths{
		Namespaces: "/nonexistent/namespaces",
		Pods:       "/nonexistent/pods",
	})
	if err != nil {
		t.Fatalf("missing files should not error: %v", err)
	}

	if s.IsExcluded(policy.KindPod, "anything", "anywhere") {
		t.Error("empty sets should exclude nothing")
	}
}

func TestEmpty(t *testing.T) {
	s := Empty()
	if s.IsExcluded(policy.KindService, "svc", "ns") {
		t.Error("Empty() should exclude nothing")
	}
}
