package policy

import (
	"strings"
	"testing"
	"time"
)

const testConfig = `
tenants:
  - class: student
    prefix: tenant-s-
    soft: 1D
    hard: 36h
  - class: faculty
    prefix: tenant-f-
    soft: 2160
    hard: 5040M
  - class: industry
    prefix: tenant-
    soft: 7D
    hard: 14D
kinds:
  controller:
    enabled: "true"
    hard: "yes"
    soft: "on"
  pod:
    enabled: "1"
    hard: "true"
    soft: "true"
  service:
    enabled: "true"
    hard: "false"
    soft: "true"
pods:
  batchSize: 25
  force: "no"
  background: "true"
  maxConcurrency: 8
  callTimeout: 90s
`

func mustParse(t *testing.T, cfg string) *Policy {
	t.Helper()
	p, err := Parse([]byte(cfg))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return p
}

func TestResolve(t *testing.T) {
	p := mustParse(t, testConfig)

	tests := []struct {
		namespace string
		class     TenantClass
		match     bool
	}{
		{"tenant-s-alice", "student", true},
		{"tenant-f-bob", "faculty", true},
		// First declared prefix wins: tenant-x- only matches the broad
		// industry prefix.
		{"tenant-x-acme", "industry", true},
		{"kube-system", "", false},
		{"default", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			got, ok := p.Resolve(tt.namespace)
			if ok != tt.match {
				t.Fatalf("Resolve(%q) match = %v, want %v", tt.namespace, ok, tt.match)
			}
			if ok && got.Class != tt.class {
				t.Errorf("Resolve(%q) class = %s, want %s", tt.namespace, got.Class, tt.class)
			}
		})
	}
}

func TestResolveThresholds(t *testing.T) {
	p := mustParse(t, testConfig)

	student, ok := p.Resolve("tenant-s-alice")
	if !ok {
		t.Fatal("expected student namespace to resolve")
	}
	if student.SoftMinutes != 1440 {
		t.Errorf("student soft = %d, want 1440", student.SoftMinutes)
	}
	if student.HardMinutes != 2160 {
		t.Errorf("student hard = %d, want 2160", student.HardMinutes)
	}

	faculty, _ := p.Resolve("tenant-f-bob")
	if faculty.SoftMinutes != 2160 || faculty.HardMinutes != 5040 {
		t.Errorf("faculty thresholds = %d/%d, want 2160/5040",
			faculty.SoftMinutes, faculty.HardMinutes)
	}
}

func TestParseDurationMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"90", 90, false},
		{"90M", 90, false},
		{"90m", 90, false},
		{"2H", 120, false},
		{"2h", 120, false},
		{"1D", 1440, false},
		{"3d", 4320, false},
		{"0", 0, false},
		{" 15 ", 15, false},
		{"", 0, true},
		{"-5", 0, true},
		{"-1H", 0, true},
		{"abc", 0, true},
		{"1W", 0, true},
		{"H", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDurationMinutes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDurationMinutes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDurationMinutes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	truthy := []string{"true", "TRUE", "True", "yes", "YES", "on", "1", " true "}
	for _, s := range truthy {
		if !ParseBool(s) {
			t.Errorf("ParseBool(%q) = false, want true", s)
		}
	}

	falsy := []string{"", "false", "FALSE", "0", "off", "no", "enabled", "t", "y"}
	for _, s := range falsy {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true, want false", s)
		}
	}
}

func TestKindEnablement(t *testing.T) {
	cfg := `
tenants:
  - class: student
    prefix: tenant-s-
    soft: 1D
    hard: 2D
kinds:
  controller:
    enabled: "true"
    hard: "false"
    soft: "false"
  pod:
    enabled: "false"
    hard: "true"
    soft: "true"
  service:
    enabled: "true"
    hard: "true"
    soft: "false"
`
	p := mustParse(t, cfg)

	// Master flag on, but both limit types off: the narrower setting wins.
	if p.KindEnabled(KindController) {
		t.Error("controller should be disabled when both limit types are off")
	}
	if p.KindEnabled(KindPod) {
		t.Error("pod should be disabled when the master flag is off")
	}
	if !p.KindEnabled(KindService) {
		t.Error("service should be enabled with hard limit on")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  string
		want string
	}{
		{
			name: "no tenants",
			cfg:  "kinds: {}",
			want: "no tenant classes",
		},
		{
			name: "missing prefix",
			cfg: `
tenants:
  - class: student
    soft: 1D
    hard: 2D
`,
			want: "missing class or prefix",
		},
		{
			name: "bad soft threshold",
			cfg: `
tenants:
  - class: student
    prefix: tenant-s-
    soft: soon
    hard: 2D
`,
			want: "soft threshold",
		},
		{
			name: "missing hard threshold",
			cfg: `
tenants:
  - class: student
    prefix: tenant-s-
    soft: 1D
`,
			want: "hard threshold",
		},
		{
			name: "unknown kind",
			cfg: `
tenants:
  - class: student
    prefix: tenant-s-
    soft: 1D
    hard: 2D
kinds:
  cronjob:
    enabled: "true"
`,
			want: "unknown resource kind",
		},
		{
			name: "bad call timeout",
			cfg: `
tenants:
  - class: student
    prefix: tenant-s-
    soft: 1D
    hard: 2D
pods:
  callTimeout: whenever
`,
			want: "callTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.cfg))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBatchDefaults(t *testing.T) {
	cfg := `
tenants:
  - class: student
    prefix: tenant-s-
    soft: 1D
    hard: 2D
pods:
  batchSize: -3
  maxConcurrency: 0
`
	p := mustParse(t, cfg)

	if p.Batch.BatchSize != DefaultBatchSize {
		t.Errorf("batch size = %d, want default %d", p.Batch.BatchSize, DefaultBatchSize)
	}
	if p.Batch.MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("max concurrency = %d, want default %d", p.Batch.MaxConcurrency, DefaultMaxConcurrency)
	}
	if p.Batch.CallTimeout != DefaultCallTimeout {
		t.Errorf("call timeout = %v, want default %v", p.Batch.CallTimeout, DefaultCallTimeout)
	}
	if p.Batch.ForceDelete || p.Batch.Background {
		t.Error("force and background should default to false")
	}
}

func TestBatchOverrides(t *testing.T) {
	p := mustParse(t, testConfig)

	if p.Batch.BatchSize != 25 {
		t.Errorf("batch size = %d, want 25", p.Batch.BatchSize)
	}
	if p.Batch.MaxConcurrency != 8 {
		t.Errorf("max concurrency = %d, want 8", p.Batch.MaxConcurrency)
	}
	if p.Batch.CallTimeout != 90*time.Second {
		t.Errorf("call timeout = %v, want 90s", p.Batch.CallTimeout)
	}
	if !p.Batch.Background {
		t.Error("background should be true")
	}
	if p.Batch.ForceDelete {
		t.Error("force should be false")
	}
}
