// Package policy maps namespaces to tenant classes and their retention
// thresholds, loaded once per run from a static YAML file.
package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Kind identifies one of the resource kinds the reaper evaluates.
type Kind string

const (
	KindController Kind = "controller"
	KindPod        Kind = "pod"
	KindService    Kind = "service"
)

// Kinds lists every kind the reaper knows about, in processing order.
var Kinds = []Kind{KindController, KindPod, KindService}

// TenantClass is a namespace-prefix-derived tenant category.
type TenantClass string

// ClassPolicy holds the retention thresholds for one tenant class.
// Thresholds are minutes; a resource at exactly the threshold has crossed it.
type ClassPolicy struct {
	Class       TenantClass
	Prefix      string
	SoftMinutes int64
	HardMinutes int64
}

// KindPolicy holds the per-kind enable switches. A kind with both limit
// types disabled is never processed, regardless of the master Enabled flag.
type KindPolicy struct {
	Enabled     bool
	HardEnabled bool
	SoftEnabled bool
}

// Effective reports whether any resource of this kind should be evaluated.
func (k KindPolicy) Effective() bool {
	return k.Enabled && (k.HardEnabled || k.SoftEnabled)
}

// BatchConfig holds the pod deletion batching parameters.
type BatchConfig struct {
	BatchSize      int
	ForceDelete    bool
	Background     bool
	MaxConcurrency int
	CallTimeout    time.Duration
	FlushTimeout   time.Duration
}

// Defaults applied when the config file omits or zeroes a batching value.
const (
	DefaultBatchSize      = 50
	DefaultMaxConcurrency = 4
	DefaultCallTimeout    = 2 * time.Minute
	DefaultFlushTimeout   = 5 * time.Minute
)

// Policy is the compiled, immutable configuration for one run.
type Policy struct {
	Classes []ClassPolicy
	Kinds   map[Kind]KindPolicy
	Batch   BatchConfig
}

// Resolve maps a namespace to its tenant class policy. Classes are tested
// in declared order and the first matching prefix wins. A false return
// means the namespace is outside policy scope, which is the normal case
// for system namespaces, not an error.
func (p *Policy) Resolve(namespace string) (ClassPolicy, bool) {
	for _, c := range p.Classes {
		if strings.HasPrefix(namespace, c.Prefix) {
			return c, true
		}
	}
	return ClassPolicy{}, false
}

// KindEnabled reports whether the given kind should be processed at all.
func (p *Policy) KindEnabled(kind Kind) bool {
	return p.Kinds[kind].Effective()
}

// ParseBool normalizes the string-typed booleans accepted at configuration
// boundaries. Exactly "true", "yes", "on" and "1" (case-insensitive,
// trimmed) are true; everything else, including empty, is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true
	}
	return false
}

// ParseDurationMinutes parses a retention threshold: a non-negative integer
// with an optional unit suffix (M=minutes, H=hours, D=days,
// case-insensitive). No suffix means minutes.
func ParseDurationMinutes(s string) (int64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}

	multiplier := int64(1)
	switch v[len(v)-1] {
	case 'm', 'M':
		v = v[:len(v)-1]
	case 'h', 'H':
		multiplier = 60
		v = v[:len(v)-1]
	case 'd', 'D':
		multiplier = 24 * 60
		v = v[:len(v)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return n * multiplier, nil
}

// fileConfig mirrors the YAML config file. Booleans are strings so that
// operator-supplied spellings ("yes", "on") pass through ParseBool once,
// at the load boundary.
type fileConfig struct {
	Tenants []struct {
		Class  string `yaml:"class"`
		Prefix string `yaml:"prefix"`
		Soft   string `yaml:"soft"`
		Hard   string `yaml:"hard"`
	} `yaml:"tenants"`
	Kinds map[string]struct {
		Enabled string `yaml:"enabled"`
		Hard    string `yaml:"hard"`
		Soft    string `yaml:"soft"`
	} `yaml:"kinds"`
	Pods struct {
		BatchSize      int    `yaml:"batchSize"`
		Force          string `yaml:"force"`
		Background     string `yaml:"background"`
		MaxConcurrency int    `yaml:"maxConcurrency"`
		CallTimeout    string `yaml:"callTimeout"`
		FlushTimeout   string `yaml:"flushTimeout"`
	} `yaml:"pods"`
}

// Load reads and validates the policy file. Every declared tenant class is
// validated here, before any cluster call, so a run can never start with a
// class whose thresholds are missing or unparsable.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config: %w", err)
	}
	return Parse(data)
}

// Parse compiles raw YAML into an immutable Policy.
func Parse(data []byte) (*Policy, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}

	if len(fc.Tenants) == 0 {
		return nil, fmt.Errorf("policy config declares no tenant classes")
	}

	p := &Policy{
		Kinds: make(map[Kind]KindPolicy, len(Kinds)),
	}

	for _, t := range fc.Tenants {
		if t.Class == "" || t.Prefix == "" {
			return nil, fmt.Errorf("tenant class entry missing class or prefix")
		}
		soft, err := ParseDurationMinutes(t.Soft)
		if err != nil {
			return nil, fmt.Errorf("class %s: soft threshold: %w", t.Class, err)
		}
		hard, err := ParseDurationMinutes(t.Hard)
		if err != nil {
			return nil, fmt.Errorf("class %s: hard threshold: %w", t.Class, err)
		}
		p.Classes = append(p.Classes, ClassPolicy{
			Class:       TenantClass(t.Class),
			Prefix:      t.Prefix,
			SoftMinutes: soft,
			HardMinutes: hard,
		})
	}

	for name, k := range fc.Kinds {
		kind := Kind(name)
		switch kind {
		case KindController, KindPod, KindService:
		default:
			return nil, fmt.Errorf("unknown resource kind %q in policy config", name)
		}
		p.Kinds[kind] = KindPolicy{
			Enabled:     ParseBool(k.Enabled),
			HardEnabled: ParseBool(k.Hard),
			SoftEnabled: ParseBool(k.Soft),
		}
	}

	batch, err := parseBatchConfig(fc)
	if err != nil {
		return nil, err
	}
	p.Batch = batch

	return p, nil
}

func parseBatchConfig(fc fileConfig) (BatchConfig, error) {
	b := BatchConfig{
		BatchSize:      fc.Pods.BatchSize,
		ForceDelete:    ParseBool(fc.Pods.Force),
		Background:     ParseBool(fc.Pods.Background),
		MaxConcurrency: fc.Pods.MaxConcurrency,
		CallTimeout:    DefaultCallTimeout,
		FlushTimeout:   DefaultFlushTimeout,
	}

	// Invalid batching numbers fall back to defaults rather than aborting:
	// they only shape dispatch, never the delete/preserve decision.
	if b.BatchSize <= 0 {
		b.BatchSize = DefaultBatchSize
	}
	if b.MaxConcurrency <= 0 {
		b.MaxConcurrency = DefaultMaxConcurrency
	}

	if fc.Pods.CallTimeout != "" {
		d, err := time.ParseDuration(fc.Pods.CallTimeout)
		if err != nil {
			return b, fmt.Errorf("pods.callTimeout: %w", err)
		}
		b.CallTimeout = d
	}
	if fc.Pods.FlushTimeout != "" {
		d, err := time.ParseDuration(fc.Pods.FlushTimeout)
		if err != nil {
			return b, fmt.Errorf("pods.flushTimeout: %w", err)
		}
		b.FlushTimeout = d
	}

	return b, nil
}
