// Package engine holds the per-resource reclamation decision logic and the
// pod deletion batch scheduler.
package engine

import (
	"fmt"
	"strings"

	"github.com/bryanpaget/tenant-reaper/internal/exclude"
	"github.com/bryanpaget/tenant-reaper/internal/policy"
)

// KeepAliveLabel is the protective label key. A resource past its soft
// limit is preserved when this label's value normalizes to exactly "true".
// The hard limit ignores it.
const KeepAliveLabel = "reclaim.tenant-reaper.io/keep-alive"

// Action is the outcome of evaluating one resource.
type Action int

const (
	// Preserve leaves the resource alone.
	Preserve Action = iota
	// DeleteNow deletes the resource immediately (controllers, services).
	DeleteNow
	// Enqueue defers the deletion to the pod batch scheduler.
	Enqueue
)

func (a Action) String() string {
	switch a {
	case DeleteNow:
		return "delete"
	case Enqueue:
		return "enqueue"
	default:
		return "preserve"
	}
}

// Record is the unit of evaluation, rebuilt fresh from live cluster state
// each run. Label carries the raw protective label value, empty when the
// label is absent or unreadable.
type Record struct {
	Kind       policy.Kind
	Name       string
	Namespace  string
	AgeMinutes int64
	Label      string
}

// Decision is an Action plus a human-readable reason for the log.
type Decision struct {
	Action Action
	Reason string
}

// Decider applies the retention policy to individual resources. It never
// fails: unreadable metadata is treated as the fail-safe value upstream.
type Decider struct {
	exclusions *exclude.Set
}

// NewDecider returns a Decider consulting the given exclusion sets.
func NewDecider(exclusions *exclude.Set) *Decider {
	return &Decider{exclusions: exclusions}
}

// Decide evaluates one resource against its tenant class thresholds. The
// steps below short-circuit in order; exactly one path executes:
//
//  1. excluded resources are preserved, no matter what;
//  2. at or past the hard limit, deletion is unconditional — the
//     protective label is never consulted;
//  3. at or past the soft limit, the protective label decides;
//  4. otherwise the resource is within limits.
//
// Age comparisons are inclusive: a resource exactly at a threshold has
// crossed it.
func (d *Decider) Decide(rec Record, class policy.ClassPolicy, kp policy.KindPolicy) Decision {
	if d.exclusions.IsExcluded(rec.Kind, rec.Name, rec.Namespace) {
		return Decision{Preserve, "excluded"}
	}

	if kp.HardEnabled && rec.AgeMinutes >= class.HardMinutes {
		return Decision{deleteAction(rec.Kind), "hard limit"}
	}

	if kp.SoftEnabled && rec.AgeMinutes >= class.SoftMinutes {
		if strings.ToLower(strings.TrimSpace(rec.Label)) == "true" {
			return Decision{Preserve, "protected"}
		}
		if rec.Label == "" {
			return Decision{deleteAction(rec.Kind), "soft limit, no label"}
		}
		// Keep the raw value in the reason so the log shows what failed
		// to protect the resource.
		return Decision{deleteAction(rec.Kind), fmt.Sprintf("soft limit, label %q", rec.Label)}
	}

	return Decision{Preserve, "within limits"}
}

// deleteAction picks the deletion mode for a kind: pods are batched, the
// rest are deleted on the spot.
func deleteAction(kind policy.Kind) Action {
	if kind == policy.KindPod {
		return Enqueue
	}
	return DeleteNow
}
