// Package runner sequences one full reclamation run: controllers, then
// standalone pods, then the pod queue flush, then services.
package runner

import (
	"context"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/bryanpaget/tenant-reaper/internal/cluster"
	"github.com/bryanpaget/tenant-reaper/internal/engine"
	"github.com/bryanpaget/tenant-reaper/internal/exclude"
	"github.com/bryanpaget/tenant-reaper/internal/policy"
)

// Options wires a Runner's collaborators.
type Options struct {
	Cluster    cluster.Interface
	Policy     *policy.Policy
	Exclusions *exclude.Set
	Log        logr.Logger
	// Clock defaults to the real clock; tests inject a fixed one.
	Clock clock.PassiveClock
	// DryRun logs every would-be mutation and performs none of them.
	DryRun bool
}

// Runner executes one run to completion. It holds no state between runs;
// the caller builds a fresh one per invocation.
type Runner struct {
	cluster   cluster.Interface
	policy    *policy.Policy
	decider   *engine.Decider
	scheduler *engine.PodBatchScheduler
	clock     clock.PassiveClock
	log       logr.Logger
	dryRun    bool
}

// New assembles a Runner. In dry-run mode the pod batch scheduler is given
// a deleter that only logs, so batching still exercises the real path.
func New(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	var deleter engine.PodDeleter = opts.Cluster
	if opts.DryRun {
		deleter = dryRunDeleter{log: opts.Log}
	}

	return &Runner{
		cluster:   opts.Cluster,
		policy:    opts.Policy,
		decider:   engine.NewDecider(opts.Exclusions),
		scheduler: engine.NewPodBatchScheduler(deleter, opts.Log.WithName("batch")),
		clock:     opts.Clock,
		log:       opts.Log,
		dryRun:    opts.DryRun,
	}
}

// Run performs one full pass. The order is load-bearing: controllers are
// evaluated before the standalone pods they may have orphaned, the pod
// queue is flushed before services so a service stays resolvable while its
// backing pods drain, and services go last. Individual deletion failures
// are logged and never fail the run.
func (r *Runner) Run(ctx context.Context) error {
	r.processKind(ctx, policy.KindController, r.cluster.ListControllers)

	if err := ctx.Err(); err != nil {
		return err
	}

	r.processKind(ctx, policy.KindPod, r.cluster.ListPods)

	batch := r.policy.Batch
	stats := r.scheduler.Flush(ctx, engine.FlushOptions{
		BatchSize:      batch.BatchSize,
		MaxConcurrency: batch.MaxConcurrency,
		ForceDelete:    batch.ForceDelete,
		Background:     batch.Background,
		WaitTimeout:    batch.FlushTimeout,
	})
	r.log.Info("pod queue drained",
		"pods", stats.Pods, "chunks", stats.Chunks, "failures", stats.Failures)

	if err := ctx.Err(); err != nil {
		return err
	}

	r.processKind(ctx, policy.KindService, r.cluster.ListServices)

	return nil
}

type listFunc func(ctx context.Context) ([]cluster.Resource, error)

// processKind evaluates every candidate of one kind. A disabled kind is
// skipped without any cluster query.
func (r *Runner) processKind(ctx context.Context, kind policy.Kind, list listFunc) {
	kp := r.policy.Kinds[kind]
	if !kp.Effective() {
		r.log.Info("kind disabled, skipping", "kind", kind)
		return
	}

	resources, err := list(ctx)
	if err != nil {
		// A failed listing loses this kind for this run only; the next
		// scheduled run sees fresh state.
		r.log.Error(err, "listing failed, skipping kind", "kind", kind)
		return
	}

	now := r.clock.Now()
	for _, res := range resources {
		class, ok := r.policy.Resolve(res.Namespace)
		if !ok {
			// Normal for system namespaces; not worth more than debug.
			r.log.V(1).Info("namespace outside policy scope",
				"kind", kind, "namespace", res.Namespace, "name", res.Name)
			continue
		}

		if kind == policy.KindPod && res.Owned {
			r.log.V(1).Info("pod has a controller, reclaimed transitively",
				"namespace", res.Namespace, "name", res.Name)
			continue
		}

		rec := engine.Record{
			Kind:       kind,
			Name:       res.Name,
			Namespace:  res.Namespace,
			AgeMinutes: cluster.AgeMinutes(now, res.Created),
			Label:      res.Labels[engine.KeepAliveLabel],
		}

		decision := r.decider.Decide(rec, class, kp)
		r.act(ctx, rec, class, decision)
	}
}

// act executes one decision and logs it with enough context to reconstruct
// it: identity, age, thresholds, reason.
func (r *Runner) act(ctx context.Context, rec engine.Record, class policy.ClassPolicy, decision engine.Decision) {
	keys := []interface{}{
		"kind", rec.Kind,
		"namespace", rec.Namespace,
		"name", rec.Name,
		"ageMinutes", rec.AgeMinutes,
		"class", class.Class,
		"softMinutes", class.SoftMinutes,
		"hardMinutes", class.HardMinutes,
		"reason", decision.Reason,
	}

	switch decision.Action {
	case engine.Preserve:
		r.log.V(1).Info("preserving", keys...)

	case engine.Enqueue:
		r.log.Info("queueing pod for deletion", keys...)
		r.scheduler.Enqueue(rec.Namespace, rec.Name)

	case engine.DeleteNow:
		if r.dryRun {
			r.log.Info("[dry-run] would delete", keys...)
			return
		}
		r.log.Info("deleting", keys...)
		if err := r.cluster.DeleteResource(ctx, rec.Kind, rec.Namespace, rec.Name, false); err != nil {
			r.log.Error(err, "deletion failed",
				"kind", rec.Kind, "namespace", rec.Namespace, "name", rec.Name)
		}
	}
}

// dryRunDeleter stands in for the cluster during dry runs.
type dryRunDeleter struct {
	log logr.Logger
}

func (d dryRunDeleter) DeletePods(_ context.Context, namespace string, names []string, force bool) error {
	d.log.Info("[dry-run] would delete pod chunk",
		"namespace", namespace, "pods", names, "force", force)
	return nil
}
