package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// PodDeleter issues one batched deletion call for a chunk of same-namespace
// pods. The cluster client implements it; tests substitute fakes.
type PodDeleter interface {
	DeletePods(ctx context.Context, namespace string, names []string, force bool) error
}

// FlushOptions shape how a flush dispatches its chunks.
type FlushOptions struct {
	// BatchSize caps the pods named in one deletion call. Non-positive
	// values fall back to 50.
	BatchSize int
	// MaxConcurrency bounds concurrently in-flight deletion calls across
	// all namespaces. Non-positive values fall back to 4.
	MaxConcurrency int
	// ForceDelete requests immediate, non-graceful termination.
	ForceDelete bool
	// Background dispatches each chunk without waiting for the deletion
	// call to complete. Flush then returns once every chunk has been
	// submitted, not once every pod is gone.
	Background bool
	// WaitTimeout bounds the overall join so a stuck deletion call cannot
	// deadlock the run. Non-positive values fall back to 5 minutes.
	WaitTimeout time.Duration
}

// FlushStats summarizes one flush for logging and tests. In background
// mode Failures only covers calls that finished before Flush returned;
// later failures are still logged by their dispatch goroutine.
type FlushStats struct {
	Pods     int
	Chunks   int
	Failures int
	TimedOut bool
}

type podRef struct {
	namespace string
	name      string
}

// PodBatchScheduler accumulates pod deletion requests during the scan
// phase of a run and drains them in namespace-partitioned chunks. Enqueue
// is single-writer (the scan loop) and Flush single-reader, so the queue
// itself needs no locking; only dispatch fans out.
type PodBatchScheduler struct {
	deleter PodDeleter
	log     logr.Logger
	queue   []podRef
}

// NewPodBatchScheduler returns an empty scheduler dispatching through the
// given deleter.
func NewPodBatchScheduler(deleter PodDeleter, log logr.Logger) *PodBatchScheduler {
	return &PodBatchScheduler{deleter: deleter, log: log}
}

// Enqueue appends one pod deletion request. Order is preserved per
// namespace through to dispatch.
func (s *PodBatchScheduler) Enqueue(namespace, name string) {
	s.queue = append(s.queue, podRef{namespace: namespace, name: name})
}

// Len reports the number of queued entries.
func (s *PodBatchScheduler) Len() int {
	return len(s.queue)
}

// Flush drains the queue: partitions it by namespace (first-appearance
// order, FIFO within a namespace), chunks each partition to at most
// BatchSize names, and dispatches one deletion call per chunk through a
// worker pool bounded by MaxConcurrency. Chunks of different namespaces
// always run concurrently; within one namespace they are sequential unless
// Background is set, in which case each is fire-and-forget.
//
// A chunk's failure is logged with its members and never aborts other
// chunks; nothing is retried. The queue is cleared up front, so it is
// empty after Flush no matter how dispatch went.
func (s *PodBatchScheduler) Flush(ctx context.Context, opts FlushOptions) FlushStats {
	entries := s.queue
	s.queue = nil

	// Malformed entries cannot be dispatched; drop them before
	// partitioning.
	valid := entries[:0]
	for _, e := range entries {
		if e.namespace == "" || e.name == "" {
			continue
		}
		valid = append(valid, e)
	}

	stats := FlushStats{Pods: len(valid)}
	s.log.Info("flushing pod deletion queue", "pods", len(valid))
	if len(valid) == 0 {
		return stats
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	waitTimeout := opts.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Minute
	}

	order, byNamespace := groupByNamespace(valid)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var failures int32

	for _, namespace := range order {
		chunks := chunkNames(byNamespace[namespace], batchSize)
		stats.Chunks += len(chunks)

		wg.Add(1)
		go func(namespace string, chunks [][]string) {
			defer wg.Done()
			for _, chunk := range chunks {
				sem <- struct{}{}
				if opts.Background {
					// Fire and forget: the run must not stall on pod
					// termination. The call gets a fresh context so the
					// run moving on cannot cancel it; the deleter applies
					// its own per-call timeout.
					go func(chunk []string) {
						defer func() { <-sem }()
						s.deleteChunk(context.Background(), namespace, chunk, opts.ForceDelete, &failures)
					}(chunk)
					continue
				}
				s.deleteChunk(ctx, namespace, chunk, opts.ForceDelete, &failures)
				<-sem
			}
		}(namespace, chunks)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		stats.TimedOut = true
		s.log.Error(nil, "pod deletion dispatch did not settle in time, proceeding",
			"timeout", waitTimeout)
	}

	stats.Failures = int(atomic.LoadInt32(&failures))
	return stats
}

func (s *PodBatchScheduler) deleteChunk(ctx context.Context, namespace string, names []string, force bool, failures *int32) {
	if err := s.deleter.DeletePods(ctx, namespace, names, force); err != nil {
		atomic.AddInt32(failures, 1)
		s.log.Error(err, "pod chunk deletion failed",
			"namespace", namespace, "pods", names)
		return
	}
	s.log.V(1).Info("pod chunk deleted", "namespace", namespace, "count", len(names))
}

// groupByNamespace partitions queue entries preserving first-appearance
// namespace order and insertion order within each namespace.
func groupByNamespace(entries []podRef) ([]string, map[string][]string) {
	var order []string
	byNamespace := make(map[string][]string)
	for _, e := range entries {
		if _, seen := byNamespace[e.namespace]; !seen {
			order = append(order, e.namespace)
		}
		byNamespace[e.namespace] = append(byNamespace[e.namespace], e.name)
	}
	return order, byNamespace
}

// chunkNames splits names into consecutive chunks of at most size.
func chunkNames(names []string, size int) [][]string {
	var chunks [][]string
	for len(names) > size {
		chunks = append(chunks, names[:size])
		names = names[size:]
	}
	if len(names) > 0 {
		chunks = append(chunks, names)
	}
	return chunks
}
