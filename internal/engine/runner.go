package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker is the subset of a transport worker the Runner depends on. Defined
// here rather than imported from package transport to avoid a cycle;
// transport already imports engine for Producer/Consumer/StatusStore, so
// the Runner takes its transport constructor as an injected closure instead.
type Worker interface {
	Run(ctx context.Context, producer *Producer, store *StatusStore) error
}

// Partition is one core's share of the run's global QPS/max-count, with any
// remainder folded into the first partition so the sum across cores still
// equals the configured totals exactly.
type Partition struct {
	QPS           float64
	Max           uint64
	ClientPerCore int
}

// RunnerConfig is everything the Runner needs that isn't transport-specific;
// transport-specific fields are captured in the caller's NewWorker closure.
type RunnerConfig struct {
	BindCPU       string
	QPS           float64
	Max           uint64
	Duration      time.Duration
	ClientPerCore int
	NewCache      func() (*Cache, error)
	NewWorker     func(core int, part Partition, intervalCh chan<- *StatusStore) (Worker, error)
	Logger        *slog.Logger

	// Interval>0 enables periodic running reports; OnInterval is invoked
	// once per collected round with the cross-worker merge of that round's
	// snapshots. Either being unset disables interval reporting entirely.
	Interval   time.Duration
	OnInterval func(*StatusStore)
}

// RunnerReport is the merged result of every worker's StatusStore.
type RunnerReport struct {
	Store *StatusStore
}

// Run resolves the configured CPU cores, partitions QPS/max/client-per-core
// across them, runs one worker per core pinned to that core, and merges
// every worker's StatusStore once all have returned. The Runner never
// forcibly cancels a worker; ctx cancellation is the only way to stop
// workers early, and Run simply waits for all of them to return.
func Run(ctx context.Context, cfg RunnerConfig) (*RunnerReport, error) {
	cores, err := ResolveCores(cfg.BindCPU)
	if err != nil {
		return nil, err
	}

	partitions := partition(cores, cfg.QPS, cfg.Max, cfg.ClientPerCore)

	var intervalCh chan *StatusStore
	collectorDone := make(chan struct{})
	if cfg.Interval > 0 && cfg.OnInterval != nil {
		intervalCh = make(chan *StatusStore, len(cores)*2)
		go func() {
			defer close(collectorDone)
			runIntervalCollector(intervalCh, len(cores), cfg.OnInterval)
		}()
	} else {
		close(collectorDone)
	}

	stores := make([]*StatusStore, len(cores))
	var wg sync.WaitGroup
	for i, core := range cores {
		i, core := i, core
		wg.Add(1)
		go func() {
			defer wg.Done()
			stores[i] = runOneWorker(ctx, cfg, core, partitions[i], intervalCh)
		}()
	}
	wg.Wait()

	if intervalCh != nil {
		close(intervalCh)
	}
	<-collectorDone

	merged := MergeAll(stores)
	merged.FinalizeHistogram()
	return &RunnerReport{Store: merged}, nil
}

// runIntervalCollector is oblivious to individual workers: it just drains
// intervalCh in rounds of workerCount snapshots, merges each
// round, and reports it, until the channel closes (every worker's Consumer
// has dropped its sender). A final partial round (workers finishing their
// last tick at slightly different wall-clock moments before the run ends)
// is still reported rather than discarded.
func runIntervalCollector(intervalCh <-chan *StatusStore, workerCount int, onInterval func(*StatusStore)) {
	for {
		round := make([]*StatusStore, 0, workerCount)
		for len(round) < workerCount {
			snap, ok := <-intervalCh
			if !ok {
				if len(round) > 0 {
					onInterval(MergeAll(round))
				}
				return
			}
			round = append(round, snap)
		}
		onInterval(MergeAll(round))
	}
}

// runOneWorker pins the calling goroutine's OS thread to core, builds that
// worker's own Cache/Producer/StatusStore (each exclusive to this worker,
// the shared-nothing model), and drives it to completion.
//
// Pinning only binds this goroutine's current OS thread; the socket
// goroutines a transport Worker spawns underneath it are not individually
// pinned. That still places the bulk of a worker's CPU-bound work (its
// entry goroutine and, transitively, whichever thread the Go scheduler
// keeps it on) on the intended core without requiring every child goroutine
// to re-pin itself.
func runOneWorker(ctx context.Context, cfg RunnerConfig, core int, part Partition, intervalCh chan<- *StatusStore) *StatusStore {
	logger := cfg.Logger

	if err := PinCurrentThread(core); err != nil && logger != nil {
		logger.Warn("failed to pin worker to core", "core", core, "error", err)
	}

	cache, err := cfg.NewCache()
	if err != nil {
		if logger != nil {
			logger.Error("failed to build query cache", "core", core, "error", err)
		}
		return NewStatusStore()
	}

	store := NewStatusStore()
	limiter := NewRateLimiter(part.QPS)
	producer := NewProducer(cache, limiter, cfg.Duration, store)

	worker, err := cfg.NewWorker(core, part, intervalCh)
	if err != nil {
		if logger != nil {
			logger.Error("failed to construct transport worker", "core", core, "error", err)
		}
		return store
	}

	if err := worker.Run(ctx, producer, store); err != nil && logger != nil {
		logger.Warn("worker exited with error", "core", core, "error", err)
	}
	// A run bounded only by --max (or cut short by ctx) never reaches the
	// Producer's duration Stop, so record the send duration here instead.
	if store.SendDuration == 0 && producer.SentCount() > 0 {
		store.RecordStop(time.Since(producer.started))
	}
	return store
}

// partition splits qps and max evenly across len(cores) workers, handing
// any remainder to the first worker so the sum across all partitions still
// equals the configured totals exactly.
func partition(cores []int, qps float64, max uint64, clientPerCore int) []Partition {
	n := len(cores)
	out := make([]Partition, n)
	if n == 0 {
		return out
	}

	baseQPS := qps / float64(n)
	baseMax := max / uint64(n)
	remMax := max % uint64(n)

	for i := range out {
		out[i] = Partition{QPS: baseQPS, Max: baseMax, ClientPerCore: clientPerCore}
	}
	out[0].Max += remMax
	out[0].QPS += qps - baseQPS*float64(n)
	return out
}
