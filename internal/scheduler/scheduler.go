// Package scheduler drives chunk×tool work for every sample under the
// two-dimensional concurrency cap: at most MaxSamples samples and at most
// MaxChunksPerSample chunks per sample are in flight at once, and the
// thread budget is divided by the product of the caps so nested
// parallelism never oversubscribes the machine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tcrflow/internal/budget"
	"tcrflow/internal/cache"
	"tcrflow/internal/chunk"
	"tcrflow/internal/clonotype"
	"tcrflow/internal/merge"
	"tcrflow/internal/tool"
)

// State is the lifecycle of one Sample×Tool pair.
type State string

const (
	StatePlanned        State = "PLANNED"
	StateDispatched     State = "CHUNKS_DISPATCHED"
	StateChunksComplete State = "CHUNKS_COMPLETE"
	StateMerged         State = "MERGED"
	StateDone           State = "DONE"
	StatePartialFailure State = "PARTIAL_FAILURE"
)

// Config sizes the scheduler.
type Config struct {
	TotalThreads       int
	MaxSamples         int
	MaxChunksPerSample int
}

// SampleWork is one sample's planned chunk list.
type SampleWork struct {
	Sample string
	Chunks []chunk.Chunk
}

// PairReport is the outcome of one Sample×Tool pair. Failures are
// recorded here, never propagated: one pair's failure cannot halt its
// siblings.
type PairReport struct {
	Sample string
	Tool   string
	State  State

	ThreadsPerUnit int
	CacheHits      int
	CacheMisses    int

	// ChunkErrors maps failed chunk ordinals to their error strings.
	ChunkErrors map[int]string

	Result  *merge.SampleResult
	Err     error
	Elapsed time.Duration
}

// Scheduler fans chunk tasks out to the cache manager and tool runners.
type Scheduler struct {
	cfg     Config
	cache   *cache.Manager
	runners []tool.Runner
	log     *slog.Logger

	threadsPerUnit int
	unitSem        chan struct{}
}

// New validates cfg and builds a Scheduler over the given runners.
func New(cfg Config, cm *cache.Manager, runners []tool.Runner, log *slog.Logger) (*Scheduler, error) {
	if cfg.TotalThreads < 1 {
		return nil, fmt.Errorf("scheduler: total threads must be >= 1, got %d", cfg.TotalThreads)
	}
	if cfg.MaxSamples < 1 || cfg.MaxChunksPerSample < 1 {
		return nil, fmt.Errorf("scheduler: concurrency caps must be >= 1")
	}
	if cm == nil {
		return nil, fmt.Errorf("scheduler: cache manager is required")
	}
	if len(runners) == 0 {
		return nil, fmt.Errorf("scheduler: at least one tool runner is required")
	}
	if log == nil {
		log = slog.Default()
	}

	units := cfg.MaxSamples * cfg.MaxChunksPerSample
	s := &Scheduler{
		cfg:            cfg,
		cache:          cm,
		runners:        runners,
		log:            log,
		threadsPerUnit: budget.PerUnit(cfg.TotalThreads, units),
		unitSem:        make(chan struct{}, budget.EffectiveUnits(cfg.TotalThreads, units)),
	}
	return s, nil
}

// ThreadsPerUnit exposes the per-unit allocation for logging/manifest.
func (s *Scheduler) ThreadsPerUnit() int { return s.threadsPerUnit }

// Run processes all samples and returns one report per Sample×Tool pair,
// ordered by (sample, tool). Cancellation of ctx stops dispatching new
// work; already-running tool invocations see the same cancellation.
func (s *Scheduler) Run(ctx context.Context, work []SampleWork) []PairReport {
	sampleSem := make(chan struct{}, s.cfg.MaxSamples)

	var mu sync.Mutex
	var reports []PairReport

	var wg sync.WaitGroup
	for _, w := range work {
		wg.Add(1)
		go func(w SampleWork) {
			defer wg.Done()

			select {
			case sampleSem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				for _, r := range s.runners {
					reports = append(reports, PairReport{
						Sample: w.Sample, Tool: r.Name(),
						State: StatePlanned, Err: ctx.Err(),
					})
				}
				mu.Unlock()
				return
			}
			defer func() { <-sampleSem }()

			// One chunk cap per sample, shared by both tools.
			chunkSem := make(chan struct{}, s.cfg.MaxChunksPerSample)

			var pw sync.WaitGroup
			for _, r := range s.runners {
				pw.Add(1)
				go func(r tool.Runner) {
					defer pw.Done()
					rep := s.runPair(ctx, w, r, chunkSem)
					mu.Lock()
					reports = append(reports, rep)
					mu.Unlock()
				}(r)
			}
			pw.Wait()
		}(w)
	}
	wg.Wait()

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Sample != reports[j].Sample {
			return reports[i].Sample < reports[j].Sample
		}
		return reports[i].Tool < reports[j].Tool
	})
	return reports
}

// runPair executes every chunk of one Sample×Tool pair, waits for the
// join barrier, and merges whatever succeeded.
func (s *Scheduler) runPair(ctx context.Context, w SampleWork, r tool.Runner, chunkSem chan struct{}) PairReport {
	start := time.Now()
	rep := PairReport{
		Sample:         w.Sample,
		Tool:           r.Name(),
		State:          StatePlanned,
		ThreadsPerUnit: s.threadsPerUnit,
		ChunkErrors:    make(map[int]string),
	}

	artifacts := make(map[int]string, len(w.Chunks))
	var mu sync.Mutex

	rep.State = StateDispatched
	s.log.Info("dispatching chunks",
		"sample", w.Sample, "tool", r.Name(),
		"chunks", len(w.Chunks), "threads_per_unit", s.threadsPerUnit)

	var cw sync.WaitGroup
	for _, ch := range w.Chunks {
		cw.Add(1)
		go func(ch chunk.Chunk) {
			defer cw.Done()

			fail := func(err error) {
				mu.Lock()
				rep.ChunkErrors[ch.Index] = err.Error()
				mu.Unlock()
			}

			select {
			case chunkSem <- struct{}{}:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
			defer func() { <-chunkSem }()

			select {
			case s.unitSem <- struct{}{}:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
			defer func() { <-s.unitSem }()

			key, err := cache.NewKey(ch, r.Params())
			if err != nil {
				fail(err)
				return
			}

			res, claim, err := s.cache.Acquire(ctx, key)
			if err != nil {
				// Either cancellation or a failure propagated from the
				// claim holder of this key.
				fail(err)
				return
			}
			if claim == nil {
				mu.Lock()
				rep.CacheHits++
				artifacts[ch.Index] = res.TablePath
				mu.Unlock()
				return
			}

			mu.Lock()
			rep.CacheMisses++
			mu.Unlock()

			out, runErr := r.Run(ctx, ch, s.threadsPerUnit, claim.WorkDir())
			if runErr != nil {
				_ = claim.Fail(runErr)
				fail(runErr)
				return
			}
			cres, cerr := claim.Complete(out.TablePath)
			if cerr != nil {
				fail(cerr)
				return
			}
			mu.Lock()
			artifacts[ch.Index] = cres.TablePath
			mu.Unlock()
		}(ch)
	}

	// Join barrier: merge never starts before every chunk task for this
	// pair is terminal.
	cw.Wait()
	rep.State = StateChunksComplete

	if len(artifacts) == 0 {
		rep.State = StatePartialFailure
		rep.Err = fmt.Errorf("%s/%s: all %d chunks failed", w.Sample, r.Name(), len(w.Chunks))
		rep.Elapsed = time.Since(start)
		s.log.Warn("pair produced no result", "sample", w.Sample, "tool", r.Name())
		return rep
	}

	parse, ok := clonotype.ParserFor(r.Name())
	if !ok {
		rep.State = StatePartialFailure
		rep.Err = fmt.Errorf("no parser for tool %q", r.Name())
		rep.Elapsed = time.Since(start)
		return rep
	}

	tables, dropped := merge.ParseTables(w.Sample, r.Name(), parse, artifacts, s.log)
	missing := make([]int, 0, len(rep.ChunkErrors)+len(dropped))
	for idx := range rep.ChunkErrors {
		missing = append(missing, idx)
	}
	missing = append(missing, dropped...)

	merged, err := merge.Merge(w.Sample, r.Name(), tables, missing, s.log)
	if err != nil {
		rep.State = StatePartialFailure
		rep.Err = err
		rep.Elapsed = time.Since(start)
		return rep
	}
	rep.State = StateMerged
	rep.Result = &merged
	rep.State = StateDone
	rep.Elapsed = time.Since(start)
	return rep
}
