// Package daemon advances started runs on a cron schedule.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/config"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/engine"
	"github.com/hochfrequenz/repo-rlm/internal/logging"
	"github.com/hochfrequenz/repo-rlm/internal/observer"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Stepper is the part of the engine the daemon drives
type Stepper interface {
	ListRuns(ctx context.Context, opts catalog.ListOptions) ([]*catalog.RunRecord, error)
	ExecuteStep(ctx context.Context, runID string, maxSteps int) (*engine.StepReport, error)
}

// Daemon advances every pending or running run by a bounded number of
// steps per tick. Different runs are stepped concurrently; one run is
// only ever stepped by one goroutine.
type Daemon struct {
	stepper      Stepper
	schedule     cron.Schedule
	stepsPerTick int
	maxParallel  int
	observer     *observer.Observer
	log          *logging.Logger
	now          func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	tokens  map[string]int // last seen token counter per run
}

// New creates a Daemon from the [daemon] config section
func New(cfg config.DaemonConfig, stepper Stepper, obs *observer.Observer, log *logging.Logger) (*Daemon, error) {
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	sched, _ := ParseCron(cfg.Cron)
	if obs == nil {
		obs = observer.New(10 * time.Minute)
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Daemon{
		stepper:      stepper,
		schedule:     sched,
		stepsPerTick: cfg.StepsPerTick,
		maxParallel:  cfg.MaxParallelRuns,
		observer:     obs,
		log:          log.WithComponent("daemon"),
		now:          time.Now,
		tokens:       make(map[string]int),
	}, nil
}

// NextRun returns the next scheduled tick after t
func (d *Daemon) NextRun(t time.Time) time.Time {
	return d.schedule.Next(t)
}

// LastRun returns when the last tick finished
func (d *Daemon) LastRun() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRun
}

// TickReport summarizes one tick
type TickReport struct {
	Runs      int
	Processed int
	Finished  []string
	Failed    map[string]error
}

// Tick advances all pending and running runs once. Errors of individual
// runs are collected in the report; only a failure to list runs aborts.
func (d *Daemon) Tick(ctx context.Context) (*TickReport, error) {
	var ids []string
	for _, status := range []domain.RunStatus{domain.RunPending, domain.RunRunning} {
		recs, err := d.stepper.ListRuns(ctx, catalog.ListOptions{Status: status})
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
	}

	report := &TickReport{Runs: len(ids), Failed: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxParallel)
	for _, id := range ids {
		g.Go(func() error {
			start := d.now()
			sr, err := d.stepper.ExecuteStep(gctx, id, d.stepsPerTick)
			elapsed := d.now().Sub(start)

			mu.Lock()
			defer mu.Unlock()
			if sr != nil {
				report.Processed += len(sr.ProcessedNodes)
				spent := 0
				if sr.Run != nil {
					spent = d.tokenGrowth(id, sr.Run.Counters.TokensUsed)
					if sr.Run.Status.Terminal() {
						report.Finished = append(report.Finished, id)
					}
				}
				d.observer.RecordSteps(id, len(sr.ProcessedNodes), elapsed, spent)
			}
			if err != nil {
				report.Failed[id] = err
				d.log.WithRun(id).Warn("step failed", "error", err)
			}
			// a context cancellation stops the whole tick
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	d.mu.Lock()
	d.lastRun = d.now()
	d.mu.Unlock()

	d.log.Info("tick finished",
		"runs", report.Runs,
		"processed", report.Processed,
		"finished", len(report.Finished),
		"failed", len(report.Failed),
	)
	return report, err
}

func (d *Daemon) tokenGrowth(runID string, used int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	growth := used - d.tokens[runID]
	d.tokens[runID] = used
	if growth < 0 {
		return 0
	}
	return growth
}

// Run ticks on schedule until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	for {
		next := d.NextRun(d.now())
		d.log.Debug("next tick", "at", next)

		timer := time.NewTimer(next.Sub(d.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := d.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("tick failed", "error", err)
		}
	}
}

// Metrics returns the throughput observed so far
func (d *Daemon) Metrics() observer.Metrics {
	return d.observer.GetMetrics()
}
