package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"
)

// ReplayConfig configures a Replay scheduler
type ReplayConfig struct {
	Log    log.Logger
	Events []Event
	// Workers bounds the number of threads replayed concurrently, 0 means
	// one goroutine per recorded thread
	Workers int
}

// Replay is a Scheduler that re-issues a recorded callback stream. Events of
// different threads between two barriers are dispatched concurrently while
// each thread's events keep their recorded order.
type Replay struct {
	cfg ReplayConfig
	log log.Logger
}

var _ Scheduler = (*Replay)(nil)

// NewReplay creates a replay scheduler
func NewReplay(cfg ReplayConfig) *Replay {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Replay{
		cfg: cfg,
		log: cfg.Log.New("component", "replay"),
	}
}

// replayRun holds the state of a single Run call
type replayRun struct {
	listener Listener
	guard    InvocationGuard
	dryRun   bool
	vetoed   sync.Map
}

// Run replays the events selected by plan into listener
func (r *Replay) Run(ctx context.Context, plan Plan, listener Listener) error {
	run := &replayRun{listener: listener, dryRun: plan.DryRun}
	if g, ok := listener.(InvocationGuard); ok && !plan.DryRun {
		run.guard = g
	}

	selected := r.selectEvents(plan)
	r.log.Debug("Replaying events", "total", len(r.cfg.Events), "selected", len(selected), "dryRun", plan.DryRun)

	var batch []Event
	for _, ev := range selected {
		if ev.Thread != "" {
			batch = append(batch, ev)
			continue
		}
		if err := r.runBatch(ctx, run, batch); err != nil {
			return err
		}
		batch = batch[:0]
		if err := ctx.Err(); err != nil {
			return err
		}
		run.dispatch(ev)
	}
	return r.runBatch(ctx, run, batch)
}

func (r *Replay) selectEvents(plan Plan) []Event {
	selected := make([]Event, 0, len(r.cfg.Events))
	for _, ev := range r.cfg.Events {
		switch ev.Kind {
		case EventBeforeClass, EventAfterClass:
			if !plan.IncludesClass(ev.Class) {
				continue
			}
		case EventConfigurationFailure, EventConfigurationSkip:
			if plan.DryRun || (ev.Class != "" && !plan.IncludesClass(ev.Class)) {
				continue
			}
		default:
			if !plan.IncludesMethod(ev.Class, ev.Method.Name) {
				continue
			}
		}
		selected = append(selected, ev)
	}
	return selected
}

// runBatch dispatches one segment between barriers, a goroutine per thread
func (r *Replay) runBatch(ctx context.Context, run *replayRun, batch []Event) error {
	if len(batch) == 0 {
		return nil
	}

	var order []string
	byThread := make(map[string][]Event)
	for _, ev := range batch {
		if _, ok := byThread[ev.Thread]; !ok {
			order = append(order, ev.Thread)
		}
		byThread[ev.Thread] = append(byThread[ev.Thread], ev)
	}

	base := pool.New()
	if r.cfg.Workers > 0 {
		base = base.WithMaxGoroutines(r.cfg.Workers)
	}
	p := base.WithErrors().WithContext(ctx)
	for _, thread := range order {
		events := byThread[thread]
		p.Go(func(ctx context.Context) error {
			for _, ev := range events {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("thread %s: %w", thread, err)
				}
				run.dispatch(ev)
			}
			return nil
		})
	}
	return p.Wait()
}

func (run *replayRun) dispatch(ev Event) {
	l := run.listener
	switch ev.Kind {
	case EventBeforeClass:
		l.OnBeforeClass(Class{Name: ev.Class})
		return
	case EventAfterClass:
		l.OnAfterClass(Class{Name: ev.Class})
		return
	case EventConfigurationFailure:
		l.OnConfigurationFailure(ev.Result())
		return
	case EventConfigurationSkip:
		l.OnConfigurationSkip(ev.Result())
		return
	}

	key := ev.resultKey()
	if _, vetoed := run.vetoed.Load(key); vetoed {
		return
	}

	res := ev.Result()
	if ev.Kind == EventTestStart {
		l.OnTestStart(res)
		if run.guard == nil {
			return
		}
		if err := run.guard.BeforeInvocation(res); err != nil {
			run.vetoed.Store(key, struct{}{})
			res.Err = err
			res.WillRetry = false
			l.OnTestSkipped(res)
		}
		return
	}

	if run.dryRun {
		res.Err = nil
		l.OnTestSuccess(res)
		return
	}

	switch ev.Kind {
	case EventTestSuccess:
		l.OnTestSuccess(res)
	case EventTestFailure:
		l.OnTestFailure(res)
	case EventTestSkipped:
		l.OnTestSkipped(res)
	case EventTestFailedWithTimeout:
		l.OnTestFailedWithTimeout(res)
	case EventTestFailedWithinSuccessPercentage:
		l.OnTestFailedWithinSuccessPercentage(res)
	}
}
