package application

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// TestOrchestrator runs tests on a single worker goroutine. At most one run is
// pending at a time: a new request replaces the queued one, and a run in
// progress is never interrupted.
type TestOrchestrator struct {
	Reactor        *domain.Reactor
	Runner         TestRunner
	Reporter       TestReporter
	Events         domain.EventPublisher
	Log            zerolog.Logger
	UserProperties map[string]string

	mu      sync.Mutex
	pending *domain.PendingTestRun
	nextID  int64
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start launches the worker. It returns immediately; the worker stops when ctx
// is cancelled or Close is called.
func (o *TestOrchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done != nil {
		return
	}
	o.ensureWake()
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go o.work(ctx, o.wake, o.done)
}

// Close stops the worker and waits for the current run to return.
func (o *TestOrchestrator) Close() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Enqueue replaces the pending run with a new one for trigger and wakes the
// worker. It never blocks.
func (o *TestOrchestrator) Enqueue(trigger domain.TestTrigger) *domain.PendingTestRun {
	o.mu.Lock()
	o.ensureWake()
	o.nextID++
	run := domain.NewPendingTestRun(o.nextID, trigger)
	if replaced := o.pending; replaced != nil {
		o.Log.Debug().Int64("replaced", replaced.ID).Int64("run", run.ID).Msg("coalesced pending test run")
	}
	o.pending = run
	wake := o.wake
	o.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	return run
}

// Pending returns the queued run, if any.
func (o *TestOrchestrator) Pending() *domain.PendingTestRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *TestOrchestrator) ensureWake() {
	if o.wake == nil {
		o.wake = make(chan struct{}, 1)
	}
}

func (o *TestOrchestrator) take() *domain.PendingTestRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	run := o.pending
	o.pending = nil
	return run
}

func (o *TestOrchestrator) work(ctx context.Context, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			if run := o.take(); run != nil {
				o.Run(ctx, run)
			}
		}
	}
}

// Run executes both phases of run synchronously and reports the results.
func (o *TestOrchestrator) Run(ctx context.Context, run *domain.PendingTestRun) []TestResult {
	var results []TestResult
	defer func() {
		if r := recover(); r != nil {
			o.Log.Error().Int64("run", run.ID).Msgf("test run aborted: %v", r)
		}
		if o.Reporter != nil {
			o.Reporter.ReportTests(run, results)
		}
	}()
	results = append(results, o.RunUnitTests(ctx, run)...)
	results = append(results, o.RunIntegrationTests(ctx, run)...)
	return results
}

// RunUnitTests runs the unit test phase of run for every targeted module that
// does not skip unit tests.
func (o *TestOrchestrator) RunUnitTests(ctx context.Context, run *domain.PendingTestRun) []TestResult {
	if !run.Unit {
		return nil
	}
	return o.runPhase(ctx, run, domain.PhaseUnit, domain.MsgUnitTestsFinished,
		domain.SkipFlags.SkipUnit, o.Runner.RunUnitTests)
}

// RunIntegrationTests runs the integration test phase of run. It runs even when
// unit tests failed.
func (o *TestOrchestrator) RunIntegrationTests(ctx context.Context, run *domain.PendingTestRun) []TestResult {
	if !run.Integration {
		return nil
	}
	return o.runPhase(ctx, run, domain.PhaseIntegration, domain.MsgITsFinished,
		domain.SkipFlags.SkipIntegration, o.Runner.RunIntegrationTests)
}

func (o *TestOrchestrator) runPhase(
	ctx context.Context,
	run *domain.PendingTestRun,
	phase domain.TestPhase,
	marker string,
	skipped func(domain.SkipFlags) bool,
	exec func(context.Context, TestRequest) error,
) []TestResult {
	var results []TestResult
	for _, id := range o.targets(run) {
		if ctx.Err() != nil {
			return results
		}
		node, ok := o.Reactor.Module(id)
		if !ok {
			o.Log.Warn().Str("module", id).Msg("test target is not part of the reactor")
			continue
		}
		if skipped(node.SkipFlags()) {
			o.Log.Debug().Str("module", id).Str("phase", string(phase)).Msg("tests skipped")
			continue
		}
		start := time.Now()
		err := exec(ctx, TestRequest{
			Module:     id,
			Dir:        node.Dir,
			RunID:      run.ID,
			Properties: o.properties(run.ID),
		})
		elapsed := time.Since(start)
		if err != nil {
			o.Log.Error().Err(err).Str("module", id).Str("phase", string(phase)).Msg("tests failed")
		}
		o.Log.Info().Int64("run", run.ID).Dur("duration", elapsed).Msg(fmt.Sprintf(marker, id))
		if o.Events != nil {
			_ = o.Events.Publish(domain.NewTestsFinishedEvent(run.ID, id, phase, elapsed, err))
		}
		results = append(results, TestResult{Module: id, Phase: phase, Duration: elapsed, Err: err})
	}
	return results
}

func (o *TestOrchestrator) targets(run *domain.PendingTestRun) []string {
	if len(run.Modules) > 0 {
		return run.Modules
	}
	return o.Reactor.BuildOrder()
}

func (o *TestOrchestrator) properties(runID int64) map[string]string {
	props := make(map[string]string, len(o.UserProperties)+1)
	for k, v := range o.UserProperties {
		props[k] = v
	}
	props[TestRunIDProperty] = strconv.FormatInt(runID, 10)
	return props
}
