package queryz

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Executor.
const (
	// Metrics.
	ExecutorRunsTotal      = metricz.Key("executor.runs.total")
	ExecutorDoneTotal      = metricz.Key("executor.done.total")
	ExecutorErrorsTotal    = metricz.Key("executor.errors.total")
	ExecutorUnknownTotal   = metricz.Key("executor.unknown.total")
	ExecutorPostPhaseTotal = metricz.Key("executor.postphase.total")
	ExecutorInvokedTotal   = metricz.Key("executor.modules.invoked.total")
	ExecutorDurationMs     = metricz.Key("executor.duration.ms")

	// Spans.
	ExecutorRunSpan    = tracez.Key("executor.run")
	ExecutorModuleSpan = tracez.Key("executor.module")

	// Tags.
	ExecutorTagModule  = tracez.Tag("executor.module")
	ExecutorTagPhase   = tracez.Tag("executor.phase")
	ExecutorTagStatus  = tracez.Tag("executor.status")
	ExecutorTagVerdict = tracez.Tag("executor.verdict")

	// Hook event keys.
	ExecutorEventModuleComplete = hookz.Key("executor.module_complete")
	ExecutorEventRunComplete    = hookz.Key("executor.run_complete")
)

// ExecutorEvent is emitted via hookz after each module invocation and after
// each run.
type ExecutorEvent struct {
	Timestamp time.Time
	Err       error         // Set when the module panicked
	Name      Name          // Executor name
	Module    Name          // Empty for run_complete
	Phase     Phase         // Empty for run_complete
	Query     string        // Query text
	Verdict   Verdict       // Set for run_complete
	Duration  time.Duration // Module or run duration
	Status    Status        // Status after the module or run
}

// Outcome is the caller-visible result of one run.
type Outcome struct {
	Text        string
	Response    string
	HasResponse bool
	Status      Status
	Verdict     Verdict
}

// Executor drives queries through its pre-modules and, while a query is
// still in StatusContinue, its post-modules.
//
// # Observability
//
// Metrics:
//   - executor.runs.total: Counter of runs
//   - executor.done.total / errors.total / unknown.total: Counters by verdict
//   - executor.postphase.total: Counter of runs that entered the post-phase
//   - executor.modules.invoked.total: Counter of module invocations
//   - executor.duration.ms: Gauge of the last run duration
//
// Traces:
//   - executor.run: Parent span per run
//   - executor.module: Child span per module invocation
//
// Events (via hooks):
//   - executor.module_complete: Fired after every module invocation
//   - executor.run_complete: Fired when a run has a verdict
type Executor struct {
	logger          zerolog.Logger
	metrics         *metricz.Registry
	tracer          *tracez.Tracer
	hooks           *hookz.Hooks[ExecutorEvent]
	name            Name
	continueVerdict Verdict
	pre             []Module
	post            []Module
	mu              sync.RWMutex
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithContinueVerdict sets the verdict reported for runs that finish both
// phases still in StatusContinue. The default is VerdictUnknown.
func WithContinueVerdict(v Verdict) ExecutorOption {
	return func(e *Executor) { e.continueVerdict = v }
}

// NewExecutor creates an Executor over the given pre- and post-module lists.
// The lists are copied; order is preserved.
func NewExecutor(name Name, pre, post []Module, opts ...ExecutorOption) *Executor {
	metrics := metricz.New()
	metrics.Counter(ExecutorRunsTotal)
	metrics.Counter(ExecutorDoneTotal)
	metrics.Counter(ExecutorErrorsTotal)
	metrics.Counter(ExecutorUnknownTotal)
	metrics.Counter(ExecutorPostPhaseTotal)
	metrics.Counter(ExecutorInvokedTotal)
	metrics.Gauge(ExecutorDurationMs)

	e := &Executor{
		name:            name,
		pre:             slices.Clone(pre),
		post:            slices.Clone(post),
		logger:          zerolog.Nop(),
		continueVerdict: VerdictUnknown,
		metrics:         metrics,
		tracer:          tracez.New(),
		hooks:           hookz.New[ExecutorEvent](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the executor name.
func (e *Executor) Name() Name {
	return e.name
}

// Run processes text as a fresh Query, reports its outcome and releases the
// Query's response.
func (e *Executor) Run(ctx context.Context, text string) Outcome {
	q := NewQuery(text)
	defer q.Release()

	e.logger.Info().Str("query", text).Msg("query")
	e.Execute(ctx, q)

	resp, ok := q.Response()
	out := Outcome{
		Text:        text,
		Response:    resp,
		HasResponse: ok,
		Status:      q.Status(),
		Verdict:     e.Verdict(q.Status()),
	}
	e.logger.Info().Str("response", resp).Str("status", string(out.Verdict)).Msg("response")
	return out
}

// Verdict maps a final status to the verdict reported to callers.
func (e *Executor) Verdict(s Status) Verdict {
	switch s {
	case StatusDone:
		return VerdictDone
	case StatusError:
		return VerdictError
	case StatusContinue:
		return e.continueVerdict
	default:
		return VerdictUnknown
	}
}

// Execute runs the pre-phase and, if q is still in StatusContinue, the
// post-phase. It returns the final status. The response is left to the
// modules; Execute neither reads nor releases it.
func (e *Executor) Execute(ctx context.Context, q *Query) Status {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.RLock()
	pre, post := e.pre, e.post
	e.mu.RUnlock()

	e.metrics.Counter(ExecutorRunsTotal).Inc()
	start := time.Now()

	ctx, span := e.tracer.StartSpan(ctx, ExecutorRunSpan)
	defer span.Finish()

	e.phase(ctx, q, PhasePre, pre)
	e.logger.Debug().Stringer("status", q.Status()).Msg("pre-phase finished")

	if q.Status() == StatusContinue {
		e.metrics.Counter(ExecutorPostPhaseTotal).Inc()
		e.phase(ctx, q, PhasePost, post)
	}

	status := q.Status()
	verdict := e.Verdict(status)
	switch verdict {
	case VerdictDone:
		e.metrics.Counter(ExecutorDoneTotal).Inc()
	case VerdictError:
		e.metrics.Counter(ExecutorErrorsTotal).Inc()
	case VerdictUnknown:
		e.metrics.Counter(ExecutorUnknownTotal).Inc()
		e.logger.Warn().Str("query", q.Text()).Msg("run finished without reaching done or error")
	}

	elapsed := time.Since(start)
	e.metrics.Gauge(ExecutorDurationMs).Set(float64(elapsed.Milliseconds()))
	span.SetTag(ExecutorTagStatus, status.String())
	span.SetTag(ExecutorTagVerdict, string(verdict))

	_ = e.hooks.Emit(ctx, ExecutorEventRunComplete, ExecutorEvent{ //nolint:errcheck
		Name:      e.name,
		Query:     q.Text(),
		Status:    status,
		Verdict:   verdict,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})
	return status
}

// phase invokes modules in order until one leaves q in a terminal status.
// In the post-phase, modules without PostProcess are skipped.
func (e *Executor) phase(ctx context.Context, q *Query, phase Phase, modules []Module) {
	for _, m := range modules {
		var call func(context.Context, *Query)
		switch phase {
		case PhasePre:
			p, ok := m.(Processor)
			if !ok {
				continue
			}
			call = p.Process
		case PhasePost:
			p, ok := m.(PostProcessor)
			if !ok {
				continue
			}
			call = p.PostProcess
		}

		e.logger.Debug().Str("module", m.Name()).Str("phase", string(phase)).Msg("running module")
		e.metrics.Counter(ExecutorInvokedTotal).Inc()

		modCtx, span := e.tracer.StartSpan(ctx, ExecutorModuleSpan)
		span.SetTag(ExecutorTagModule, m.Name())
		span.SetTag(ExecutorTagPhase, string(phase))

		start := time.Now()
		err := invoke(modCtx, call, q, m.Name(), phase)
		elapsed := time.Since(start)

		span.SetTag(ExecutorTagStatus, q.Status().String())
		span.Finish()

		if err != nil {
			e.logger.Error().Err(err).Msg("module panicked")
		}

		_ = e.hooks.Emit(ctx, ExecutorEventModuleComplete, ExecutorEvent{ //nolint:errcheck
			Name:      e.name,
			Module:    m.Name(),
			Phase:     phase,
			Query:     q.Text(),
			Status:    q.Status(),
			Err:       err,
			Duration:  elapsed,
			Timestamp: time.Now(),
		})

		switch q.Status() {
		case StatusContinue:
			continue
		case StatusDone:
			e.logger.Debug().Str("module", m.Name()).Msg("response done")
		case StatusError:
			e.logger.Error().Str("module", m.Name()).Str("query", q.Text()).Msg("module reported error")
		default:
			e.logger.Error().Str("module", m.Name()).Stringer("status", q.Status()).Msg("module set unknown status")
			q.SetStatus(StatusError)
		}
		return
	}
}

// invoke calls fn and turns a panic into StatusError and a ModuleError.
func invoke(ctx context.Context, fn func(context.Context, *Query), q *Query, name Name, phase Phase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.SetStatus(StatusError)
			err = &ModuleError{
				Module:    name,
				Phase:     phase,
				Err:       fmt.Errorf("panic: %v", r),
				Timestamp: time.Now(),
			}
		}
	}()
	fn(ctx, q)
	return nil
}

// Pre returns the pre-module list.
func (e *Executor) Pre() []Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.pre)
}

// Post returns the post-module list.
func (e *Executor) Post() []Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.post)
}

// Metrics returns the metrics registry for this executor.
func (e *Executor) Metrics() *metricz.Registry {
	return e.metrics
}

// Tracer returns the tracer for this executor.
func (e *Executor) Tracer() *tracez.Tracer {
	return e.tracer
}

// OnModuleComplete registers a handler called asynchronously after every
// module invocation.
func (e *Executor) OnModuleComplete(handler func(context.Context, ExecutorEvent) error) error {
	_, err := e.hooks.Hook(ExecutorEventModuleComplete, handler)
	return err
}

// OnRunComplete registers a handler called asynchronously after every run.
func (e *Executor) OnRunComplete(handler func(context.Context, ExecutorEvent) error) error {
	_, err := e.hooks.Hook(ExecutorEventRunComplete, handler)
	return err
}

// Close shuts down observability components. It does not clean up modules;
// that belongs to the Registry.
func (e *Executor) Close() error {
	if e.tracer != nil {
		e.tracer.Close()
	}
	e.hooks.Close()
	return nil
}
