// Package testing provides test utilities and helpers for queryz pipelines.
//
// This package includes mock modules that record their invocations, a shared
// recorder for checking invocation order across modules, and assertion
// helpers.
//
// Example usage:
//
//	func TestShortCircuit(t *testing.T) {
//		rec := qtesting.NewRecorder()
//		a := qtesting.NewMockModule(t, "a").WithStatus(queryz.StatusDone).WithRecorder(rec)
//		b := qtesting.NewMockModule(t, "b").WithRecorder(rec)
//
//		exec := queryz.NewExecutor("test", []queryz.Module{a, b}, nil)
//		out := exec.Run(context.Background(), "input")
//
//		qtesting.AssertInvoked(t, a, 1)
//		qtesting.AssertNotInvoked(t, b)
//	}
package testing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zoobzio/queryz"
)

// Call is one recorded module invocation.
type Call struct {
	Module queryz.Name
	Phase  queryz.Phase
	Text   string
}

// Recorder collects invocations from several mock modules in order.
type Recorder struct {
	calls []Call
	mu    sync.Mutex
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Sequence returns "module/phase" for every recorded invocation.
func (r *Recorder) Sequence() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Module + "/" + string(c.Phase)
	}
	return out
}

// MockModule is a configurable pre-phase module. It sets the configured
// status, optionally installs a response, and counts its calls.
type MockModule struct {
	t         *testing.T
	recorder  *Recorder
	name      queryz.Name
	response  *string
	panicMsg  string
	status    queryz.Status
	callCount int64
	mu        sync.RWMutex
}

// NewMockModule creates a mock that leaves queries in StatusContinue.
func NewMockModule(t *testing.T, name queryz.Name) *MockModule {
	return &MockModule{t: t, name: name}
}

// WithStatus configures the status the mock sets.
func (m *MockModule) WithStatus(s queryz.Status) *MockModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	return m
}

// WithResponse configures a response the mock installs.
func (m *MockModule) WithResponse(resp string) *MockModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = &resp
	return m
}

// WithPanic configures the mock to panic with msg.
func (m *MockModule) WithPanic(msg string) *MockModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithRecorder records every invocation into rec.
func (m *MockModule) WithRecorder(rec *Recorder) *MockModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = rec
	return m
}

// Name returns the module name.
func (m *MockModule) Name() queryz.Name {
	return m.name
}

// Process implements queryz.Processor.
func (m *MockModule) Process(_ context.Context, q *queryz.Query) {
	m.apply(q, queryz.PhasePre)
}

func (m *MockModule) apply(q *queryz.Query, phase queryz.Phase) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.RLock()
	rec, resp, status, panicMsg := m.recorder, m.response, m.status, m.panicMsg
	m.mu.RUnlock()

	if rec != nil {
		rec.record(Call{Module: m.name, Phase: phase, Text: q.Text()})
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	if resp != nil {
		q.Replace(m.name, *resp)
	}
	q.SetStatus(status)
}

// CallCount returns how many times the mock was invoked in any phase.
func (m *MockModule) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// Reset clears the call count.
func (m *MockModule) Reset() {
	atomic.StoreInt64(&m.callCount, 0)
}

// MockPostModule is a MockModule that also takes part in the post-phase.
// Post-phase calls are counted separately.
type MockPostModule struct {
	*MockModule
	postCount int64
}

// NewMockPostModule creates a mock with both Process and PostProcess.
func NewMockPostModule(t *testing.T, name queryz.Name) *MockPostModule {
	return &MockPostModule{MockModule: NewMockModule(t, name)}
}

// WithStatus configures the status the mock sets in either phase.
func (m *MockPostModule) WithStatus(s queryz.Status) *MockPostModule {
	m.MockModule.WithStatus(s)
	return m
}

// WithResponse configures a response the mock installs in either phase.
func (m *MockPostModule) WithResponse(resp string) *MockPostModule {
	m.MockModule.WithResponse(resp)
	return m
}

// WithPanic configures the mock to panic with msg in either phase.
func (m *MockPostModule) WithPanic(msg string) *MockPostModule {
	m.MockModule.WithPanic(msg)
	return m
}

// WithRecorder records every invocation into rec.
func (m *MockPostModule) WithRecorder(rec *Recorder) *MockPostModule {
	m.MockModule.WithRecorder(rec)
	return m
}

// PostProcess implements queryz.PostProcessor.
func (m *MockPostModule) PostProcess(_ context.Context, q *queryz.Query) {
	atomic.AddInt64(&m.postCount, 1)
	m.apply(q, queryz.PhasePost)
}

// PostCount returns how many times PostProcess was invoked.
func (m *MockPostModule) PostCount() int {
	return int(atomic.LoadInt64(&m.postCount))
}

// Counter is implemented by the mock modules of this package.
type Counter interface {
	queryz.Module
	CallCount() int
}

// AssertInvoked verifies that a mock was invoked exactly n times.
func AssertInvoked(t *testing.T, mock Counter, expectedCalls int) {
	t.Helper()
	if actual := mock.CallCount(); actual != expectedCalls {
		t.Errorf("expected module %s to be invoked %d times, but was invoked %d times",
			mock.Name(), expectedCalls, actual)
	}
}

// AssertNotInvoked verifies that a mock was never invoked.
func AssertNotInvoked(t *testing.T, mock Counter) {
	t.Helper()
	AssertInvoked(t, mock, 0)
}

// AssertOutcome verifies the verdict and response of a run.
func AssertOutcome(t *testing.T, out queryz.Outcome, verdict queryz.Verdict, response string) {
	t.Helper()
	if out.Verdict != verdict {
		t.Errorf("expected verdict %s, got %s", verdict, out.Verdict)
	}
	if out.Response != response {
		t.Errorf("expected response %q, got %q", response, out.Response)
	}
}
