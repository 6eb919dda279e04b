// Package worker implements the Tool Worker of spec.md §4.7: one worker per
// agent that runs a single tool call (or a deferred command) on a
// background goroutine, exposing lock-guarded state the event loop polls
// and the interrupt coordinator can act on.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/metrics"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
)

// OnComplete is invoked exactly once, from the worker's background
// goroutine, when a deferred command finishes (spec.md §4.7 "deferred
// command variant with an on_complete hook").
type OnComplete func(result tools.Result)

// Worker runs at most one tool call at a time. Its fields are guarded by mu
// so the event loop (on the main goroutine) can poll Running/Complete
// without racing the background goroutine that's actually running the tool.
type Worker struct {
	dispatcher *tools.Dispatcher

	mu       sync.Mutex
	running  bool
	complete bool
	result   tools.Result
	childPid int

	onComplete OnComplete

	metrics *metrics.Metrics
}

// New returns an idle Worker over dispatcher.
func New(dispatcher *tools.Dispatcher) *Worker {
	return &Worker{dispatcher: dispatcher}
}

// WithMetrics attaches m so every completed tool call records its duration
// and outcome. Safe to call with nil, which disables recording.
func (w *Worker) WithMetrics(m *metrics.Metrics) *Worker {
	w.metrics = m
	return w
}

// Running reports whether a tool call is currently executing.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Complete reports whether the most recently started call has finished.
func (w *Worker) Complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.complete
}

// Result returns the most recently completed call's result envelope.
// Only meaningful once Complete() is true.
func (w *Worker) Result() tools.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// ChildPid returns the external tool's process group ID while running, or
// 0 if the current (or most recent) call was internal.
func (w *Worker) ChildPid() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.childPid
}

// Start launches name(args) on a background goroutine. It is an error to
// call Start while a previous call's Running() is still true.
func (w *Worker) Start(ctx context.Context, agentID, name string, args json.RawMessage) error {
	return w.start(ctx, agentID, name, args, nil)
}

// start is the shared implementation behind Start and StartDeferred.
// onComplete is assigned under the same lock that sets running/complete,
// before the background goroutine is spawned, so a fast-completing
// (typically internal) tool can never observe a nil hook — assigning it as
// a separate post-hoc step let the goroutine's completion race ahead of the
// assignment and silently drop the hook.
func (w *Worker) start(ctx context.Context, agentID, name string, args json.RawMessage, onComplete OnComplete) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errAlreadyRunning
	}
	w.running = true
	w.complete = false
	w.childPid = 0
	w.onComplete = onComplete
	w.mu.Unlock()

	handle, err := w.dispatcher.Start(ctx, agentID, name, args)
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.complete = true
		w.result = tools.Result{Success: false}
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.childPid = handle.Pid()
	w.mu.Unlock()

	startedAt := time.Now()
	go func() {
		res := handle.Wait()
		if w.metrics != nil {
			w.metrics.RecordToolExecution(name, res.Success, time.Since(startedAt).Seconds())
		}
		w.mu.Lock()
		w.running = false
		w.complete = true
		w.result = res
		hook := w.onComplete
		w.mu.Unlock()
		if hook != nil {
			hook(res)
		}
	}()

	return nil
}

// StartDeferred behaves like Start but invokes onComplete from the
// background goroutine once the tool finishes, for commands that need to
// react asynchronously rather than be polled (spec.md §4.7).
func (w *Worker) StartDeferred(ctx context.Context, agentID, name string, args json.RawMessage, onComplete OnComplete) error {
	return w.start(ctx, agentID, name, args, onComplete)
}

// Reset clears Complete()/Result() after the caller has consumed them, so a
// stale result isn't mistaken for a new completion on the next poll.
func (w *Worker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.complete = false
	w.result = tools.Result{}
	w.childPid = 0
}

type workerError string

func (e workerError) Error() string { return string(e) }

const errAlreadyRunning = workerError("worker: a tool call is already running")
