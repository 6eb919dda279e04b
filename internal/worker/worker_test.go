package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mgreenly/ikigai-sub009/internal/tools"
)

func newDispatcher(t *testing.T, h tools.InternalHandler) *tools.Dispatcher {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(tools.Tool{Name: "echo", Internal: h})
	return tools.NewDispatcher(reg, tools.NewExternalRunner())
}

func waitComplete(t *testing.T, w *Worker) {
	t.Helper()
	require.Eventually(t, w.Complete, time.Second, time.Millisecond, "worker never completed")
}

func TestWorkerStartRunsInternalTool(t *testing.T) {
	d := newDispatcher(t, func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
		return json.RawMessage(`{"echoed":true}`), true
	})
	w := New(d)

	require.False(t, w.Running())
	require.NoError(t, w.Start(context.Background(), "agent-1", "echo", nil))
	waitComplete(t, w)

	res := w.Result()
	require.True(t, res.Success)
	require.JSONEq(t, `{"echoed":true}`, string(res.Output))
	require.False(t, w.Running())
	require.Zero(t, w.ChildPid())
}

func TestWorkerStartRejectsConcurrentCalls(t *testing.T) {
	block := make(chan struct{})
	d := newDispatcher(t, func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
		<-block
		return json.RawMessage(`{}`), true
	})
	w := New(d)

	require.NoError(t, w.Start(context.Background(), "agent-1", "echo", nil))
	require.True(t, w.Running())

	err := w.Start(context.Background(), "agent-1", "echo", nil)
	require.ErrorIs(t, err, errAlreadyRunning)

	close(block)
	waitComplete(t, w)
}

func TestWorkerStartDeferredInvokesOnComplete(t *testing.T) {
	d := newDispatcher(t, func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
		return json.RawMessage(`{"ok":true}`), true
	})
	w := New(d)

	done := make(chan tools.Result, 1)
	require.NoError(t, w.StartDeferred(context.Background(), "agent-1", "echo", nil, func(res tools.Result) {
		done <- res
	}))

	select {
	case res := <-done:
		require.True(t, res.Success)
	case <-time.After(time.Second):
		t.Fatal("onComplete never fired")
	}
}

func TestWorkerResetClearsCompleteAndPid(t *testing.T) {
	d := newDispatcher(t, func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
		return json.RawMessage(`{}`), true
	})
	w := New(d)
	require.NoError(t, w.Start(context.Background(), "agent-1", "echo", nil))
	waitComplete(t, w)

	w.Reset()
	require.False(t, w.Complete())
	require.Zero(t, w.ChildPid())
}

func TestWorkerStartUnknownToolCompletesWithFailure(t *testing.T) {
	d := newDispatcher(t, nil)
	w := New(d)
	require.NoError(t, w.Start(context.Background(), "agent-1", "does-not-exist", nil))
	waitComplete(t, w)
	require.False(t, w.Result().Success)
}
