package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordToolExecution(t *testing.T) {
	m := New()
	m.RecordToolExecution("glob", true, 0.05)
	m.RecordToolExecution("glob", false, 0.2)

	if got := testutil.ToFloat64(m.ToolExecutionTotal.WithLabelValues("glob", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionTotal.WithLabelValues("glob", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestRecordUsage(t *testing.T) {
	m := New()
	m.RecordUsage("anthropic", "claude-x", 10, 20, 0)

	if got := testutil.ToFloat64(m.ProviderTokensTotal.WithLabelValues("anthropic", "claude-x", "input")); got != 10 {
		t.Fatalf("expected 10 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderTokensTotal.WithLabelValues("anthropic", "claude-x", "output")); got != 20 {
		t.Fatalf("expected 20 output tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderTokensTotal.WithLabelValues("anthropic", "claude-x", "thinking")); got != 0 {
		t.Fatalf("expected 0 thinking tokens recorded, got %v", got)
	}
}
