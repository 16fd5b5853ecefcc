package ledger

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, op string) float64 {
	t.Helper()
	counter, err := LedgerOpsTotal.GetMetricWithLabelValues(op)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%q): %v", op, err)
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.Counter.GetValue()
}

func TestObserveOpCountsOperations(t *testing.T) {
	LedgerOpsTotal.Reset()

	observeOp("append")()
	observeOp("append")()
	observeOp("list")()

	if got := counterValue(t, "append"); got != 2.0 {
		t.Errorf("append counter = %f, want 2", got)
	}
	if got := counterValue(t, "list"); got != 1.0 {
		t.Errorf("list counter = %f, want 1", got)
	}
}

func TestObserveOpRecordsDuration(t *testing.T) {
	LedgerOpDuration.Reset()

	observeOp("timed")()

	ch := make(chan prometheus.Metric, 10)
	LedgerOpDuration.Collect(ch)
	close(ch)

	samples := uint64(0)
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		if m.Histogram != nil {
			samples += m.Histogram.GetSampleCount()
		}
	}
	if samples != 1 {
		t.Errorf("histogram samples = %d, want 1", samples)
	}
}

func TestLedgerMetricsGatherable(t *testing.T) {
	LedgerOpsTotal.WithLabelValues("gather_check").Inc()

	gathered, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range gathered {
		if mf.GetName() == "biskato_ledger_operations_total" {
			return
		}
	}
	t.Error("biskato_ledger_operations_total not gathered")
}
