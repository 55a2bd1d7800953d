package metrics

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func parse(t *testing.T, text string) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, text)
	}
	return mfs
}

func TestWriteText_RoundTripsThroughParser(t *testing.T) {
	m := New()
	atomic.AddInt64(&m.HTTPRequestsTotal, 5)
	atomic.AddInt64(&m.EventsEnrichedTotal, 3)
	atomic.StoreInt64(&m.DLQFilesCurrent, 2)

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	mfs := parse(t, buf.String())

	if len(mfs) != len(m.samples()) {
		t.Errorf("families = %d, want %d", len(mfs), len(m.samples()))
	}

	tests := []struct {
		name string
		typ  dto.MetricType
		want float64
	}{
		{"perf_ingest_http_requests_total", dto.MetricType_COUNTER, 5},
		{"perf_ingest_events_enriched_total", dto.MetricType_COUNTER, 3},
		{"perf_ingest_metric_faults_total", dto.MetricType_COUNTER, 0},
		{"perf_ingest_dlq_files_current", dto.MetricType_GAUGE, 2},
	}
	for _, tc := range tests {
		mf, ok := mfs[tc.name]
		if !ok {
			t.Errorf("%s missing", tc.name)
			continue
		}
		if mf.GetType() != tc.typ {
			t.Errorf("%s type = %v, want %v", tc.name, mf.GetType(), tc.typ)
		}
		var got float64
		if tc.typ == dto.MetricType_GAUGE {
			got = mf.GetMetric()[0].GetGauge().GetValue()
		} else {
			got = mf.GetMetric()[0].GetCounter().GetValue()
		}
		if got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestString(t *testing.T) {
	m := New()
	atomic.AddInt64(&m.SinkEventsStoredTotal, 42)

	s := m.String()
	if !strings.Contains(s, "sink_events_stored_total=42\n") {
		t.Errorf("String() missing counter:\n%s", s)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				atomic.AddInt64(&m.HTTPRequestsTotal, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&m.HTTPRequestsTotal); got != 8000 {
		t.Errorf("HTTPRequestsTotal = %d, want 8000", got)
	}
}
