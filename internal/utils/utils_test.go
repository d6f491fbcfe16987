// internal/utils/utils_test.go
package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMetricsCollectorCountersAndGauges(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.IncGauge("open")
		}()
	}
	wg.Wait()

	if got := m.GetCounterValue("hits"); got != 50 {
		t.Fatalf("hits = %d, want 50", got)
	}
	m.AddCounter("hits", 5)
	if got := m.GetCounterValue("hits"); got != 55 {
		t.Fatalf("hits after add = %d", got)
	}
	m.DecGauge("open")
	if got := m.GetGauge("open"); got != 49 {
		t.Fatalf("open = %d, want 49", got)
	}
	m.SetGauge("open", 3)
	if got := m.GetGauge("open"); got != 3 {
		t.Fatalf("open after set = %d", got)
	}
	if m.GetCounterValue("missing") != 0 || m.GetGauge("missing") != 0 {
		t.Fatalf("missing metrics should read zero")
	}
}

func TestMetricsCollectorHistogram(t *testing.T) {
	m := NewMetricsCollector()
	for _, v := range []int64{5, 1, 9} {
		m.RecordHistogram("latency", v)
	}

	snap := m.GetMetrics()
	h := snap["histograms"].(map[string]map[string]int64)["latency"]
	if h["count"] != 3 || h["sum"] != 15 || h["min"] != 1 || h["max"] != 9 {
		t.Fatalf("histogram = %v", h)
	}
}

func TestAPIMetricsRecordsOutcomes(t *testing.T) {
	m := NewMetricsCollector()
	am := NewAPIMetricsWith(m, NewLogger(&bytes.Buffer{}))

	am.RecordAPIRequest("/api/x", "GET", 404, 3*time.Millisecond)
	am.RecordReorder("succeeded", time.Millisecond)
	am.RecordReorder("rejected", 0)
	am.RecordStoreWrite("batch", nil)
	am.TrackWebSocket(1)

	checks := map[string]int64{
		"api_requests_total":          1,
		"api_responses_4xx":           1,
		"reorder_total":               2,
		"reorder_succeeded":           1,
		"reorder_rejected":            1,
		"store_writes_batch":          1,
		"websocket_connections_total": 1,
	}
	for name, want := range checks {
		if got := m.GetCounterValue(name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	if m.GetGauge("websocket_connections") != 1 {
		t.Fatalf("websocket gauge not incremented")
	}
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.SetLogLevel(WARNING)

	l.Info("hidden", nil)
	l.Warn("shown", map[string]interface{}{"b": 2, "a": 1})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info logged below level: %q", out)
	}
	if !strings.Contains(out, "[WARNING]") || !strings.Contains(out, "shown | a=1 b=2") {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestLoggerWritesFile(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := l.SetFile(path); err != nil {
		t.Fatalf("SetFile: %v", err)
	}
	l.Info("to file", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := readFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(data, "to file") {
		t.Fatalf("log file = %q", data)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{"debug": DEBUG, "WARN": WARNING, "error": ERROR, "": INFO, "nope": INFO}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
