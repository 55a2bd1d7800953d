package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"perf-ingest/internal/config"
	"perf-ingest/internal/metrics"
	"perf-ingest/internal/model"

	"github.com/rs/zerolog"
)

func newTestDLQ(t *testing.T, cfg config.Config, p *fakePutter, m *metrics.Metrics) *DLQManager {
	t.Helper()
	d, err := NewDLQManager(cfg, m, newTestUploader(cfg, p, m), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDLQManager: %v", err)
	}
	return d
}

func encodedBatch(t *testing.T, n int) []byte {
	t.Helper()
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{Event: "$pageview"}
	}
	data, err := NewEncoder().EncodeBatchJSONLGZ(events)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func dataFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if isDataFile(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestDLQ_SaveWritesDataAndMeta(t *testing.T) {
	cfg := s3TestConfig(t)
	m := metrics.New()
	d := newTestDLQ(t, cfg, &fakePutter{}, m)

	data := encodedBatch(t, 4)
	if err := d.Save(data, 4); err != nil {
		t.Fatalf("Save: %v", err)
	}

	files := dataFiles(t, cfg.DLQDir)
	if len(files) != 1 {
		t.Fatalf("data files = %v", files)
	}
	if got := readNumEvents(filepath.Join(cfg.DLQDir, files[0]+metaSuffix)); got != 4 {
		t.Errorf("meta num_events = %d, want 4", got)
	}
	if atomic.LoadInt64(&m.DLQFilesCurrent) != 1 || atomic.LoadInt64(&m.DLQSizeBytes) != int64(len(data)) {
		t.Errorf("gauges = %d files / %d bytes", m.DLQFilesCurrent, m.DLQSizeBytes)
	}
	if atomic.LoadInt64(&m.DLQEventsEnqueuedTotal) != 4 {
		t.Errorf("DLQEventsEnqueuedTotal = %d", m.DLQEventsEnqueuedTotal)
	}
}

func TestDLQ_SaveIgnoresEmpty(t *testing.T) {
	cfg := s3TestConfig(t)
	d := newTestDLQ(t, cfg, &fakePutter{}, metrics.New())

	if err := d.Save(nil, 3); err != nil {
		t.Fatal(err)
	}
	if err := d.Save([]byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	if files := dataFiles(t, cfg.DLQDir); len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestDLQ_CapacityEvictsOldest(t *testing.T) {
	cfg := s3TestConfig(t)
	cfg.DLQMaxSizeBytes = 100
	m := metrics.New()
	d := newTestDLQ(t, cfg, &fakePutter{}, m)

	first := make([]byte, 60)
	second := make([]byte, 60)
	if err := d.Save(first, 1); err != nil {
		t.Fatal(err)
	}
	oldest := dataFiles(t, cfg.DLQDir)[0]

	if err := d.Save(second, 1); err != nil {
		t.Fatal(err)
	}

	files := dataFiles(t, cfg.DLQDir)
	if len(files) != 1 || files[0] == oldest {
		t.Errorf("files = %v, want only the newer file", files)
	}
	if atomic.LoadInt64(&m.DLQFilesExpiredTotal) != 1 {
		t.Errorf("DLQFilesExpiredTotal = %d", m.DLQFilesExpiredTotal)
	}
	if atomic.LoadInt64(&m.DLQSizeBytes) != 60 {
		t.Errorf("DLQSizeBytes = %d, want 60", m.DLQSizeBytes)
	}
}

func TestDLQ_DropsWhenBatchExceedsCapacity(t *testing.T) {
	cfg := s3TestConfig(t)
	cfg.DLQMaxSizeBytes = 10
	m := metrics.New()
	d := newTestDLQ(t, cfg, &fakePutter{}, m)

	if err := d.Save(make([]byte, 11), 5); err != ErrDLQFull {
		t.Fatalf("err = %v, want ErrDLQFull", err)
	}
	if atomic.LoadInt64(&m.DLQEventsDroppedTotal) != 5 {
		t.Errorf("DLQEventsDroppedTotal = %d, want 5", m.DLQEventsDroppedTotal)
	}
}

func TestDLQ_ProcessOneReuploadsValidFileToRaw(t *testing.T) {
	cfg := s3TestConfig(t)
	m := metrics.New()
	p := &fakePutter{}
	d := newTestDLQ(t, cfg, p, m)

	if err := d.Save(encodedBatch(t, 3), 3); err != nil {
		t.Fatal(err)
	}
	if !d.ProcessOne(context.Background()) {
		t.Fatal("ProcessOne returned false")
	}

	keys := p.keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "raw/dt=") {
		t.Errorf("uploaded keys = %v, want one under raw/", keys)
	}
	if files := dataFiles(t, cfg.DLQDir); len(files) != 0 {
		t.Errorf("files left = %v", files)
	}
	if atomic.LoadInt64(&m.DLQEventsReuploadedTotal) != 3 {
		t.Errorf("DLQEventsReuploadedTotal = %d, want 3", m.DLQEventsReuploadedTotal)
	}
	if atomic.LoadInt64(&m.DLQFilesCurrent) != 0 || atomic.LoadInt64(&m.DLQSizeBytes) != 0 {
		t.Errorf("gauges not reset: %d files / %d bytes", m.DLQFilesCurrent, m.DLQSizeBytes)
	}

	if d.ProcessOne(context.Background()) {
		t.Error("ProcessOne on empty dlq should return false")
	}
}

func TestDLQ_ProcessOneRoutesInvalidFileToDLQPrefix(t *testing.T) {
	cfg := s3TestConfig(t)
	p := &fakePutter{}
	d := newTestDLQ(t, cfg, p, metrics.New())

	if err := d.Save([]byte("not gzip"), 1); err != nil {
		t.Fatal(err)
	}
	d.ProcessOne(context.Background())

	keys := p.keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "raw_dlq/dt=") {
		t.Errorf("uploaded keys = %v, want one under raw_dlq/", keys)
	}
}

func TestDLQ_ProcessOneKeepsFileOnUploadFailure(t *testing.T) {
	cfg := s3TestConfig(t)
	p := &fakePutter{failFirst: 100}
	d := newTestDLQ(t, cfg, p, metrics.New())

	if err := d.Save(encodedBatch(t, 1), 1); err != nil {
		t.Fatal(err)
	}
	if d.ProcessOne(context.Background()) {
		t.Error("ProcessOne should report no progress on upload failure")
	}
	if files := dataFiles(t, cfg.DLQDir); len(files) != 1 {
		t.Errorf("files = %v, want file kept", files)
	}
}

func TestDLQ_ProcessOneExpiresOldFiles(t *testing.T) {
	cfg := s3TestConfig(t)
	m := metrics.New()
	p := &fakePutter{}
	d := newTestDLQ(t, cfg, p, m)
	d.now = func() int64 { return Unix() + 2*3600 }

	if err := d.Save(encodedBatch(t, 1), 1); err != nil {
		t.Fatal(err)
	}
	if !d.ProcessOne(context.Background()) {
		t.Fatal("ProcessOne returned false")
	}
	if len(p.keys()) != 0 {
		t.Errorf("expired file was uploaded: %v", p.keys())
	}
	if atomic.LoadInt64(&m.DLQFilesExpiredTotal) != 1 {
		t.Errorf("DLQFilesExpiredTotal = %d", m.DLQFilesExpiredTotal)
	}
}

func TestNewDLQManager_RecoversStateAndRemovesOrphanMeta(t *testing.T) {
	cfg := s3TestConfig(t)
	write := func(name string, size int) {
		if err := os.WriteFile(filepath.Join(cfg.DLQDir, name), make([]byte, size), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("1700000000_old_000001.jsonl.gz", 30)
	write("1700000000_old_000001.jsonl.gz"+metaSuffix, 10)
	write("1700000001_old_000002.jsonl.gz", 20)
	write("1700000002_old_000003.jsonl.gz"+metaSuffix, 10) // orphan

	m := metrics.New()
	newTestDLQ(t, cfg, &fakePutter{}, m)

	if atomic.LoadInt64(&m.DLQFilesCurrent) != 2 || atomic.LoadInt64(&m.DLQSizeBytes) != 50 {
		t.Errorf("recovered %d files / %d bytes, want 2 / 50", m.DLQFilesCurrent, m.DLQSizeBytes)
	}
	if _, err := os.Stat(filepath.Join(cfg.DLQDir, "1700000002_old_000003.jsonl.gz"+metaSuffix)); !os.IsNotExist(err) {
		t.Error("orphan meta should be removed")
	}
}

func TestValidateFile(t *testing.T) {
	cfg := s3TestConfig(t)
	path := filepath.Join(cfg.DLQDir, "v.jsonl.gz")
	if err := os.WriteFile(path, encodedBatch(t, 2), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	info, _ := f.Stat()

	if !validateFile(f, info.Size()) {
		t.Error("valid batch rejected")
	}
	if validateFile(f, 0) {
		t.Error("zero size accepted")
	}
}
