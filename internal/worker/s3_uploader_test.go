package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"perf-ingest/internal/metrics"
)

func TestUploadBytes_RetriesThenSucceeds(t *testing.T) {
	m := metrics.New()
	p := &fakePutter{failFirst: 2}
	u := newTestUploader(s3TestConfig(t), p, m)

	if err := u.UploadBytes(context.Background(), "raw/k", []byte("payload")); err != nil {
		t.Fatalf("UploadBytes: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
	if got := atomic.LoadInt64(&m.S3PutErrorsTotal); got != 2 {
		t.Errorf("S3PutErrorsTotal = %d, want 2", got)
	}
	if string(p.objects["raw/k"]) != "payload" {
		t.Errorf("stored body = %q", p.objects["raw/k"])
	}
}

func TestUploadBytes_GivesUp(t *testing.T) {
	m := metrics.New()
	p := &fakePutter{failFirst: 10}
	u := newTestUploader(s3TestConfig(t), p, m)

	err := u.UploadBytes(context.Background(), "raw/k", []byte("payload"))
	if !errors.Is(err, errS3Down) {
		t.Fatalf("err = %v, want wrapped errS3Down", err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
	if got := atomic.LoadInt64(&m.S3PutErrorsTotal); got != 3 {
		t.Errorf("S3PutErrorsTotal = %d, want 3", got)
	}
}

func TestUploadFile_RewindsBetweenAttempts(t *testing.T) {
	p := &fakePutter{failFirst: 1}
	u := newTestUploader(s3TestConfig(t), p, metrics.New())

	r := bytes.NewReader([]byte("file-body"))
	if err := u.UploadFile(context.Background(), "raw/f", r, int64(r.Len())); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if string(p.objects["raw/f"]) != "file-body" {
		t.Errorf("second attempt uploaded %q", p.objects["raw/f"])
	}
}

func TestUploadBytes_CancelledContext(t *testing.T) {
	p := &fakePutter{}
	u := newTestUploader(s3TestConfig(t), p, metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := u.UploadBytes(ctx, "raw/k", []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if p.calls != 0 {
		t.Errorf("calls = %d, want 0", p.calls)
	}
}

func TestNewS3Uploader_AtLeastOneAttempt(t *testing.T) {
	cfg := s3TestConfig(t)
	cfg.S3AppRetries = 0
	p := &fakePutter{failFirst: 5}
	u := newTestUploader(cfg, p, metrics.New())

	err := u.UploadBytes(context.Background(), "k", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "after 1 attempts") {
		t.Errorf("err = %v", err)
	}
}
