package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"perf-ingest/internal/config"
	"perf-ingest/internal/metrics"
	"perf-ingest/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

var errS3Down = errors.New("s3 unavailable")

// fakePutter 는 처음 failFirst 번의 PutObject 를 실패시킨다.
type fakePutter struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	objects   map[string][]byte
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errS3Down
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) setFailFirst(n int) {
	f.mu.Lock()
	f.failFirst = f.calls + n
	f.mu.Unlock()
}

func (f *fakePutter) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

// fakeSink 는 받은 배치를 기록한다.
type fakeSink struct {
	mu      sync.Mutex
	batches [][]model.Event
	err     error
	closed  bool
}

func (s *fakeSink) Deliver(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return s.err
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func s3TestConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		InstanceID:      "test1",
		RawBucket:       "perf-raw",
		RawPrefix:       "raw",
		DLQPrefix:       "raw_dlq",
		S3Timeout:       time.Second,
		S3AppRetries:    3,
		DLQDir:          t.TempDir(),
		DLQMaxAge:       time.Hour,
		DLQMaxSizeBytes: 1 << 20,
	}
}

func newTestUploader(cfg config.Config, p ObjectPutter, m *metrics.Metrics) *S3Uploader {
	u := NewS3Uploader(cfg, p, m, zerolog.Nop())
	u.backoff = time.Millisecond
	return u
}
