package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"perf-ingest/internal/config"
	"perf-ingest/internal/metrics"
	"perf-ingest/internal/model"

	"github.com/rs/zerolog"
)

// ErrSpooled 는 배치가 sink 에 바로 쓰이지 못하고 로컬 DLQ 에 저장되었음을 뜻한다.
// 데이터는 보존되었으므로 호출자는 경고로만 다룬다.
var ErrSpooled = errors.New("batch spooled to local dlq")

// Sink 는 enrich 가 끝난 배치의 최종 목적지.
type Sink interface {
	Deliver(ctx context.Context, events []model.Event) error
	Close() error
}

// Maintainer 는 idle 시간에 할 일이 있는 sink (DLQ 재업로드 등).
type Maintainer interface {
	Maintain(ctx context.Context)
}

// dlqPerPass 는 uploadLoop 한 바퀴마다 재업로드를 시도할 DLQ 파일 수.
const dlqPerPass = 3

// S3Sink
//
// 배치를 gzip+JSONL 로 인코딩해 <RAW_PREFIX>/dt=/hr=/ 아래에 올린다.
// 업로드가 실패하면 로컬 DLQ 에 저장하고 ErrSpooled 를 돌려준다.
type S3Sink struct {
	instanceID string
	rawPrefix  string

	encoder  *Encoder
	uploader *S3Uploader
	dlq      *DLQManager
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewS3Sink(cfg config.Config, client ObjectPutter, m *metrics.Metrics, log zerolog.Logger) (*S3Sink, error) {
	uploader := NewS3Uploader(cfg, client, m, log)

	dlq, err := NewDLQManager(cfg, m, uploader, log)
	if err != nil {
		return nil, err
	}

	return &S3Sink{
		instanceID: cfg.InstanceID,
		rawPrefix:  cfg.RawPrefix,
		encoder:    NewEncoder(),
		uploader:   uploader,
		dlq:        dlq,
		metrics:    m,
		log:        log.With().Str("component", "s3_sink").Logger(),
	}, nil
}

func (s *S3Sink) Deliver(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	data, err := s.encoder.EncodeBatchJSONLGZ(events)
	if err != nil {
		atomic.AddInt64(&s.metrics.SinkEncodeDroppedTotal, int64(len(events)))
		return fmt.Errorf("encode batch: %w", err)
	}

	key := BuildS3Key(s.rawPrefix, NewFilename(s.instanceID))
	uploadErr := s.uploader.UploadBytes(ctx, key, data)
	if uploadErr == nil {
		return nil
	}

	if err := s.dlq.Save(data, len(events)); err != nil {
		return fmt.Errorf("upload failed (%v), dlq save failed: %w", uploadErr, err)
	}
	return fmt.Errorf("%w: %v", ErrSpooled, uploadErr)
}

// Maintain 은 DLQ 파일을 최대 dlqPerPass 개 재업로드한다.
func (s *S3Sink) Maintain(ctx context.Context) {
	for i := 0; i < dlqPerPass; i++ {
		if !s.dlq.ProcessOne(ctx) {
			return
		}
	}
}

func (s *S3Sink) Close() error {
	return nil
}
