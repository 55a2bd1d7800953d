// internal/worker/s3_uploader.go
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"perf-ingest/internal/config"
	"perf-ingest/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ObjectPutter 는 S3Uploader 가 쓰는 S3 API 부분집합. *s3.Client 가 구현한다.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// 재시도 backoff (200ms 부터 2배씩, 최대 2초)
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// S3Uploader 는 S3 업로드를 담당한다.
//   - JSONL.gz 바이트 업로드 (UploadBytes)
//   - 로컬 DLQ 파일 업로드 (UploadFile)
//
// SDK retry 는 끄고, 재시도는 여기서 S3_APP_RETRIES 만큼만 한다.
// 모든 시도는 ctx 취소 시 즉시 멈춘다.
type S3Uploader struct {
	bucket  string
	timeout time.Duration
	retries int
	backoff time.Duration

	metrics *metrics.Metrics
	client  ObjectPutter
	log     zerolog.Logger
}

// NewS3Client 는 region 과 SDK 기본 자격증명 체인으로 S3 client 를 만든다.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	}), nil
}

func NewS3Uploader(cfg config.Config, client ObjectPutter, m *metrics.Metrics, log zerolog.Logger) *S3Uploader {
	retries := cfg.S3AppRetries
	if retries < 1 {
		retries = 1
	}
	return &S3Uploader{
		bucket:  cfg.RawBucket,
		timeout: cfg.S3Timeout,
		retries: retries,
		backoff: initialBackoff,
		metrics: m,
		client:  client,
		log:     log.With().Str("component", "s3").Logger(),
	}
}

// UploadBytes 는 메모리의 gzip+JSONL 배치를 key 로 올린다.
// 시도마다 reader 를 새로 만든다.
func (u *S3Uploader) UploadBytes(ctx context.Context, key string, body []byte) error {
	return u.withRetry(ctx, key, func(ctx context.Context) error {
		return u.putObject(ctx, key, bytes.NewReader(body), int64(len(body)))
	})
}

// UploadFile 은 로컬 DLQ 파일을 그대로 올린다.
// 시도마다 Seek(0) 으로 되감는다.
func (u *S3Uploader) UploadFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	return u.withRetry(ctx, key, func(ctx context.Context) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return u.putObject(ctx, key, f, size)
	})
}

func (u *S3Uploader) withRetry(ctx context.Context, key string, put func(context.Context) error) error {
	var lastErr error
	backoff := u.backoff

	for attempt := 1; attempt <= u.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := put(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		atomic.AddInt64(&u.metrics.S3PutErrorsTotal, 1)
		u.log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("put object failed")

		if attempt == u.retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return fmt.Errorf("put %s after %d attempts: %w", key, u.retries, lastErr)
}

// putObject 는 PutObject 1회 호출. 시도당 timeout 을 건다.
func (u *S3Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}
