// internal/worker/dlq.go
package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"perf-ingest/internal/config"
	"perf-ingest/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

const metaSuffix = ".meta.json"

// ErrDLQFull 은 가장 오래된 파일을 모두 지워도 공간이 모자랄 때.
var ErrDLQFull = errors.New("dlq: capacity exhausted")

// FileUploader 는 DLQ 재업로드에 필요한 부분. *S3Uploader 가 구현한다.
type FileUploader interface {
	UploadFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error
}

type dlqMeta struct {
	NumEvents int64 `json:"num_events"`
}

// DLQManager 는 S3 업로드에 실패한 배치를 로컬 디스크에 저장하고
// 이후 가장 오래된 것부터 재업로드한다.
//
//   - data: <unix>_<instance>_<counter>.jsonl.gz
//   - meta: data + ".meta.json" ({"num_events":N})
//
// TTL 은 파일명 prefix 의 Unix timestamp 기준이다.
type DLQManager struct {
	dir        string
	instanceID string
	rawPrefix  string
	dlqPrefix  string
	maxAge     time.Duration
	maxSize    int64

	metrics  *metrics.Metrics
	uploader FileUploader
	log      zerolog.Logger
	now      func() int64

	// 현재 DLQ 디렉토리의 data 파일 총 바이트 수
	sizeBytes int64
}

// NewDLQManager 는 디렉토리를 만들고 기존 파일을 스캔해
// DLQSizeBytes / DLQFilesCurrent 를 복원한다.
// data 없이 남은 .meta.json 은 지운다.
func NewDLQManager(cfg config.Config, m *metrics.Metrics, uploader FileUploader, log zerolog.Logger) (*DLQManager, error) {
	if err := os.MkdirAll(cfg.DLQDir, 0o755); err != nil {
		return nil, fmt.Errorf("dlq: create dir: %w", err)
	}

	d := &DLQManager{
		dir:        cfg.DLQDir,
		instanceID: cfg.InstanceID,
		rawPrefix:  cfg.RawPrefix,
		dlqPrefix:  cfg.DLQPrefix,
		maxAge:     cfg.DLQMaxAge,
		maxSize:    cfg.DLQMaxSizeBytes,
		metrics:    m,
		uploader:   uploader,
		log:        log.With().Str("component", "dlq").Logger(),
		now:        Unix,
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("dlq: scan dir: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, metaSuffix) {
			dataName := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(d.dir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(d.dir, name))
			}
			continue
		}
		if !isDataFile(name) {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	atomic.StoreInt64(&d.sizeBytes, total)
	atomic.AddInt64(&m.DLQSizeBytes, total)
	atomic.AddInt64(&m.DLQFilesCurrent, count)

	if count > 0 {
		d.log.Info().Int64("files", count).Int64("bytes", total).Msg("recovered existing dlq files")
	}
	return d, nil
}

// Save 는 업로드에 실패한 gzip+JSONL 배치를 저장한다.
// 용량이 모자라면 오래된 파일부터 지우고, 그래도 안 되면 버리고 ErrDLQFull.
func (d *DLQManager) Save(data []byte, numEvents int) error {
	if len(data) == 0 || numEvents <= 0 {
		return nil
	}

	size := int64(len(data))
	if !d.ensureCapacity(size) {
		atomic.AddInt64(&d.metrics.DLQEventsDroppedTotal, int64(numEvents))
		d.log.Error().Int64("bytes", size).Int("events", numEvents).Msg("dlq full, dropping batch")
		return ErrDLQFull
	}

	name := NewFilename(d.instanceID)
	dataPath := filepath.Join(d.dir, name)

	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return fmt.Errorf("dlq: write %s: %w", name, err)
	}

	meta, _ := json.Marshal(dlqMeta{NumEvents: int64(numEvents)})
	_ = os.WriteFile(dataPath+metaSuffix, meta, 0o600)

	atomic.AddInt64(&d.sizeBytes, size)
	atomic.AddInt64(&d.metrics.DLQSizeBytes, size)
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, 1)
	atomic.AddInt64(&d.metrics.DLQEventsEnqueuedTotal, int64(numEvents))

	d.log.Warn().Str("file", name).Int("events", numEvents).Msg("batch saved to dlq")
	return nil
}

// ensureCapacity 는 maxSize 를 넘지 않도록 가장 오래된 파일부터 지운다.
// 지울 파일이 더 없으면 false.
func (d *DLQManager) ensureCapacity(incoming int64) bool {
	if d.maxSize <= 0 {
		return true
	}

	for atomic.LoadInt64(&d.sizeBytes)+incoming > d.maxSize {
		oldest := d.pickOldest()
		if oldest == "" {
			return false
		}
		d.remove(oldest)
		atomic.AddInt64(&d.metrics.DLQFilesExpiredTotal, 1)
		d.log.Warn().Str("file", oldest).Msg("dlq capacity, removed oldest file")
	}
	return true
}

// ProcessOne 은 가장 오래된 파일 1개를 처리한다.
//   - TTL 초과: 삭제
//   - 첫 줄이 유효한 JSON: RAW prefix 로 재업로드
//   - 그 외: DLQ prefix 로 업로드 (사람이 확인)
//
// 처리할 파일이 없거나 ctx 가 끝났으면 false.
func (d *DLQManager) ProcessOne(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	name := d.pickOldest()
	if name == "" {
		return false
	}

	dataPath := filepath.Join(d.dir, name)
	info, err := os.Stat(dataPath)
	if err != nil {
		_ = os.Remove(dataPath + metaSuffix)
		atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
		return true
	}
	size := info.Size()

	if d.maxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := time.Duration(d.now()-sec) * time.Second
			if age > d.maxAge {
				d.remove(name)
				atomic.AddInt64(&d.metrics.DLQFilesExpiredTotal, 1)
				d.log.Info().Str("file", name).Dur("age", age).Msg("dlq ttl expired, deleted")
				return true
			}
		}
	}

	f, err := os.Open(dataPath)
	if err != nil {
		d.log.Warn().Err(err).Str("file", name).Msg("dlq open failed")
		return false
	}
	defer f.Close()

	valid := validateFile(f, size)

	key := BuildS3Key(d.rawPrefix, name)
	if !valid {
		key = BuildS3Key(d.dlqPrefix, name)
	}

	if err := d.uploader.UploadFile(ctx, key, f, size); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("dlq reupload failed")
		return false
	}

	numEvents := readNumEvents(dataPath + metaSuffix)
	d.remove(name)
	atomic.AddInt64(&d.metrics.DLQEventsReuploadedTotal, numEvents)

	d.log.Info().Str("key", key).Bool("valid", valid).Int64("events", numEvents).Msg("dlq file reuploaded")
	return true
}

// remove 는 data/meta 를 지우고 용량 카운터를 맞춘다.
func (d *DLQManager) remove(name string) {
	dataPath := filepath.Join(d.dir, name)
	if info, err := os.Stat(dataPath); err == nil {
		atomic.AddInt64(&d.sizeBytes, -info.Size())
		atomic.AddInt64(&d.metrics.DLQSizeBytes, -info.Size())
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
}

// readNumEvents 는 meta 가 없거나 깨져 있으면 1.
func readNumEvents(metaPath string) int64 {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return 1
	}
	var m dlqMeta
	if json.Unmarshal(raw, &m) != nil || m.NumEvents <= 0 {
		return 1
	}
	return m.NumEvents
}

// validateFile 은 gzip 을 풀어 첫 줄이 JSON object 인지 본다.
func validateFile(f io.ReadSeeker, size int64) bool {
	if size <= 0 {
		return false
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer gz.Close()

	line, err := bufio.NewReader(gz).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return false
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}

	var tmp map[string]any
	return json.Unmarshal(line, &tmp) == nil
}

// pickOldest 는 파일명(=timestamp) 기준 가장 오래된 data 파일.
// ReadDir 결과 순서에 기대지 않고 직접 정렬한다.
func (d *DLQManager) pickOldest() string {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isDataFile(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return ""
	}

	sort.Strings(files)
	return files[0]
}

func isDataFile(name string) bool {
	return name != "" && name[0] != '.' && !strings.HasSuffix(name, metaSuffix)
}
