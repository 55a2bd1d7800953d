package metrics

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// 노출 이름 prefix
const namespace = "perf_ingest_"

// Metrics 는 서버 상태를 나타내는 카운터 모음이다.
// 모든 필드는 sync/atomic 으로만 접근한다.
type Metrics struct {
	// ======================
	// HTTP 레벨 지표
	// ======================

	// HTTPRequestsTotal
	// - /capture 로 들어온 모든 요청 수 (메서드/결과 무관).
	HTTPRequestsTotal int64

	// HTTPRequestsAcceptedTotal
	// - 모든 이벤트가 EventCh 로 enqueue 된 요청 수.
	HTTPRequestsAcceptedTotal int64

	// HTTPRequestsRejectedBodyTooLargeTotal
	// - MaxBodySize 초과로 413 을 반환한 요청 수.
	HTTPRequestsRejectedBodyTooLargeTotal int64

	// HTTPRequestsRejectedBadRequestTotal
	// - JSON 파싱 실패 등으로 400 을 반환한 요청 수.
	HTTPRequestsRejectedBadRequestTotal int64

	// HTTPRequestsRejectedQueueFullTotal
	// - EventCh 가 가득 차서 503 을 반환한 요청 수.
	// - 계속 증가하면 sink(S3/SQLite) 가 느려져 큐가 막히고 있다는 신호.
	HTTPRequestsRejectedQueueFullTotal int64

	// ======================
	// Enrich 지표
	// ======================

	// EventsEnrichedTotal
	// - $performance 를 풀어서 재작성한 이벤트 수.
	EventsEnrichedTotal int64

	// EventsPassedThroughTotal
	// - 대상이 아니어서 그대로 통과한 이벤트 수.
	EventsPassedThroughTotal int64

	// MetricFaultsTotal
	// - 개별 지표 계산 실패 수 (필드 누락, NaN/Inf, panic).
	// - 이벤트 하나에서 여러 번 증가할 수 있다.
	MetricFaultsTotal int64

	// ======================
	// Sink 지표
	// ======================

	// SinkEventsStoredTotal
	// - sink(S3 RAW prefix 또는 SQLite)에 최종 저장된 이벤트 수.
	// - 단위는 배치가 아니라 이벤트.
	SinkEventsStoredTotal int64

	// S3PutErrorsTotal
	// - PutObject 실패 "시도" 횟수. retry 3회 모두 실패하면 +3.
	S3PutErrorsTotal int64

	// SinkEncodeDroppedTotal
	// - JSONL/gzip 인코딩에 실패해 업로드도 DLQ 저장도 못 하고 버린 이벤트 수.
	SinkEncodeDroppedTotal int64

	// ======================
	// DLQ 지표
	// ======================

	// DLQEventsEnqueuedTotal
	// - 업로드 실패로 로컬 DLQ 에 저장된 이벤트 수.
	DLQEventsEnqueuedTotal int64

	// DLQEventsReuploadedTotal
	// - DLQ 파일에서 S3 로 복구된 이벤트 수 (.meta.json 의 event_count 기준).
	DLQEventsReuploadedTotal int64

	// DLQEventsDroppedTotal
	// - DLQ 용량 부족으로 저장하지 못하고 버린 이벤트 수.
	// - 0 이 아니면 데이터를 영구적으로 잃기 시작했다는 뜻.
	DLQEventsDroppedTotal int64

	// DLQFilesExpiredTotal
	// - TTL 또는 용량 정리로 삭제된 DLQ 파일 수.
	DLQFilesExpiredTotal int64

	// DLQFilesCurrent (gauge)
	// - 현재 DLQ 디렉토리의 파일 수.
	DLQFilesCurrent int64

	// DLQSizeBytes (gauge)
	// - 현재 DLQ 디렉토리 전체 용량.
	DLQSizeBytes int64
}

func New() *Metrics {
	return &Metrics{}
}

type sample struct {
	name  string
	help  string
	gauge bool
	ptr   *int64
}

func (m *Metrics) samples() []sample {
	return []sample{
		{"http_requests_total", "All requests received on the capture endpoint.", false, &m.HTTPRequestsTotal},
		{"http_requests_accepted_total", "Requests whose events were all enqueued.", false, &m.HTTPRequestsAcceptedTotal},
		{"http_requests_rejected_body_too_large_total", "Requests rejected with 413.", false, &m.HTTPRequestsRejectedBodyTooLargeTotal},
		{"http_requests_rejected_bad_request_total", "Requests rejected with 400.", false, &m.HTTPRequestsRejectedBadRequestTotal},
		{"http_requests_rejected_queue_full_total", "Requests rejected with 503 because the event queue was full.", false, &m.HTTPRequestsRejectedQueueFullTotal},

		{"events_enriched_total", "Events rewritten with derived performance properties.", false, &m.EventsEnrichedTotal},
		{"events_passed_through_total", "Events forwarded unchanged.", false, &m.EventsPassedThroughTotal},
		{"metric_faults_total", "Individual derived metrics that could not be computed.", false, &m.MetricFaultsTotal},

		{"sink_events_stored_total", "Events persisted by the configured sink.", false, &m.SinkEventsStoredTotal},
		{"s3_put_errors_total", "Failed S3 PutObject attempts.", false, &m.S3PutErrorsTotal},
		{"sink_encode_dropped_total", "Events dropped because their batch could not be encoded.", false, &m.SinkEncodeDroppedTotal},

		{"dlq_events_enqueued_total", "Events saved to the local dead letter queue.", false, &m.DLQEventsEnqueuedTotal},
		{"dlq_events_reuploaded_total", "Events recovered from the dead letter queue.", false, &m.DLQEventsReuploadedTotal},
		{"dlq_events_dropped_total", "Events dropped because the dead letter queue was full.", false, &m.DLQEventsDroppedTotal},
		{"dlq_files_expired_total", "Dead letter files removed by TTL or capacity cleanup.", false, &m.DLQFilesExpiredTotal},
		{"dlq_files_current", "Dead letter files currently on disk.", true, &m.DLQFilesCurrent},
		{"dlq_size_bytes", "Bytes currently used by the dead letter queue.", true, &m.DLQSizeBytes},
	}
}

// Families 는 현재 값을 Prometheus MetricFamily 로 변환한다.
func (m *Metrics) Families() []*dto.MetricFamily {
	ss := m.samples()
	out := make([]*dto.MetricFamily, 0, len(ss))

	for _, s := range ss {
		v := float64(atomic.LoadInt64(s.ptr))
		mf := &dto.MetricFamily{
			Name: proto.String(namespace + s.name),
			Help: proto.String(s.help),
		}
		if s.gauge {
			mf.Type = dto.MetricType_GAUGE.Enum()
			mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}}
		} else {
			mf.Type = dto.MetricType_COUNTER.Enum()
			mf.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}}
		}
		out = append(out, mf)
	}
	return out
}

// WriteText 는 Prometheus text exposition 포맷으로 w 에 쓴다.
func (m *Metrics) WriteText(w io.Writer) error {
	for _, mf := range m.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// String 은 로그용 key=value 덤프.
func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	for _, s := range m.samples() {
		fmt.Fprintf(&sb, "%s=%d\n", s.name, atomic.LoadInt64(s.ptr))
	}
	return sb.String()
}
