package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"perf-ingest/internal/config"
	"perf-ingest/internal/metrics"
	"perf-ingest/internal/model"
	"perf-ingest/internal/pool"
	"perf-ingest/internal/worker"

	json "github.com/goccy/go-json"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

var (
	errEmptyBody    = errors.New("empty body")
	errNoEvents     = errors.New("no events in payload")
	errMissingEvent = errors.New("event name is required")
)

// Enqueuer 는 이벤트를 파이프라인에 넣는 쪽. *worker.Manager 가 구현한다.
type Enqueuer interface {
	Enqueue(ev model.Event) bool
}

type Handler struct {
	maxBodySize int64
	metrics     *metrics.Metrics
	queue       Enqueuer
	log         zerolog.Logger
}

func NewHandler(cfg config.Config, m *metrics.Metrics, q Enqueuer, log zerolog.Logger) *Handler {
	return &Handler{
		maxBodySize: cfg.MaxBodySize,
		metrics:     m,
		queue:       q,
		log:         log.With().Str("component", "http").Logger(),
	}
}

// HandleCapture
//
// SDK 가 보내는 이벤트 수집 엔드포인트 (/capture, /e).
// body 는 단일 이벤트, {"batch":[...]}, 또는 이벤트 배열.
//
//  1. 요청 길이 제한(MaxBodySize) → 413
//  2. JSON 파싱 실패 / 이벤트 이름 없음 → 400
//  3. Ts / IP / UserAgent 를 채워서 queue 에 non-blocking push
//  4. queue full → 503 (이미 들어간 이벤트는 그대로 처리된다)
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		// CORS preflight
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.maxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBodyTooLargeTotal, 1)
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.badRequest(w, err)
		return
	}

	events, err := decodeEvents(buf.Bytes())
	if err != nil {
		h.badRequest(w, err)
		return
	}

	ts := worker.Unix()
	ip := clientIP(r)
	ua := r.UserAgent()

	for i := range events {
		ev := events[i]
		ev.Ts = ts
		if ev.IP == "" {
			ev.IP = ip
		}
		if ev.UserAgent == "" {
			ev.UserAgent = ua
		}

		if !h.queue.Enqueue(ev) {
			atomic.AddInt64(&h.metrics.HTTPRequestsRejectedQueueFullTotal, 1)
			h.log.Warn().Int("accepted", i).Int("total", len(events)).Msg("event queue full")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}

	atomic.AddInt64(&h.metrics.HTTPRequestsAcceptedTotal, 1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":1}`)
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBadRequestTotal, 1)
	h.log.Debug().Err(err).Msg("rejecting capture request")
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// decodeEvents 는 세 가지 body 형태를 모두 []model.Event 로 푼다.
func decodeEvents(body []byte) ([]model.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}

	var events []model.Event
	if body[0] == '[' {
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
	} else {
		var batch model.Batch
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		if batch.Events != nil {
			events = batch.Events
		} else {
			var ev model.Event
			if err := json.Unmarshal(body, &ev); err != nil {
				return nil, err
			}
			events = []model.Event{ev}
		}
	}

	if len(events) == 0 {
		return nil, errNoEvents
	}
	for i := range events {
		if events[i].Event == "" {
			return nil, errMissingEvent
		}
	}
	return events, nil
}

// HandleMetrics 는 카운터를 Prometheus text 포맷으로 내보낸다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := h.metrics.WriteText(w); err != nil {
		h.log.Error().Err(err).Msg("write metrics")
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}
