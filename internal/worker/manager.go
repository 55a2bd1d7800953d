// internal/worker/manager.go
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"perf-ingest/internal/config"
	"perf-ingest/internal/enrich"
	"perf-ingest/internal/metrics"
	"perf-ingest/internal/model"

	"github.com/rs/zerolog"
)

// idleInterval 은 업로드할 배치가 없을 때 sink 유지보수(DLQ 재업로드) 주기.
const idleInterval = 500 * time.Millisecond

// Manager 는 ingest 파이프라인의 중심이다.
//
//   - eventCh: HTTP 핸들러 → Manager
//   - collectLoop: 이벤트마다 Enricher 를 적용하고, BatchSize 또는
//     FlushInterval 마다 묶어서 uploadCh 로 넘긴다
//   - uploadLoop: 배치를 Sink 로 전달하고, 남는 시간에 Sink 유지보수
//
// Shutdown 은 큐에 남은 이벤트를 모두 흘려보낸 뒤 반환한다.
type Manager struct {
	cfg     config.Config
	metrics *metrics.Metrics
	sink    Sink
	log     zerolog.Logger

	// rules 파일이 바뀌면 SetEnricher 로 통째로 교체된다.
	enricher atomic.Pointer[enrich.Enricher]

	eventCh  chan model.Event
	uploadCh chan model.UploadJob

	mu     sync.RWMutex // closed / eventCh close 보호
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewManager(cfg config.Config, sink Sink, e *enrich.Enricher, m *metrics.Metrics, log zerolog.Logger) *Manager {
	mgr := &Manager{
		cfg:      cfg,
		metrics:  m,
		sink:     sink,
		log:      log.With().Str("component", "manager").Logger(),
		eventCh:  make(chan model.Event, cfg.ChannelSize),
		uploadCh: make(chan model.UploadJob, cfg.UploadQueue),
	}
	mgr.enricher.Store(e)
	mgr.ctx, mgr.cancel = context.WithCancel(context.Background())
	return mgr
}

// SetEnricher 는 이후 수집되는 이벤트부터 e 를 적용한다.
func (m *Manager) SetEnricher(e *enrich.Enricher) {
	m.enricher.Store(e)
}

// Enqueue 는 non-blocking 으로 이벤트를 넣는다.
// 큐가 가득 찼거나 종료 중이면 false (호출자는 503).
func (m *Manager) Enqueue(ev model.Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}
	select {
	case m.eventCh <- ev:
		return true
	default:
		return false
	}
}

// Start 는 collectLoop / uploadLoop 를 띄운다.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.collectLoop()
	go m.uploadLoop()
}

// Shutdown
//
// 새 이벤트를 막고 eventCh 를 닫은 뒤, 남은 배치가 모두 전달될 때까지 기다린다.
// ctx 가 먼저 끝나면 진행 중인 업로드를 취소하고 ctx.Err() 를 돌려준다.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.eventCh)
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn().Msg("shutdown deadline reached, aborting in-flight uploads")
		m.cancel()
		<-done
		err = ctx.Err()
	}
	m.cancel()

	if cerr := m.sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// collectLoop 는 eventCh 에서 이벤트를 읽어 enrich 후 batch 로 묶는다.
// flush 는 항상 새 slice 를 만든다 (uploadLoop 가 이전 slice 를 쓰는 중).
func (m *Manager) collectLoop() {
	defer m.wg.Done()
	defer close(m.uploadCh)

	batch := make([]model.Event, 0, m.cfg.BatchSize)
	timer := time.NewTimer(m.cfg.FlushInterval)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.cfg.FlushInterval)
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		select {
		case m.uploadCh <- model.UploadJob{Events: batch}:
		case <-m.ctx.Done():
			m.log.Error().Int("events", len(batch)).Msg("dropping batch on forced shutdown")
		}
		batch = make([]model.Event, 0, m.cfg.BatchSize)
	}

	for {
		select {
		case ev, ok := <-m.eventCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, m.transform(ev))
			if len(batch) >= m.cfg.BatchSize {
				flush()
				reset()
			}

		case <-timer.C:
			flush()
			timer.Reset(m.cfg.FlushInterval)
		}
	}
}

// transform 은 현재 Enricher 를 적용하고 결과를 카운트한다.
func (m *Manager) transform(ev model.Event) model.Event {
	e := m.enricher.Load()
	if e == nil {
		atomic.AddInt64(&m.metrics.EventsPassedThroughTotal, 1)
		return ev
	}

	out, rep := e.Enrich(ev)
	if rep.Enriched {
		atomic.AddInt64(&m.metrics.EventsEnrichedTotal, 1)
	} else {
		atomic.AddInt64(&m.metrics.EventsPassedThroughTotal, 1)
	}
	if n := len(rep.Faults); n > 0 {
		atomic.AddInt64(&m.metrics.MetricFaultsTotal, int64(n))
	}
	return out
}

// uploadLoop 는 uploadCh 가 닫힐 때까지 배치를 Sink 로 보낸다.
// 배치 뒤마다, 그리고 idle 일 때 주기적으로 Sink 유지보수를 돌린다.
func (m *Manager) uploadLoop() {
	defer m.wg.Done()

	maint, _ := m.sink.(Maintainer)

	idle := time.NewTicker(idleInterval)
	defer idle.Stop()

	for {
		select {
		case job, ok := <-m.uploadCh:
			if !ok {
				m.log.Info().Msg("uploader exiting")
				return
			}
			m.deliver(job)
			if maint != nil {
				maint.Maintain(m.ctx)
			}

		case <-idle.C:
			if maint != nil {
				maint.Maintain(m.ctx)
			}
		}
	}
}

func (m *Manager) deliver(job model.UploadJob) {
	if len(job.Events) == 0 {
		return
	}

	err := m.sink.Deliver(m.ctx, job.Events)
	switch {
	case err == nil:
		atomic.AddInt64(&m.metrics.SinkEventsStoredTotal, int64(len(job.Events)))
	case errors.Is(err, ErrSpooled):
		m.log.Warn().Err(err).Int("events", len(job.Events)).Msg("batch deferred")
	default:
		m.log.Error().Err(err).Int("events", len(job.Events)).Msg("batch delivery failed")
	}
}
