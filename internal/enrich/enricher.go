package enrich

import (
	"math"

	"perf-ingest/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// 기본 이벤트/속성 이름.
const (
	DefaultEventName = "$pageview"
	DefaultSourceKey = "$performance"
)

// Options 는 Enricher 가 어떤 이벤트/키를 대상으로 할지 정한다.
// 빈 값은 기본값으로 채워진다.
type Options struct {
	EventName      string // 대상 이벤트 종류 (기본 "$pageview")
	SourceKey      string // 원본 성능 데이터 속성 키 (기본 "$performance")
	PropertyPrefix string // 파생 지표 키 prefix (기본 SourceKey + "_")
}

func (o Options) withDefaults() Options {
	if o.EventName == "" {
		o.EventName = DefaultEventName
	}
	if o.SourceKey == "" {
		o.SourceKey = DefaultSourceKey
	}
	if o.PropertyPrefix == "" {
		o.PropertyPrefix = o.SourceKey + "_"
	}
	return o
}

// Report 는 이벤트 하나를 처리한 결과 요약. 호스트의 카운터 집계용.
type Report struct {
	Enriched bool          // 속성이 재작성되었는지
	Faults   []MetricFault // 생략된 지표들
}

// Enricher 는 불변이며 동시 사용에 안전하다.
type Enricher struct {
	opts Options
	keys Keys
	log  zerolog.Logger
}

// New 는 Enricher 를 만든다. log 는 진단용이며 zerolog.Nop() 이어도 된다.
func New(opts Options, log zerolog.Logger) *Enricher {
	opts = opts.withDefaults()
	return &Enricher{
		opts: opts,
		keys: Keys{Source: opts.SourceKey, Prefix: opts.PropertyPrefix},
		log:  log,
	}
}

// Options 는 실제 적용 중인(기본값이 채워진) 옵션을 돌려준다.
func (e *Enricher) Options() Options {
	return e.opts
}

// ShouldEnrich
//
// 대상 이벤트 종류이고, 속성에 성능 데이터가 실려 있을 때만 true.
// 키는 있지만 값이 falsy(nil, false, "", 0, NaN)인 경우도 "없음" 으로 본다.
func (e *Enricher) ShouldEnrich(ev model.Event) bool {
	if ev.Event != e.opts.EventName {
		e.log.Debug().Str("event", ev.Event).Msg("not a pageview, skipping")
		return false
	}
	if ev.Properties == nil || falsy(ev.Properties[e.keys.Source]) {
		e.log.Debug().Str("uuid", ev.UUID).Msg("event has no performance info, skipping")
		return false
	}
	return true
}

// falsy 는 JSON 값 기준의 거짓 판정. 빈 object / array 는 참이다.
func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	}
	if f := number(v); f != nil {
		return *f == 0 || math.IsNaN(*f)
	}
	return false
}

// Process 는 Enrich 에서 Report 를 버린 버전.
func (e *Enricher) Process(ev model.Event) model.Event {
	out, _ := e.Enrich(ev)
	return out
}

// Enrich
//
// 대상이 아니면 ev 를 그대로 돌려준다.
// 대상이면 원본 $performance 를 JSON 문자열로 보존하고, 첫 번째
// navigation 엔트리에서 지표를 계산해 새 속성 map 으로 교체한다.
//
// navigation 이 비었거나 구조가 깨진 경우에도 raw 스냅샷은 붙이고
// 원본 키는 지운다. 이 경우 지표는 하나도 붙지 않는다.
//
// 어떤 입력에도 panic 을 밖으로 던지지 않는다.
func (e *Enricher) Enrich(ev model.Event) (out model.Event, rep Report) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("uuid", ev.UUID).Msg("performance enrichment aborted")
			out, rep = ev, Report{}
		}
	}()

	if !e.ShouldEnrich(ev) {
		return ev, Report{}
	}

	raw := ev.Properties[e.keys.Source]
	encoded, err := json.Marshal(raw)
	if err != nil {
		e.log.Warn().Err(err).Str("uuid", ev.UUID).Msg("performance info is not serializable, skipping")
		return ev, Report{}
	}

	var derived map[string]float64
	nav, err := firstNavigation(raw, encoded)
	if err != nil {
		e.log.Warn().Err(err).Str("uuid", ev.UUID).Msg("no navigation timing, attaching raw snapshot only")
	} else {
		derived, rep.Faults = Derive(nav, e.log)
	}

	ev.Properties = Rewrite(ev.Properties, derived, string(encoded), e.keys)
	rep.Enriched = true

	e.log.Debug().
		Str("uuid", ev.UUID).
		Int("metrics", len(derived)).
		Int("faults", len(rep.Faults)).
		Msg("processed pageview event")
	return ev, rep
}
