package enrich

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

var (
	// ErrMissingField 는 공식에 필요한 navigation timing 필드가 없을 때.
	ErrMissingField = errors.New("navigation timing field missing")

	// ErrNonFinite 는 결과가 NaN / ±Inf 일 때 (예: decodedBodySize == 0).
	// JSON 으로 표현할 수 없는 값이므로 해당 지표는 기록하지 않는다.
	ErrNonFinite = errors.New("derived value is not a finite number")

	// ErrPanic 은 공식 실행 중 panic 이 발생했을 때.
	ErrPanic = errors.New("metric formula panicked")
)

type formula func(t NavigationTiming) (float64, error)

// Metric 은 파생 지표 하나의 정의.
//   - Name: 지표 이름 (로그, MetricFault 에 사용)
//   - Key:  속성 키 suffix. 실제 키는 Keys.Prefix + Key
type Metric struct {
	Name    string
	Key     string
	compute formula
}

// Metrics
// ------------------------------------------------------------
// 파생 지표 테이블. 순서대로 계산되며 서로 독립적이다.
// 모든 시간 값은 브라우저가 준 단위(ms) 그대로, 크기 값은 byte 그대로.
var Metrics = []Metric{
	{Name: "dnsLookupTime", Key: "dnsLookupTime", compute: between("domainLookupStart", "domainLookupEnd")},
	{Name: "connectionTime", Key: "connectionTime", compute: between("connectStart", "connectEnd")},
	{Name: "tlsTime", Key: "tlsTime", compute: tlsTime},
	{Name: "domContentLoaded", Key: "domContentLoaded", compute: between("startTime", "domContentLoadedEventEnd")},
	{Name: "fetchTime", Key: "fetchTime", compute: between("fetchStart", "responseEnd")},
	{Name: "timeToFirstByte", Key: "timeToFirstByte", compute: between("requestStart", "responseStart")},
	{Name: "domReadyStateInteractive", Key: "domReadyState_interactive", compute: between("startTime", "domInteractive")},
	{Name: "domReadyStateComplete", Key: "domReadyState_complete", compute: between("startTime", "domComplete")},
	{Name: "pageLoaded", Key: "pageLoaded", compute: verbatim("duration")},
	{Name: "pageSize", Key: "pageSize", compute: verbatim("decodedBodySize")},
	{Name: "compressedPageSize", Key: "compressedPageSize", compute: verbatim("encodedBodySize")},
	{Name: "compressionSaving", Key: "compressionSaving", compute: compressionSaving},
}

// MetricFault 는 계산에 실패해 생략된 지표 하나.
type MetricFault struct {
	Metric string
	Err    error
}

func (f MetricFault) Error() string {
	return fmt.Sprintf("metric %s: %v", f.Metric, f.Err)
}

// Derive
//
// navigation timing 하나로부터 Metrics 테이블의 모든 지표를 계산한다.
// 결과 map 의 key 는 Metric.Key 이다.
//
// 지표마다 독립된 에러 경계 안에서 계산하므로, 한 필드가 빠지거나
// 이상한 값이어도 나머지 지표는 그대로 계산된다. 실패한 지표는
// 결과에서 빠지고 faults 로 돌려준다.
func Derive(t NavigationTiming, log zerolog.Logger) (map[string]float64, []MetricFault) {
	out := make(map[string]float64, len(Metrics))
	var faults []MetricFault

	for _, m := range Metrics {
		v, err := evaluate(m, t)
		if err != nil {
			log.Warn().
				Str("metric", m.Name).
				Err(err).
				Msg("could not add performance metric")
			faults = append(faults, MetricFault{Metric: m.Name, Err: err})
			continue
		}
		out[m.Key] = v
	}
	return out, faults
}

// evaluate 는 지표 하나를 계산한다. panic 도 에러로 바꿔서 돌려준다.
func evaluate(m Metric, t NavigationTiming) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	v, err = m.compute(t)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	return v, nil
}

// between 은 end - start.
func between(start, end string) formula {
	return func(t NavigationTiming) (float64, error) {
		s, err := t.field(start)
		if err != nil {
			return 0, err
		}
		e, err := t.field(end)
		if err != nil {
			return 0, err
		}
		return e - s, nil
	}
}

func verbatim(name string) formula {
	return func(t NavigationTiming) (float64, error) {
		return t.field(name)
	}
}

// tlsTime
//
// secureConnectionStart 가 0 이하이면 TLS 핸드셰이크가 없었던 것
// (http 이거나 재사용된 keep-alive 연결)이므로 0 을 돌려준다.
func tlsTime(t NavigationTiming) (float64, error) {
	secure, err := t.field("secureConnectionStart")
	if err != nil {
		return 0, err
	}
	if secure <= 0 {
		return 0, nil
	}
	end, err := t.field("connectEnd")
	if err != nil {
		return 0, err
	}
	return end - secure, nil
}

// compressionSaving 은 1 - encoded/decoded.
// decodedBodySize 가 0 이면 결과가 NaN/Inf 가 되어 evaluate 에서 걸러진다.
func compressionSaving(t NavigationTiming) (float64, error) {
	encoded, err := t.field("encodedBodySize")
	if err != nil {
		return 0, err
	}
	decoded, err := t.field("decodedBodySize")
	if err != nil {
		return 0, err
	}
	return 1 - encoded/decoded, nil
}
