package enrich

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var (
	// ErrMalformedSignals 는 $performance 값에서 navigation 목록을 찾을 수 없을 때.
	ErrMalformedSignals = errors.New("malformed performance signals")

	// ErrNoNavigation 은 navigation 목록이 비어 있을 때.
	ErrNoNavigation = errors.New("performance signals carry no navigation entry")
)

// PerformanceSignals
//
// 브라우저 SDK 가 window.performance.getEntriesByType() 결과를
// navigation / paint / resource 별로 담아 보낸 구조체.
// navigation 은 보통 원소 1개짜리 목록이다. paint, resource 는 읽지 않는다.
type PerformanceSignals struct {
	Navigation []NavigationTiming `json:"navigation"`
	Paint      []any              `json:"paint,omitempty"`
	Resource   []any              `json:"resource,omitempty"`
}

// NavigationTiming
//
// PerformanceNavigationTiming 엔트리의 숫자 필드들.
// 모든 필드는 optional 이다. nil 은 "값이 없거나 숫자가 아님" 을 뜻한다.
// 단조 증가, 음수 여부 등은 검사하지 않는다.
type NavigationTiming struct {
	StartTime                  *float64 `json:"startTime,omitempty"`
	Duration                   *float64 `json:"duration,omitempty"`
	FetchStart                 *float64 `json:"fetchStart,omitempty"`
	DomainLookupStart          *float64 `json:"domainLookupStart,omitempty"`
	DomainLookupEnd            *float64 `json:"domainLookupEnd,omitempty"`
	ConnectStart               *float64 `json:"connectStart,omitempty"`
	ConnectEnd                 *float64 `json:"connectEnd,omitempty"`
	SecureConnectionStart      *float64 `json:"secureConnectionStart,omitempty"`
	RequestStart               *float64 `json:"requestStart,omitempty"`
	ResponseStart              *float64 `json:"responseStart,omitempty"`
	ResponseEnd                *float64 `json:"responseEnd,omitempty"`
	DomInteractive             *float64 `json:"domInteractive,omitempty"`
	DomContentLoadedEventStart *float64 `json:"domContentLoadedEventStart,omitempty"`
	DomContentLoadedEventEnd   *float64 `json:"domContentLoadedEventEnd,omitempty"`
	DomComplete                *float64 `json:"domComplete,omitempty"`
	LoadEventStart             *float64 `json:"loadEventStart,omitempty"`
	LoadEventEnd               *float64 `json:"loadEventEnd,omitempty"`
	TransferSize               *float64 `json:"transferSize,omitempty"`
	EncodedBodySize            *float64 `json:"encodedBodySize,omitempty"`
	DecodedBodySize            *float64 `json:"decodedBodySize,omitempty"`
}

// field 는 브라우저 필드명(camelCase)으로 값을 찾는다.
func (t NavigationTiming) field(name string) (float64, error) {
	var p *float64
	switch name {
	case "startTime":
		p = t.StartTime
	case "duration":
		p = t.Duration
	case "fetchStart":
		p = t.FetchStart
	case "domainLookupStart":
		p = t.DomainLookupStart
	case "domainLookupEnd":
		p = t.DomainLookupEnd
	case "connectStart":
		p = t.ConnectStart
	case "connectEnd":
		p = t.ConnectEnd
	case "secureConnectionStart":
		p = t.SecureConnectionStart
	case "requestStart":
		p = t.RequestStart
	case "responseStart":
		p = t.ResponseStart
	case "responseEnd":
		p = t.ResponseEnd
	case "domInteractive":
		p = t.DomInteractive
	case "domContentLoadedEventStart":
		p = t.DomContentLoadedEventStart
	case "domContentLoadedEventEnd":
		p = t.DomContentLoadedEventEnd
	case "domComplete":
		p = t.DomComplete
	case "loadEventStart":
		p = t.LoadEventStart
	case "loadEventEnd":
		p = t.LoadEventEnd
	case "transferSize":
		p = t.TransferSize
	case "encodedBodySize":
		p = t.EncodedBodySize
	case "decodedBodySize":
		p = t.DecodedBodySize
	default:
		return 0, fmt.Errorf("%w: unknown field %q", ErrMissingField, name)
	}
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return *p, nil
}

// timingFromMap 은 JSON 으로 디코딩된 엔트리(map)에서 숫자 필드만 뽑는다.
// 숫자가 아닌 값(문자열, null 등)은 해당 필드만 nil 로 남긴다.
func timingFromMap(m map[string]any) NavigationTiming {
	return NavigationTiming{
		StartTime:                  number(m["startTime"]),
		Duration:                   number(m["duration"]),
		FetchStart:                 number(m["fetchStart"]),
		DomainLookupStart:          number(m["domainLookupStart"]),
		DomainLookupEnd:            number(m["domainLookupEnd"]),
		ConnectStart:               number(m["connectStart"]),
		ConnectEnd:                 number(m["connectEnd"]),
		SecureConnectionStart:      number(m["secureConnectionStart"]),
		RequestStart:               number(m["requestStart"]),
		ResponseStart:              number(m["responseStart"]),
		ResponseEnd:                number(m["responseEnd"]),
		DomInteractive:             number(m["domInteractive"]),
		DomContentLoadedEventStart: number(m["domContentLoadedEventStart"]),
		DomContentLoadedEventEnd:   number(m["domContentLoadedEventEnd"]),
		DomComplete:                number(m["domComplete"]),
		LoadEventStart:             number(m["loadEventStart"]),
		LoadEventEnd:               number(m["loadEventEnd"]),
		TransferSize:               number(m["transferSize"]),
		EncodedBodySize:            number(m["encodedBodySize"]),
		DecodedBodySize:            number(m["decodedBodySize"]),
	}
}

func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case interface{ Float64() (float64, error) }: // json.Number
		x, err := n.Float64()
		if err != nil {
			return nil
		}
		f = x
	default:
		return nil
	}
	return &f
}

// firstNavigation
//
// $performance 값에서 첫 번째 navigation 엔트리를 꺼낸다.
// 값은 보통 JSON 디코딩 결과(map[string]any)지만, Go 호출자가
// PerformanceSignals 나 []map[string]any 같은 구체 타입을 넣은 경우도 처리한다.
//
// encoded 는 raw 값을 이미 직렬화한 바이트다. raw 를 그대로 읽지 못하면
// encoded 를 generic map 으로 다시 디코딩해서 한 번 더 읽는다.
func firstNavigation(raw any, encoded []byte) (NavigationTiming, error) {
	switch s := raw.(type) {
	case PerformanceSignals:
		return s.first()
	case *PerformanceSignals:
		if s == nil {
			return NavigationTiming{}, ErrMalformedSignals
		}
		return s.first()
	}

	if m, ok := raw.(map[string]any); ok {
		nav, err := navigationFromMap(m)
		if err == nil || errors.Is(err, ErrNoNavigation) {
			return nav, err
		}
	}

	var m map[string]any
	if err := json.Unmarshal(encoded, &m); err != nil || m == nil {
		return NavigationTiming{}, fmt.Errorf("%w: not an object", ErrMalformedSignals)
	}
	return navigationFromMap(m)
}

func navigationFromMap(m map[string]any) (NavigationTiming, error) {
	list, ok := m["navigation"].([]any)
	if !ok {
		return NavigationTiming{}, fmt.Errorf("%w: navigation is not a list", ErrMalformedSignals)
	}
	if len(list) == 0 {
		return NavigationTiming{}, ErrNoNavigation
	}
	entry, ok := list[0].(map[string]any)
	if !ok {
		return NavigationTiming{}, fmt.Errorf("%w: navigation entry is not an object", ErrMalformedSignals)
	}
	return timingFromMap(entry), nil
}

func (s PerformanceSignals) first() (NavigationTiming, error) {
	if len(s.Navigation) == 0 {
		return NavigationTiming{}, ErrNoNavigation
	}
	return s.Navigation[0], nil
}
