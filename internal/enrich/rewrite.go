package enrich

// Keys 는 재작성에 쓰는 속성 키 모음.
type Keys struct {
	Source string // 원본 nested 값이 들어있는 키 (예: "$performance")
	Prefix string // 파생 지표 키 prefix (예: "$performance_")
}

// Raw 는 직렬화된 원본 스냅샷 키 (예: "$performance_raw").
func (k Keys) Raw() string {
	return k.Prefix + "raw"
}

// Metric 은 파생 지표의 속성 키 (예: "$performance_tlsTime").
func (k Keys) Metric(key string) string {
	return k.Prefix + key
}

// Rewrite
//
// props 를 복사한 새 map 을 만들어
//   - Keys.Raw() 에 raw (원본 $performance 의 JSON 문자열),
//   - 파생 지표마다 Keys.Metric(key) 에 값,
//
// 을 넣고 원본 Keys.Source 키를 지운다. raw 는 nested 값이 아니라 문자열이다.
//
// 입력 props 는 수정하지 않는다.
func Rewrite(props map[string]any, derived map[string]float64, raw string, keys Keys) map[string]any {
	out := make(map[string]any, len(props)+len(derived)+1)
	for k, v := range props {
		out[k] = v
	}

	out[keys.Raw()] = raw
	for k, v := range derived {
		out[keys.Metric(k)] = v
	}

	delete(out, keys.Source)
	return out
}
