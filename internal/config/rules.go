package config

import (
	"fmt"
	"os"

	"perf-ingest/internal/enrich"

	"gopkg.in/yaml.v3"
)

// Rules
//
// enrich 대상 이벤트/키 설정. ENRICH_RULES_FILE 로 지정한 YAML 에서 읽고,
// 파일이 바뀌면 WatchRules 가 다시 읽는다.
//
//	event_name: $pageview
//	source_key: $performance
//	property_prefix: $performance_
type Rules struct {
	EventName      string `yaml:"event_name"`
	SourceKey      string `yaml:"source_key"`
	PropertyPrefix string `yaml:"property_prefix"`
}

// DefaultRules 는 파일이 없을 때의 규칙.
func DefaultRules() Rules {
	return Rules{
		EventName:      enrich.DefaultEventName,
		SourceKey:      enrich.DefaultSourceKey,
		PropertyPrefix: enrich.DefaultSourceKey + "_",
	}
}

// LoadRules 는 path 의 YAML 을 읽는다. path 가 비어 있으면 DefaultRules.
// 파일에 없는 항목은 기본값을 유지한다.
func LoadRules(path string) (Rules, error) {
	r := DefaultRules()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("rules: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("rules: parse yaml: %w", err)
	}
	if err := r.validate(); err != nil {
		return Rules{}, fmt.Errorf("rules: %w", err)
	}
	return r, nil
}

func (r Rules) validate() error {
	if r.EventName == "" {
		return fmt.Errorf("event_name is required")
	}
	if r.SourceKey == "" {
		return fmt.Errorf("source_key is required")
	}
	if r.PropertyPrefix == "" {
		return fmt.Errorf("property_prefix is required")
	}
	// raw 스냅샷 키가 원본 키와 같으면 재작성 시 스냅샷이 지워진다.
	if r.PropertyPrefix+"raw" == r.SourceKey {
		return fmt.Errorf("property_prefix %q collides with source_key %q", r.PropertyPrefix, r.SourceKey)
	}
	return nil
}

// Options 는 enrich.Options 로 변환한다.
func (r Rules) Options() enrich.Options {
	return enrich.Options{
		EventName:      r.EventName,
		SourceKey:      r.SourceKey,
		PropertyPrefix: r.PropertyPrefix,
	}
}
