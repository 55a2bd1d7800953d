package model

// Event
// ------------------------------------------------------------
// 클라이언트(브라우저 SDK)가 /capture 로 보낸 단일 analytics 이벤트.
// Handler → Manager(enrich) → Sink 까지 값(value)으로 전달된다.
//
// Event 와 Properties 외의 필드는 파이프라인이 해석하지 않고
// 그대로 통과(pass-through)시키는 값이다.
type Event struct {
	Event      string         `json:"event"`                // 이벤트 종류 (예: "$pageview")
	Properties map[string]any `json:"properties,omitempty"` // 임의의 key → value 속성

	UUID       string `json:"uuid,omitempty"`
	DistinctID string `json:"distinct_id,omitempty"`
	IP         string `json:"ip,omitempty"`
	SiteURL    string `json:"site_url,omitempty"`
	TeamID     int64  `json:"team_id,omitempty"`
	Now        string `json:"now,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`

	// ingest 서버가 채우는 값
	Ts        int64  `json:"ts"`                   // 수집 시각 (UTC epoch seconds)
	UserAgent string `json:"user_agent,omitempty"` // User-Agent 헤더
}

// Batch 는 SDK 가 여러 이벤트를 한 번에 보낼 때의 body 형태.
type Batch struct {
	Events []Event `json:"batch"`
}

// UploadJob
// ------------------------------------------------------------
// collectLoop → uploadLoop 로 전달되는 배치 단위 작업.
// Events 는 이미 enrich 가 끝난 이벤트들이다.
type UploadJob struct {
	Events []Event
}
