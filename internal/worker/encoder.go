package worker

import (
	"bytes"

	"perf-ingest/internal/model"
	"perf-ingest/internal/pool"

	json "github.com/goccy/go-json"
)

// Encoder 는 이벤트 배치를 JSONL → gzip 으로 직렬화한다.
//
//   - goccy/go-json 인코딩
//   - gzip.Writer + bytes.Buffer 재사용(pool)
//   - 결과는 새 []byte 로 복사해 호출자에게 넘긴다
//     (pool 버퍼를 그대로 반환하면 다음 배치가 덮어쓴다)
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeBatchJSONLGZ 는 이벤트마다 한 줄씩 JSON 으로 쓰고 gzip 으로 압축한다.
func (e *Encoder) EncodeBatchJSONLGZ(events []model.Event) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	gz := pool.GetGzip(buf)
	defer pool.PutGzip(gz)

	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close 시 gzip footer 까지 flush
	if err := gz.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}
