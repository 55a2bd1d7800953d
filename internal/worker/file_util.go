// internal/worker/file_util.go
package worker

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// file_util.go
// ------------------------------------------------------------
// RAW 업로드와 DLQ 파일이 공유하는 파일명/S3 key 규칙.
//
// 파일명 규칙:
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	1764721594_perf1_000042.jsonl.gz
//
// 문자열 정렬이 곧 시간 순 정렬이므로 DLQ 는 가장 오래된 파일부터 처리한다.
var globalCounter uint64

// NextCounter 는 1,000,000 에서 0 으로 돌아가는 순차 번호.
// timestamp + instance 조합이 있으므로 wrap-around 되어도 충돌하지 않는다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.jsonl.gz 를 만든다.
func NewFilename(instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", Unix(), instanceID, NextCounter())
}

// BuildS3Key
// ------------------------------------------------------------
// S3 폴더 구조(UTC 파티션):
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
func BuildS3Key(prefix, filename string) string {
	return buildS3Key(prefix, DT(), HR(), filename)
}

func buildS3Key(prefix, dt, hr, filename string) string {
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", strings.TrimSuffix(prefix, "/"), dt, hr, filename)
}

// extractUnixFromFilename 은 파일명 prefix 에서 Unix seconds 를 파싱한다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
