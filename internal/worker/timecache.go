// internal/worker/timecache.go
package worker

import (
	"sync/atomic"
	"time"
)

//
// timecache.go
// ------------------------------------------------------------
// 현재 UTC epoch seconds 와 UTC 날짜/시간 파티션을 1초 ticker 로 캐싱한다.
// 이벤트마다 time.Now() + Format 을 하지 않기 위함.
//
// 사용처:
//   - Event.Ts (수집시각)
//   - S3 파티션 prefix (dt=YYYY-MM-DD / hr=HH)
//   - DLQ TTL 판단
// ------------------------------------------------------------

var (
	unixSec atomic.Int64
	dtVal   atomic.Value // "YYYY-MM-DD"
	hrVal   atomic.Value // "HH"
)

func init() {
	store(time.Now())

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for now := range ticker.C {
			store(now)
		}
	}()
}

func store(now time.Time) {
	unixSec.Store(now.Unix())

	dt, hr := partition(now)
	dtVal.Store(dt)
	hrVal.Store(hr)
}

// partition 은 t 의 UTC 날짜/시간 파티션 값을 돌려준다.
func partition(t time.Time) (dt, hr string) {
	u := t.UTC()
	return u.Format("2006-01-02"), u.Format("15")
}

// ------------------------------------------------------------
// Public API
// ------------------------------------------------------------

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}

// DT returns "YYYY-MM-DD" (UTC).
func DT() string {
	return dtVal.Load().(string)
}

// HR returns "HH" (UTC).
func HR() string {
	return hrVal.Load().(string)
}
