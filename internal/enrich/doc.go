// Package enrich 는 $pageview 이벤트에 실린 브라우저 navigation timing 을
// 읽어 파생 성능 지표($performance_*)를 이벤트 속성으로 펼쳐 넣는다.
//
// 흐름:
//
//	ShouldEnrich (필터) → Derive (지표 계산) → Rewrite (속성 재작성)
//
// 지표 하나의 계산 실패는 다른 지표에 영향을 주지 않는다. 실패한 지표는
// 속성에서 빠지고 MetricFault 로 보고된다.
//
// Enricher 는 생성 후 불변이며 여러 goroutine 에서 동시에 사용해도 된다.
// I/O 나 공유 상태가 없다.
package enrich
