// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"perf-ingest/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
// 전역 zerolog 로거와 표준 log 패키지 출력을 모두 교체하고,
// 컴포넌트에 주입할 수 있도록 같은 로거를 반환한다.
//
// [주요 기능]
//
//  1. 로그 포맷 전환:
//     - LOG_PRETTY=true: 사람용 컬러 텍스트
//     - LOG_PRETTY=false: JSON (CloudWatch 등에서 검색/분석)
//
//  2. 공통 필드:
//     - 모든 로그에 "service", "instance" 가 붙는다.
//     - 예: {"service":"perf-ingest", "instance":"i-123", "message":"..."}
//
//  3. 샘플링:
//     - LOG_SAMPLE_N > 1 이면 Debug/Info 는 N 개 중 1 개만 기록.
//     - Warn/Error 는 항상 100% 기록.
//
// 사용 예:
//
//	log := logger.Init(cfg)
//	log.Info().Msg("서버가 시작되었습니다")
func Init(cfg config.Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogPretty {
		// 예: 10:00:05 INF 서버 시작됨 service=perf-ingest
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	logger := New(cfg, w)

	zlog.Logger = logger

	// 표준 log.Println 도 zerolog 로 흘려보낸다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	return logger
}

// New
//
// w 로 출력하는 로거를 만든다. 전역 상태는 건드리지 않는다.
func New(cfg config.Config, w io.Writer) zerolog.Logger {

	// -------------------------------------------------------------------
	// 1) 로그 레벨 (잘못된 값이면 info)
	// -------------------------------------------------------------------
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}

	// -------------------------------------------------------------------
	// 2) 공통 태그
	// -------------------------------------------------------------------
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	// -------------------------------------------------------------------
	// 3) 샘플링
	// -------------------------------------------------------------------
	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}
