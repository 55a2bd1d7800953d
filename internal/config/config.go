// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sink 종류
const (
	SinkS3     = "s3"
	SinkSQLite = "sqlite"
)

// Config
//
// 서비스 실행 시 필요한 환경 변수 값을 보관하는 구조체.
// 프로세스 시작 시점에 Load() 로 한 번 채워지고 이후에는 read-only.
type Config struct {

	// ---------------------------
	// 서버 식별자 / 네트워크 / 로그
	// ---------------------------

	ServiceName string // 로그 공통 필드 "service" (기본 perf-ingest)
	InstanceID  string // 호스트명 기반, 실패 시 랜덤 hex
	HTTPAddr    string // HTTP bind 주소 (예: ":8080")

	LogLevel   string // debug | info | warn | error (기본 info)
	LogPretty  bool   // true 면 사람용 ConsoleWriter
	LogSampleN uint32 // >1 이면 Debug/Info 로그를 N 개 중 1 개만 기록

	// ---------------------------
	// 요청 처리 / 배치
	// ---------------------------

	MaxBodySize   int64         // 단일 요청 body 최대 크기 (바이트)
	ChannelSize   int           // EventCh 버퍼 크기
	UploadQueue   int           // uploadCh 버퍼 크기
	BatchSize     int           // N 개 모이면 flush
	FlushInterval time.Duration // 시간 기반 flush 주기

	// ---------------------------
	// enrich 규칙 파일 (선택)
	// ---------------------------

	RulesFile string // YAML 경로. 비어 있으면 기본 규칙

	// ---------------------------
	// Sink
	// ---------------------------

	Sink string // s3 | sqlite (기본 s3)

	// S3 (Sink == s3)
	// SDK retry 는 0 으로 고정하고, 재시도는 S3AppRetries 로만 한다.
	AWSRegion    string
	RawBucket    string
	RawPrefix    string
	DLQPrefix    string
	S3Timeout    time.Duration // PutObject 시도당 timeout
	S3AppRetries int

	// 로컬 DLQ (Sink == s3)
	DLQDir          string
	DLQMaxAge       time.Duration // 파일 TTL
	DLQMaxSizeBytes int64         // DLQ 전체 허용 용량

	// SQLite (Sink == sqlite)
	SQLitePath string
}

// Load
//
// 환경 변수로 Config 를 채운다.
// 필수 값이 없거나 형식이 틀리면 즉시 종료(fail-fast).
func Load() Config {
	cfg, err := load(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func load(getenv func(string) string) (Config, error) {
	e := &env{get: getenv}

	cfg := Config{
		ServiceName: e.opt("SERVICE_NAME", "perf-ingest"),
		InstanceID:  fallbackInstanceID(),
		HTTPAddr:    e.must("HTTP_ADDR"),

		LogLevel:   e.opt("LOG_LEVEL", "info"),
		LogPretty:  e.optBool("LOG_PRETTY"),
		LogSampleN: uint32(e.optInt("LOG_SAMPLE_N", 0)),

		MaxBodySize:   e.mustInt64("MAX_BODY_SIZE"),
		ChannelSize:   e.mustInt("CHANNEL_SIZE"),
		UploadQueue:   e.mustInt("UPLOAD_QUEUE"),
		BatchSize:     e.mustInt("BATCH_SIZE"),
		FlushInterval: e.mustDur("FLUSH_INTERVAL"),

		RulesFile: e.opt("ENRICH_RULES_FILE", ""),
		Sink:      strings.ToLower(e.opt("SINK", SinkS3)),
	}

	switch cfg.Sink {
	case SinkS3:
		cfg.AWSRegion = e.must("AWS_REGION")
		cfg.RawBucket = e.must("RAW_BUCKET")
		cfg.RawPrefix = e.must("RAW_PREFIX")
		cfg.DLQPrefix = e.must("DLQ_PREFIX")
		cfg.S3Timeout = e.mustDur("S3_TIMEOUT")
		cfg.S3AppRetries = e.mustInt("S3_APP_RETRIES")
		cfg.DLQDir = e.must("DLQ_DIR")
		cfg.DLQMaxAge = e.mustDur("DLQ_MAX_AGE")
		cfg.DLQMaxSizeBytes = e.mustInt64("DLQ_MAX_SIZE_BYTES")
	case SinkSQLite:
		cfg.SQLitePath = e.must("SQLITE_PATH")
	default:
		e.fail(fmt.Errorf("unknown SINK %q (want %s|%s)", cfg.Sink, SinkS3, SinkSQLite))
	}

	if e.err != nil {
		return Config{}, e.err
	}
	if cfg.BatchSize <= 0 || cfg.ChannelSize <= 0 || cfg.UploadQueue <= 0 {
		return Config{}, fmt.Errorf("BATCH_SIZE, CHANNEL_SIZE and UPLOAD_QUEUE must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, fmt.Errorf("FLUSH_INTERVAL must be positive")
	}
	return cfg, nil
}

// env
//
// must / mustInt / mustInt64 / mustDur 공통 패턴.
// 첫 번째 에러만 기억하고, 이후 호출은 zero value 를 돌려준다.
type env struct {
	get func(string) string
	err error
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *env) must(key string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		e.fail(fmt.Errorf("missing required env: %s", key))
	}
	return v
}

func (e *env) opt(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) optBool(key string) bool {
	v := e.opt(key, "false")
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid bool env %s=%q: %w", key, v, err))
	}
	return b
}

func (e *env) optInt(key string, def int) int {
	v := e.opt(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.fail(fmt.Errorf("invalid int env %s=%q", key, v))
	}
	return n
}

func (e *env) mustInt(key string) int {
	v := e.must(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid int env %s=%q: %w", key, v, err))
	}
	return n
}

func (e *env) mustInt64(key string) int64 {
	v := e.must(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(fmt.Errorf("invalid int64 env %s=%q: %w", key, v, err))
	}
	return n
}

func (e *env) mustDur(key string) time.Duration {
	v := e.must(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid duration env %s=%q: %w", key, v, err))
	}
	return d
}

// fallbackInstanceID
//
//   - 기본: hostname (ECS/Fargate 에서는 task-id 형태로 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
