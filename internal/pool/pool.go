package pool

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// capture 요청마다 body 를 읽고, 배치마다 JSONL+gzip 결과를 만든다.
// 둘 다 hot path 이므로 버퍼와 gzip.Writer 를 재사용한다.
// ---------------------------------------------------------------

var (
	// BodyPool: POST body 임시 버퍼 (초기 4KB)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool: gzip 결과 버퍼 (초기 256KB)
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool: gzip.Writer (BestSpeed)
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
			return w
		},
	}
)

// MaxBufferCap 보다 커진 gzip 버퍼는 풀에 돌려주지 않는다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutBody 는 cap 이 maxCap 이하인 body 버퍼만 풀에 돌려준다.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// PutBuffer 는 cap 이 MaxBufferCap 이하인 gzip 결과 버퍼만 풀에 돌려준다.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// GetGzip 은 dst 로 Reset 된 gzip.Writer 를 꺼낸다.
func GetGzip(dst io.Writer) *gzip.Writer {
	zw := GzipPool.Get().(*gzip.Writer)
	zw.Reset(dst)
	return zw
}

// PutGzip 은 Close 가 끝난 writer 를 돌려준다. dst 참조는 끊는다.
func PutGzip(zw *gzip.Writer) {
	zw.Reset(io.Discard)
	GzipPool.Put(zw)
}
