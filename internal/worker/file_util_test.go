package worker

import (
	"regexp"
	"testing"
	"time"
)

func TestNewFilename(t *testing.T) {
	re := regexp.MustCompile(`^\d+_perf1_\d{6}\.jsonl\.gz$`)

	a, b := NewFilename("perf1"), NewFilename("perf1")
	if !re.MatchString(a) {
		t.Errorf("filename %q does not match pattern", a)
	}
	if a == b {
		t.Errorf("consecutive filenames collide: %q", a)
	}
}

func TestBuildS3Key(t *testing.T) {
	dt, hr := partition(time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("KST", 9*3600)))
	if dt != "2024-03-09" || hr != "14" {
		t.Fatalf("partition = %s/%s, want UTC 2024-03-09/14", dt, hr)
	}

	tests := []struct {
		prefix string
		want   string
	}{
		{"raw", "raw/dt=2024-03-09/hr=14/f.jsonl.gz"},
		{"raw/", "raw/dt=2024-03-09/hr=14/f.jsonl.gz"},
		{"events/raw_dlq", "events/raw_dlq/dt=2024-03-09/hr=14/f.jsonl.gz"},
	}
	for _, tc := range tests {
		if got := buildS3Key(tc.prefix, dt, hr, "f.jsonl.gz"); got != tc.want {
			t.Errorf("buildS3Key(%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}

func TestExtractUnixFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		want   int64
		wantOK bool
	}{
		{"1764721594_perf1_000042.jsonl.gz", 1764721594, true},
		{"abc_perf1_000042.jsonl.gz", 0, false},
		{"_perf1.jsonl.gz", 0, false},
		{"nounderscore", 0, false},
		{"0_perf1_000001.jsonl.gz", 0, false},
	}
	for _, tc := range tests {
		got, ok := extractUnixFromFilename(tc.name)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("extract(%q) = %d,%v want %d,%v", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestTimecache(t *testing.T) {
	if d := time.Now().Unix() - Unix(); d < 0 || d > 2 {
		t.Errorf("cached unix drift = %ds", d)
	}
	if len(DT()) != len("2006-01-02") || len(HR()) != 2 {
		t.Errorf("DT/HR = %q/%q", DT(), HR())
	}
}
