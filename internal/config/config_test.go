package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: file
  path: ./store
scheduler:
  enabled: true
  workers: 2
  timezone: UTC
rate_limit:
  enabled: true
  adaptive:
    seed: 30
    low_engagement: 0.2
dedup:
  enabled: true
digest:
  enabled: true
dispatch:
  enabled: true
  rate_per_sec: 20
  retry_base: 500ms
pipeline:
  schedule_ahead: 30m
  recent_window: 50
behavior:
  inactive_after: 30m
  evict_after: 2h
profile:
  decay_factor: 0.95
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging not parsed: %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("storage.driver = %q", cfg.Storage.Driver)
	}
	if cfg.RateLimit.Adaptive.Seed != 30 || cfg.RateLimit.Adaptive.LowEngagement != 0.2 {
		t.Fatalf("adaptive not parsed: %+v", cfg.RateLimit.Adaptive)
	}
	if cfg.Dispatch.RetryBase != "500ms" {
		t.Fatalf("dispatch.retry_base = %q", cfg.Dispatch.RetryBase)
	}
	if cfg.Pipeline.ScheduleAhead != "30m" || cfg.Pipeline.RecentWindow != 50 {
		t.Fatalf("pipeline not parsed: %+v", cfg.Pipeline)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json",
		`{"logging":{"level":"info","console":false,"file":{"enabled":false,"path":""}},`+
			`"storage":{"driver":"memory","path":""},`+
			`"scheduler":{"enabled":true},`+
			`"rate_limit":{"enabled":true,"adaptive":{}},`+
			`"dedup":{"enabled":true},"digest":{"enabled":false},`+
			`"dispatch":{"enabled":true},"pipeline":{},"behavior":{},"profile":{}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage.driver = %q", cfg.Storage.Driver)
	}
	if cfg.Digest.Enabled {
		t.Fatal("digest should be disabled")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "logging:\n  level: info\nnot_a_section:\n  x: 1\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown section must be rejected")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging":{"level":"info","console":false,"file":{"enabled":false,"path":""}}}{"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("trailing document must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty is zero", raw: "", want: 0},
		{name: "valid", raw: "750ms", want: 750 * time.Millisecond},
		{name: "minutes", raw: "5m", want: 5 * time.Minute},
		{name: "garbage", raw: "five minutes", wantErr: true},
		{name: "negative", raw: "-1s", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("test.field", tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("x", "", 10*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("default not applied: %v %v", got, err)
	}
	got, err = ParseDurationOrDefault("x", "3s", 10*time.Second)
	if err != nil || got != 3*time.Second {
		t.Fatalf("explicit value lost: %v %v", got, err)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.publish(&Config{})
	select {
	case cfg := <-ch:
		if cfg == nil {
			t.Fatal("nil config published")
		}
	default:
		t.Fatal("subscriber did not receive config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Dispatch: DispatchConfig{Enabled: true, Workers: 4},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 2 {
		t.Fatalf("changed = %v, want logging+dispatch", changed)
	}
	if changed[0] != "dispatch" || changed[1] != "logging" {
		t.Fatalf("changed not sorted: %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs")
	}

	same, _ := SummarizeChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("no-op diff reported changes: %v", same)
	}
}
