package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/xfer/session/throttle"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xfer.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
timeout = "15s"
max_concurrent_transfers = 4
user_agent = "xfer/1.0"
should_set_cookies = false
temp_dir = "`+filepath.ToSlash(dir)+`"

[additional_headers]
Accept = "application/json"

[throttle]
rps = 10
burst = 2

[cache]
capacity = 32
`)

	got, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	exp := DefaultConfiguration()
	exp.Timeout = Duration{15 * time.Second}
	exp.MaxConcurrentTransfers = 4
	exp.UserAgent = "xfer/1.0"
	exp.ShouldSetCookies = false
	exp.TempDir = filepath.ToSlash(dir)
	exp.AdditionalHeaders = map[string]string{"Accept": "application/json"}
	exp.Throttle = &throttle.Config{RPS: 10, Burst: 2}
	exp.Cache = &CacheConfig{Capacity: 32}

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("configuration mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfiguration_Errors(t *testing.T) {
	testCases := map[string]struct {
		content  string
		contains string
	}{
		"unknown key": {
			content:  "max_write_size = 1024\nretries = 3\n",
			contains: "unknown keys: retries",
		},
		"bad duration": {
			content:  `timeout = "soon"`,
			contains: "parsing duration",
		},
		"zero write size": {
			content:  "max_write_size = 0\n",
			contains: "max_write_size",
		},
		"bad throttle": {
			content:  "[throttle]\nrps = 0\nburst = 1\n",
			contains: "rps",
		},
		"missing temp dir": {
			content:  `temp_dir = "/does/not/exist/xfer"`,
			contains: "temp_dir",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfiguration(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.contains) {
				t.Errorf("expected error containing %q, got %v", tc.contains, err)
			}
		})
	}
}

func TestConfiguration_ValidateFieldErrors(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.MaxWriteSize = 0
	cfg.MaxRedirects = -1

	err := cfg.Validate()

	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %T: %v", err, err)
	}

	var fields []string
	for _, f := range fe {
		fields = append(fields, f.Field)
	}
	if diff := cmp.Diff([]string{"Configuration.max_write_size", "Configuration.max_redirects"}, fields); diff != "" {
		t.Errorf("unexpected fields (-want +got):\n%s", diff)
	}
}

func TestNew_OptionsOverrideConfiguration(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.UserAgent = "from-config"

	s, err := New(
		WithConfiguration(cfg),
		WithUserAgent("from-option"),
		WithTimeout(5*time.Second),
		WithMaxConcurrentTransfers(2),
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got := s.Configuration()
	if got.UserAgent != "from-option" || got.Timeout.Duration != 5*time.Second || got.MaxConcurrentTransfers != 2 {
		t.Errorf("options not applied: %+v", got)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	testCases := map[string]Option{
		"negative timeout": WithTimeout(-time.Second),
		"zero throttle":    WithThrottle(0, 1),
		"nil logger":       WithLogger(nil),
		"nil delegate":     WithDelegate(nil),
		"negative limit":   WithMaxConcurrentTransfers(-1),
		"nil cookie jar":   WithCookieJar(nil),
	}

	for name, opt := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(opt); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
