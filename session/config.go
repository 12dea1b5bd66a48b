package session

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/adamwoolhether/xfer/session/throttle"
)

const (
	defaultMaxWriteSize = 16 << 10 // 16KB
	defaultMaxRedirects = 16
)

// Duration is a time.Duration read from strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// CacheConfig enables the in-memory response cache.
type CacheConfig struct {
	Capacity int `toml:"capacity" validate:"gt=0"`
}

// Configuration holds the settings a Session is created with. The zero
// value is not usable; start from DefaultConfiguration.
type Configuration struct {
	// Timeout bounds the wait for response headers. 0 disables it.
	Timeout                Duration `toml:"timeout"`
	MaxConcurrentTransfers int      `toml:"max_concurrent_transfers" validate:"gte=0"`
	MaxWriteSize           int      `toml:"max_write_size" validate:"gt=0"`
	MaxRedirects           int      `toml:"max_redirects" validate:"gt=0"`
	UserAgent              string   `toml:"user_agent"`
	// ShouldSetCookies stores response cookies and sends them on later
	// requests, redirects included.
	ShouldSetCookies bool `toml:"should_set_cookies"`
	// AdditionalHeaders are set on every request that lacks them.
	AdditionalHeaders map[string]string `toml:"additional_headers"`
	// TempDir holds in-progress downloads. Empty means os.TempDir.
	TempDir  string           `toml:"temp_dir"`
	Throttle *throttle.Config `toml:"throttle"`
	Cache    *CacheConfig     `toml:"cache"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		Timeout:          Duration{60 * time.Second},
		MaxWriteSize:     defaultMaxWriteSize,
		MaxRedirects:     defaultMaxRedirects,
		ShouldSetCookies: true,
	}
}

// Validate reports every invalid field.
func (c Configuration) Validate() error {
	if err := validateStruct(c); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}
	if c.Timeout.Duration < 0 {
		return fmt.Errorf("validating configuration: timeout must not be negative")
	}
	if c.TempDir != "" {
		fi, err := os.Stat(c.TempDir)
		if err != nil {
			return fmt.Errorf("validating configuration: temp_dir: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("validating configuration: temp_dir: %s is not a directory", c.TempDir)
		}
	}
	return nil
}

// LoadConfiguration reads a TOML file over DefaultConfiguration. Unknown
// keys are rejected.
func LoadConfiguration(path string) (Configuration, error) {
	cfg := DefaultConfiguration()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Configuration{}, fmt.Errorf("decoding configuration: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return Configuration{}, fmt.Errorf("decoding configuration: unknown keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}

	return cfg, nil
}

func (c Configuration) tempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}
