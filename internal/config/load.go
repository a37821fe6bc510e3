package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	logx "svcmon/pkg/logx"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAPIURL          = "https://api.telegram.org"
	DefaultParseMode       = "markdown"
	DefaultPollInterval    = 2 * time.Second
	DefaultMonitorInterval = 20 * time.Second
	DefaultPauseReminder   = 24 * time.Hour
	DefaultProbeTimeout    = 5 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRetryTimes      = 5
	DefaultRatePerSec      = 20
	DefaultMaxPending      = 256
	DefaultMaxRedeliveries = 1
	DefaultAPIHost         = "127.0.0.1"
	DefaultAPIPort         = 8000
	DefaultDigestSchedule  = "0 9 * * *"
)

// Load reads path (JSON, or YAML by extension), applies defaults and
// validates. Unknown keys and trailing data are errors.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes path strictly without defaults or validation.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, b)
}

// Decode decodes data; the extension of name selects YAML or JSON.
func Decode(name string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(name, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func intPtr(v int) *int { return &v }

// ApplyDefaults fills omitted settings.
func (c *Config) ApplyDefaults() {
	t := &c.Telegram
	if strings.TrimSpace(t.APIURL) == "" {
		t.APIURL = DefaultAPIURL
	}
	if strings.TrimSpace(t.ParseMode) == "" {
		t.ParseMode = DefaultParseMode
	}
	if strings.TrimSpace(t.PollInterval) == "" {
		t.PollInterval = DefaultPollInterval.String()
	}
	if t.RatePerSec == 0 {
		t.RatePerSec = DefaultRatePerSec
	}

	m := &c.Monitor
	if strings.TrimSpace(m.Interval) == "" {
		m.Interval = DefaultMonitorInterval.String()
	}
	if strings.TrimSpace(m.PauseReminder) == "" {
		m.PauseReminder = DefaultPauseReminder.String()
	}
	if strings.TrimSpace(m.ProbeTimeout) == "" {
		m.ProbeTimeout = DefaultProbeTimeout.String()
	}

	r := &c.Retry
	if r.Times == 0 {
		r.Times = DefaultRetryTimes
	}
	if strings.TrimSpace(r.RequestTimeout) == "" {
		r.RequestTimeout = DefaultRequestTimeout.String()
	}
	if r.MaxPending == nil {
		r.MaxPending = intPtr(DefaultMaxPending)
	}
	if r.MaxRedeliveries == nil {
		r.MaxRedeliveries = intPtr(DefaultMaxRedeliveries)
	}

	a := &c.API
	if strings.TrimSpace(a.Host) == "" {
		a.Host = DefaultAPIHost
	}
	if a.Port == 0 {
		a.Port = DefaultAPIPort
	}

	if c.Digest.Enabled && strings.TrimSpace(c.Digest.Schedule) == "" {
		c.Digest.Schedule = DefaultDigestSchedule
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports every problem at once, each prefixed with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Telegram.IsEnabled() {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add("telegram.token: required when telegram is enabled")
		}
		if len(c.Telegram.Groups) == 0 {
			add("telegram.groups: at least one chat id is required")
		}
		if _, err := url.ParseRequestURI(c.Telegram.APIURL); err != nil {
			add("telegram.api_url: %v", err)
		}
	}
	if c.Telegram.RatePerSec < 0 {
		add("telegram.rate_per_sec: must be >= 0")
	}

	if c.API.IsEnabled() {
		if c.API.Token == "" {
			add("api.token: required when api is enabled")
		}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		add("api.port: %d out of range", c.API.Port)
	}

	if c.Retry.Times < 1 {
		add("retry.times: must be >= 1")
	}
	if c.Retry.MaxPending != nil && *c.Retry.MaxPending < 0 {
		add("retry.max_pending: must be >= 0")
	}
	if c.Retry.MaxRedeliveries != nil && *c.Retry.MaxRedeliveries < 0 {
		add("retry.max_redeliveries: must be >= 0")
	}

	for i, rt := range c.Monitor.APITests {
		if err := validateRoute(rt); err != nil {
			add("monitor.api_tests[%d]: %v", i, err)
		}
	}
	for i, rt := range c.Monitor.FrontendTests {
		if err := validateRoute(rt); err != nil {
			add("monitor.frontend_tests[%d]: %v", i, err)
		}
	}
	for i, h := range c.Monitor.SSLTests {
		if strings.TrimSpace(h) == "" {
			add("monitor.ssl_tests[%d]: empty host", i)
		}
	}

	if c.Digest.Enabled {
		if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
			add("digest.schedule: %v", err)
		}
		if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("digest.timezone: %v", err)
			}
		}
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				add("storage.path: required for driver %q", c.Storage.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", c.Storage.Driver)
		}
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}

	if _, err := c.Timings(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateRoute(rt RouteTest) error {
	u, err := url.ParseRequestURI(strings.TrimSpace(rt.URL))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", rt.URL)
	}
	return nil
}

// Timings holds every duration setting, parsed.
type Timings struct {
	PollInterval     time.Duration
	MonitorInterval  time.Duration
	PauseReminder    time.Duration
	ProbeTimeout     time.Duration
	CertExpiryWindow time.Duration

	RequestTimeout time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	APIReadTimeout  time.Duration
	APIWriteTimeout time.Duration
	APIIdleTimeout  time.Duration

	StorageBusyTimeout time.Duration
}

// Timings parses the duration fields; omitted fields fall back to the
// package defaults.
func (c *Config) Timings() (Timings, error) {
	var (
		t    Timings
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	parse(&t.PollInterval, "telegram.poll_interval", c.Telegram.PollInterval, DefaultPollInterval)
	parse(&t.MonitorInterval, "monitor.interval", c.Monitor.Interval, DefaultMonitorInterval)
	parse(&t.PauseReminder, "monitor.pause_reminder", c.Monitor.PauseReminder, DefaultPauseReminder)
	parse(&t.ProbeTimeout, "monitor.probe_timeout", c.Monitor.ProbeTimeout, DefaultProbeTimeout)
	parse(&t.CertExpiryWindow, "monitor.cert_expiry_window", c.Monitor.CertExpiryWindow, 0)
	parse(&t.RequestTimeout, "retry.request_timeout", c.Retry.RequestTimeout, DefaultRequestTimeout)
	parse(&t.RetryBaseDelay, "retry.base_delay", c.Retry.BaseDelay, 0)
	parse(&t.RetryMaxDelay, "retry.max_delay", c.Retry.MaxDelay, 0)
	parse(&t.APIReadTimeout, "api.read_timeout", c.API.ReadTimeout, 10*time.Second)
	parse(&t.APIWriteTimeout, "api.write_timeout", c.API.WriteTimeout, 0)
	parse(&t.APIIdleTimeout, "api.idle_timeout", c.API.IdleTimeout, 60*time.Second)
	if c.Storage != nil {
		parse(&t.StorageBusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, 0)
	}
	if err := errors.Join(errs...); err != nil {
		return Timings{}, err
	}
	return t, nil
}
