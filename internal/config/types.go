package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"svcmon/internal/httpx"
)

// Config is loaded once at startup and never mutated afterwards.
//
// All durations are Go duration strings (e.g. "500ms", "20s", "24h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Monitor  MonitorConfig  `json:"monitor"`
	Retry    RetryConfig    `json:"retry"`
	API      APIConfig      `json:"api"`
	Digest   DigestConfig   `json:"digest"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Systemd  SystemdConfig  `json:"systemd"`
}

// TelegramConfig configures the bot channel.
//
// Enabled is a pointer so an omitted key means enabled.
type TelegramConfig struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	Token     string  `json:"token"`
	APIURL    string  `json:"api_url,omitempty"`
	Groups    []int64 `json:"groups"`
	ParseMode string  `json:"parse_mode,omitempty"`

	// PollInterval is the sleep between command-loop cycles.
	PollInterval string  `json:"poll_interval,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
}

// MonitorConfig configures the periodic website check.
type MonitorConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	Interval      string `json:"interval,omitempty"`
	PauseReminder string `json:"pause_reminder,omitempty"`
	// ProbeTimeout bounds each probe attempt.
	ProbeTimeout string `json:"probe_timeout,omitempty"`
	// CertExpiryWindow fails certificates expiring sooner than this.
	CertExpiryWindow string `json:"cert_expiry_window,omitempty"`

	APITests      []RouteTest `json:"api_tests"`
	FrontendTests []RouteTest `json:"frontend_tests"`
	SSLTests      []string    `json:"ssl_tests"`
}

// RetryConfig is the bounded retry budget shared by sends and probes.
//
// BaseDelay empty or "0s" means attempts run back-to-back.
type RetryConfig struct {
	Times          int    `json:"times,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	BaseDelay      string `json:"base_delay,omitempty"`
	MaxDelay       string `json:"max_delay,omitempty"`

	// MaxPending caps queued sends; 0 means unbounded. Omitted means 256.
	MaxPending *int `json:"max_pending,omitempty"`
	// MaxRedeliveries is how many drain cycles a queued send survives;
	// 0 means unbounded. Omitted means 1.
	MaxRedeliveries *int `json:"max_redeliveries,omitempty"`
}

// APIConfig configures the inbound webhook.
type APIConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Token   string `json:"token"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DigestConfig schedules a full report that is sent even when healthy.
//
// Schedule uses standard five-field cron syntax or descriptors like "@daily".
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./svcmon.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SystemdConfig toggles sd_notify integration. Both are no-ops when not
// running under a notify unit.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// RouteTest is one HTTP probe target:
//
//	{"type": "GET",  "url": "https://example.com/health"}
//	{"type": "POST", "url": "...", "body": "{}", "content_type": "application/json"}
type RouteTest struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Body        string `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// UnmarshalJSON rejects unknown keys and unknown types.
func (r *RouteTest) UnmarshalJSON(b []byte) error {
	type plain RouteTest
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t plain
	if err := dec.Decode(&t); err != nil {
		return err
	}
	t.Type = strings.ToUpper(strings.TrimSpace(t.Type))
	switch t.Type {
	case "GET":
		if t.Body != "" || t.ContentType != "" {
			return fmt.Errorf("route test %q: GET takes no body", t.URL)
		}
	case "POST":
	default:
		return fmt.Errorf("route test %q: unknown type %q (want GET or POST)", t.URL, t.Type)
	}
	*r = RouteTest(t)
	return nil
}

// Request converts r to an outbound request.
func (r RouteTest) Request() httpx.Request {
	if r.Type == "POST" {
		return httpx.Post{URL: r.URL, Body: r.Body, ContentType: r.ContentType}
	}
	return httpx.Get{URL: r.URL}
}

// Requests converts a list of route tests, preserving order.
func Requests(tests []RouteTest) []httpx.Request {
	out := make([]httpx.Request, 0, len(tests))
	for _, t := range tests {
		out = append(out, t.Request())
	}
	return out
}

func enabled(p *bool) bool { return p == nil || *p }

func (c TelegramConfig) IsEnabled() bool { return enabled(c.Enabled) }
func (c MonitorConfig) IsEnabled() bool  { return enabled(c.Enabled) }
func (c APIConfig) IsEnabled() bool      { return enabled(c.Enabled) }
