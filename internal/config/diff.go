package config

import (
	"reflect"
	"sort"
	"strings"
	logx "svcmon/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe attrs for
// logging them. Tokens are never included, only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.IsEnabled() != nt.IsEnabled() ||
		ot.Token != nt.Token ||
		strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL) ||
		!reflect.DeepEqual(ot.Groups, nt.Groups) ||
		ot.ParseMode != nt.ParseMode ||
		strings.TrimSpace(ot.PollInterval) != strings.TrimSpace(nt.PollInterval) ||
		ot.RatePerSec != nt.RatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.IsEnabled()),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.group_count", len(nt.Groups)),
			logx.String("telegram.poll_interval", strings.TrimSpace(nt.PollInterval)),
		)
	}

	om, nm := oldCfg.Monitor, newCfg.Monitor
	if om.IsEnabled() != nm.IsEnabled() ||
		om.Interval != nm.Interval ||
		om.PauseReminder != nm.PauseReminder ||
		om.ProbeTimeout != nm.ProbeTimeout ||
		om.CertExpiryWindow != nm.CertExpiryWindow ||
		!reflect.DeepEqual(om.APITests, nm.APITests) ||
		!reflect.DeepEqual(om.FrontendTests, nm.FrontendTests) ||
		!reflect.DeepEqual(om.SSLTests, nm.SSLTests) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Bool("monitor.enabled", nm.IsEnabled()),
			logx.String("monitor.interval", nm.Interval),
			logx.Int("monitor.api_tests", len(nm.APITests)),
			logx.Int("monitor.frontend_tests", len(nm.FrontendTests)),
			logx.Int("monitor.ssl_tests", len(nm.SSLTests)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retry, newCfg.Retry) {
		changed = append(changed, "retry")
		attrs = append(attrs,
			logx.Int("retry.times", newCfg.Retry.Times),
			logx.String("retry.request_timeout", newCfg.Retry.RequestTimeout),
		)
	}

	oa, na := oldCfg.API, newCfg.API
	if oa.IsEnabled() != na.IsEnabled() ||
		oa.Host != na.Host || oa.Port != na.Port ||
		oa.Token != na.Token ||
		oa.ReadTimeout != na.ReadTimeout ||
		oa.WriteTimeout != na.WriteTimeout ||
		oa.IdleTimeout != na.IdleTimeout {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", na.IsEnabled()),
			logx.String("api.host", na.Host),
			logx.Int("api.port", na.Port),
			logx.Bool("api.token_changed", oa.Token != na.Token),
		)
	}

	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", newCfg.Digest.Schedule),
			logx.String("digest.timezone", newCfg.Digest.Timezone),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// OnlyLogging reports whether changed names nothing but the logging
// section, which can be applied without a restart.
func OnlyLogging(changed []string) bool {
	return len(changed) == 1 && changed[0] == "logging"
}

// LogxConfig converts the logging section for the log service.
func (c LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}
