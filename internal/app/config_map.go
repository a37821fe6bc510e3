package app

import (
	"strings"
	"svcmon/internal/config"
	"svcmon/internal/gateway"
	"svcmon/internal/httpx"
	"svcmon/internal/monitor"
	"svcmon/internal/probe"
	"svcmon/internal/storage"
	"svcmon/internal/telegram"
)

func sendPolicy(cfg *config.Config, t config.Timings) httpx.Policy {
	return httpx.Policy{
		Attempts:  cfg.Retry.Times,
		Timeout:   t.RequestTimeout,
		BaseDelay: t.RetryBaseDelay,
		MaxDelay:  t.RetryMaxDelay,
	}
}

func mapTelegramConfig(cfg *config.Config, t config.Timings) telegram.Config {
	tc := telegram.Config{
		Token:      cfg.Telegram.Token,
		APIURL:     cfg.Telegram.APIURL,
		Groups:     cfg.Telegram.Groups,
		ParseMode:  cfg.Telegram.ParseMode,
		Retry:      sendPolicy(cfg, t),
		RatePerSec: cfg.Telegram.RatePerSec,
	}
	if cfg.Retry.MaxPending != nil {
		tc.MaxPending = *cfg.Retry.MaxPending
	}
	if cfg.Retry.MaxRedeliveries != nil {
		tc.MaxRedeliveries = *cfg.Retry.MaxRedeliveries
	}
	return tc
}

func mapProbeConfig(cfg *config.Config, t config.Timings) probe.Config {
	p := sendPolicy(cfg, t)
	p.Timeout = t.ProbeTimeout
	return probe.Config{
		API:      config.Requests(cfg.Monitor.APITests),
		Frontend: config.Requests(cfg.Monitor.FrontendTests),
		Hosts:    cfg.Monitor.SSLTests,
		Retry:    p,
	}
}

func mapMonitorConfig(t config.Timings) monitor.Config {
	return monitor.Config{
		PollInterval:  t.PollInterval,
		ProbeInterval: t.MonitorInterval,
		RemindEvery:   t.PauseReminder,
	}
}

func mapGatewayConfig(cfg *config.Config, t config.Timings) gateway.Config {
	return gateway.Config{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		Token:        cfg.API.Token,
		ReadTimeout:  t.APIReadTimeout,
		WriteTimeout: t.APIWriteTimeout,
		IdleTimeout:  t.APIIdleTimeout,
	}
}

// mapStorageConfig reports enabled=false when the section is absent or the
// driver is "none".
func mapStorageConfig(cfg *config.Config, t config.Timings) (storage.Config, bool) {
	if cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: t.StorageBusyTimeout,
	}, true
}
