// Package probe runs the configured health checks: HTTP routes for the API
// and the frontend, and TLS certificates per hostname. A failing probe adds
// one line to the report; it never aborts the pass.
package probe

import (
	"context"
	"fmt"
	"svcmon/internal/httpx"
	logx "svcmon/pkg/logx"
	"time"
)

// Report lists failures in probe order. Empty means healthy.
type Report []string

// CertChecker validates the certificate served for host.
type CertChecker interface {
	Check(ctx context.Context, host string) error
}

type CertCheckFunc func(ctx context.Context, host string) error

func (f CertCheckFunc) Check(ctx context.Context, host string) error { return f(ctx, host) }

type Config struct {
	API      []httpx.Request
	Frontend []httpx.Request
	Hosts    []string

	// Retry is the per-probe budget. Retry.Timeout bounds each attempt.
	Retry httpx.Policy
}

type Engine struct {
	cfg   Config
	doer  httpx.Doer
	certs CertChecker
	log   logx.Logger
}

func New(cfg Config, doer httpx.Doer, certs CertChecker, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if certs == nil {
		certs = TLSChecker{Timeout: cfg.Retry.Timeout}
	}
	return &Engine{cfg: cfg, doer: doer, certs: certs, log: log}
}

func (e *Engine) CheckAPI(ctx context.Context) Report {
	return e.checkRoutes(ctx, "api", e.cfg.API)
}

func (e *Engine) CheckFrontend(ctx context.Context) Report {
	return e.checkRoutes(ctx, "frontend", e.cfg.Frontend)
}

func (e *Engine) CheckCertificates(ctx context.Context) Report {
	var out Report
	for _, host := range e.cfg.Hosts {
		start := time.Now()
		if err := e.certs.Check(ctx, host); err != nil {
			e.log.Warn("certificate check failed", logx.String("host", host), logx.Err(err))
			out = append(out, fmt.Sprintf("❌ Certificate for %s is not valid: %v.", host, err))
			continue
		}
		e.log.Debug("certificate ok", logx.String("host", host), logx.Duration("took", time.Since(start)))
	}
	return out
}

// Summary runs every probe group: API, frontend, certificates.
func (e *Engine) Summary(ctx context.Context) Report {
	var out Report
	out = append(out, e.CheckAPI(ctx)...)
	out = append(out, e.CheckFrontend(ctx)...)
	out = append(out, e.CheckCertificates(ctx)...)
	return out
}

func (e *Engine) checkRoutes(ctx context.Context, group string, routes []httpx.Request) Report {
	var out Report
	for _, r := range routes {
		if line, ok := e.checkRoute(ctx, group, r); !ok {
			out = append(out, line)
		}
	}
	return out
}

func (e *Engine) checkRoute(ctx context.Context, group string, r httpx.Request) (string, bool) {
	start := time.Now()
	resp, err := httpx.Do(ctx, e.doer, e.cfg.Retry, r)
	if err == nil {
		e.log.Debug("probe ok",
			logx.String("group", group),
			logx.String("method", r.Method()),
			logx.String("url", r.Target()),
			logx.Duration("took", time.Since(start)),
		)
		return "", true
	}

	e.log.Warn("probe failed",
		logx.String("group", group),
		logx.String("method", r.Method()),
		logx.String("url", r.Target()),
		logx.Err(err),
	)
	if resp != nil {
		return fmt.Sprintf("❌ The url %s [%s] fails and return an status %s.", r.Method(), r.Target(), resp.Status), false
	}
	return fmt.Sprintf("❌ The url %s [%s] fails: %v.", r.Method(), r.Target(), err), false
}
