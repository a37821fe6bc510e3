package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"svcmon/internal/app"
	"svcmon/internal/config"
	logx "svcmon/pkg/logx"
	"syscall"
	"time"
)

const stopTimeout = 15 * time.Second

func main() {
	var cfgPath string
	var watch bool
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.BoolVar(&watch, "watch", true, "watch the config file and report changes")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	logs, log := logx.New(cfg.Logging.LogxConfig())
	defer logs.Close()

	opts := []app.Option{app.WithLogService(logs)}
	if watch {
		opts = append(opts, app.WithConfigWatch(cfgPath))
	}
	a, err := app.New(cfg, log, opts...)
	if err != nil {
		log.Error("fatal", logx.Err(err))
		os.Exit(1)
	}

	if err := a.Start(context.Background()); err != nil {
		log.Error("fatal start", logx.Err(err))
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
		log.Error("app stopped on error", logx.Err(a.Err()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil {
		log.Warn("stop incomplete", logx.Err(err))
	}
	if reason == app.StopFatalError {
		cancel()
		_ = logs.Close()
		os.Exit(1)
	}
}
