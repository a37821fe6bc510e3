package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	logx "svcmon/pkg/logx"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	watchDebounce      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher follows the config file on disk. The running process only ever
// uses the config it started with; the logging section is the exception and
// is handed to ApplyLogging. Any other change is reported as needing a
// restart.
type Watcher struct {
	path string
	log  logx.Logger

	// ApplyLogging receives a changed logging section. Optional.
	ApplyLogging func(LoggingConfig)

	mu      sync.Mutex
	current *Config
	pending []string
}

func NewWatcher(path string, current *Config, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if current == nil {
		current = &Config{}
	}
	return &Watcher{path: path, current: current, log: log}
}

// PendingRestart lists sections changed on disk that are not yet live.
func (w *Watcher) PendingRestart() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.pending...)
}

// Reload re-reads the file once. Invalid files are logged and ignored.
func (w *Watcher) Reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Warn("config rejected", logx.String("path", w.path), logx.Err(err))
		return
	}

	w.mu.Lock()
	changed, attrs := SummarizeChange(w.current, next)
	if len(changed) == 0 {
		w.mu.Unlock()
		w.log.Debug("config unchanged", logx.String("path", w.path))
		return
	}
	loggingChanged := false
	for _, s := range changed {
		if s == "logging" {
			loggingChanged = true
			continue
		}
		w.pending = appendUnique(w.pending, s)
	}
	// Sections needing a restart keep their started values so a later
	// edit is still compared against what is actually running.
	merged := *w.current
	merged.Logging = next.Logging
	w.current = &merged
	apply := w.ApplyLogging
	pending := append([]string(nil), w.pending...)
	w.mu.Unlock()

	fields := append([]logx.Field{logx.String("path", w.path), logx.Any("changed", changed)}, attrs...)
	if loggingChanged && apply != nil {
		apply(next.Logging)
		w.log.Info("logging config applied", fields...)
	}
	if !OnlyLogging(changed) {
		w.log.Warn("config changed on disk; restart required", append(fields, logx.Any("pending", pending))...)
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// Run watches the file's directory until ctx is canceled. Editors that
// replace files via rename are handled by matching on the base name. A
// watcher that breaks is recreated with jittered backoff.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() == nil {
				w.Reload()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := w.open(dir)
		if err != nil {
			w.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !sleepCtx(ctx, nextWait()) {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		w.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					w.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
					debounce()
					continue
				}
				w.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}

		_ = fw.Close()
		wait := nextWait()
		w.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

func (w *Watcher) open(dir string) (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return fw, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
