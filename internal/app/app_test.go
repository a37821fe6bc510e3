package app

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"svcmon/internal/config"
	"svcmon/internal/eventbus"
	"svcmon/internal/telegram"
	logx "svcmon/pkg/logx"
	"sync"
	"testing"
	"time"
)

type sent struct {
	text    string
	chatIDs []int64
}

type fakeChannel struct {
	mu      sync.Mutex
	updates [][]telegram.Update
	sent    []sent
}

func (f *fakeChannel) Send(_ context.Context, text string, chatIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{text: text, chatIDs: chatIDs})
	return nil
}

func (f *fakeChannel) FetchNewUpdates(context.Context) ([]telegram.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil, nil
	}
	next := f.updates[0]
	f.updates = f.updates[1:]
	return next, nil
}

func (f *fakeChannel) DrainPending(context.Context) int { return 0 }

func (f *fakeChannel) find(substr string) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if strings.Contains(s.text, substr) {
			return s, true
		}
	}
	return sent{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func baseConfig(t *testing.T, probeURL string) *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc", Groups: []int64{-1001}, PollInterval: "10ms"},
		Monitor: config.MonitorConfig{
			Interval: "20ms",
			APITests: []config.RouteTest{{Type: "GET", URL: probeURL}},
		},
		Retry: config.RetryConfig{Times: 1, RequestTimeout: "1s"},
		API:   config.APIConfig{Host: "127.0.0.1", Port: freePort(t), Token: "hook"},
	}
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsMissingSecrets(t *testing.T) {
	cfg := &config.Config{Telegram: config.TelegramConfig{Groups: []int64{1}}}
	_, err := New(cfg, logx.Nop())
	if err == nil || !strings.Contains(err.Error(), "telegram.token") || !strings.Contains(err.Error(), "api.token") {
		t.Fatalf("err = %v", err)
	}
}

func TestAppRunsLoopsAndGateway(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	ch := &fakeChannel{updates: [][]telegram.Update{{{
		ID: 1,
		Message: &telegram.Message{
			ChatID:   77,
			Text:     "/pause",
			Entities: []telegram.Entity{{Kind: telegram.KindBotCommand, Offset: 0, Length: 6}},
		},
	}}}}

	a, err := New(baseConfig(t, down.URL), logx.Nop(), WithChannel(ch))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	waitFor(t, "pause command", a.Pause().IsPaused)
	msg, ok := ch.find("Service is paused")
	if !ok || len(msg.chatIDs) != 1 || msg.chatIDs[0] != 77 {
		t.Fatalf("pause confirmation = %+v, %v", msg, ok)
	}

	addr := a.GatewayAddr()
	alert := func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/notification", strings.NewReader(`{"message":"disk full"}`))
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("hook")))
		return http.DefaultClient.Do(req)
	}
	resp, err := alert()
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := ch.find("disk full"); !ok {
		t.Fatal("webhook alert not forwarded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.ShutdownGateway(ctx); err != nil {
		t.Fatalf("ShutdownGateway: %v", err)
	}
	if resp, err := alert(); err == nil {
		_ = resp.Body.Close()
		t.Fatal("gateway still serving after ShutdownGateway")
	}
	select {
	case <-a.Done():
		t.Fatal("app stopped with the gateway")
	default:
	}
}

func TestAppReportsProbeFailures(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	cfg := baseConfig(t, down.URL)
	cfg.API.Enabled = new(bool)
	ch := &fakeChannel{}
	a, err := New(cfg, logx.Nop(), WithChannel(ch))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopApp(t, a)

	waitFor(t, "failure report", func() bool {
		_, ok := ch.find("500 Internal Server Error")
		return ok
	})
	msg, _ := ch.find("500 Internal Server Error")
	if msg.chatIDs != nil {
		t.Fatalf("report targets = %v, want default groups", msg.chatIDs)
	}
	if a.GatewayAddr() != "" {
		t.Fatal("gateway running while api.enabled=false")
	}
}

func TestAppAuditTrail(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, "http://127.0.0.1:1/")
	off := false
	cfg.Monitor.Enabled = &off
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "svcmon.json")}

	ch := &fakeChannel{updates: [][]telegram.Update{{{
		ID: 1,
		Message: &telegram.Message{
			ChatID:   5,
			Text:     "/unpause",
			Entities: []telegram.Entity{{Kind: telegram.KindBotCommand, Offset: 0, Length: 8}},
		},
	}}}}
	a, err := New(cfg, logx.Nop(), WithChannel(ch))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unpause reply", func() bool {
		_, ok := ch.find("resumed")
		return ok
	})
	waitFor(t, "audit line", func() bool {
		b, _ := os.ReadFile(filepath.Join(dir, "svcmon.audit.jsonl"))
		return strings.Contains(string(b), eventbus.TypeCommandHandled)
	})
	stopApp(t, a)
}

func TestAppTelegramDisabledUsesLog(t *testing.T) {
	off := false
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Enabled: &off},
		Monitor:  config.MonitorConfig{Enabled: &off},
		API:      config.APIConfig{Enabled: &off},
	}
	a, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.channel.(logChannel); !ok {
		t.Fatalf("channel = %T, want logChannel", a.channel)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stopApp(t, a)
}
