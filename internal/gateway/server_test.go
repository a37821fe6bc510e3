package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	logx "svcmon/pkg/logx"
	"sync"
	"testing"
	"time"
)

type call struct {
	text    string
	chatIDs []int64
}

type fakeSender struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeSender) Send(_ context.Context, text string, chatIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{text: text, chatIDs: chatIDs})
	return f.err
}

func (f *fakeSender) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func basic(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

func TestValidateBasic(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		header string
		want   bool
	}{
		{"valid", "test", "Basic dGVzdA==", true},
		{"surrounding whitespace", "test", "  Basic dGVzdA==\t", true},
		{"several spaces", "test", "Basic    dGVzdA==", true},
		{"bearer scheme", "test", "Bearer dGVzdA==", false},
		{"no space", "test", "BasicdGVzdA==", false},
		{"lowercase scheme", "test", "basic dGVzdA==", false},
		{"malformed base64", "test", "Basic dGVzdA=", false},
		{"not base64", "test", "Basic !!!", false},
		{"wrong token", "test", basic("nope"), false},
		{"empty header", "test", "", false},
		{"scheme only", "test", "Basic ", false},
		{"invalid utf8", "\xff", "Basic " + base64.StdEncoding.EncodeToString([]byte{0xff}), false},
		{"empty token", "", "Basic ", false},
		{"unicode token", "clé-secrète", basic("clé-secrète"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateBasic(tc.token, tc.header); got != tc.want {
				t.Fatalf("ValidateBasic(%q, %q) = %v, want %v", tc.token, tc.header, got, tc.want)
			}
		})
	}
}

func post(t *testing.T, h http.Handler, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/notification", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNotificationAccepted(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Token: "test"}, sender, logx.Nop(), nil)

	rec := post(t, s.Handler(), basic("test"), `{"message":"hi"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id")
	}
	calls := sender.all()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	if calls[0].text != "hi" || calls[0].chatIDs != nil {
		t.Fatalf("send = %+v", calls[0])
	}
}

func TestNotificationEscapesMessage(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Token: "test"}, sender, logx.Nop(), nil)

	rec := post(t, s.Handler(), basic("test"), `{"message":"disk 95% (sda1)!"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := sender.all()[0].text; got != `disk 95% \(sda1\)\!` {
		t.Fatalf("text = %q", got)
	}
}

func TestNotificationForbidden(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Token: "test"}, sender, logx.Nop(), nil)

	for _, auth := range []string{"", basic("wrong"), "Bearer dGVzdA=="} {
		rec := post(t, s.Handler(), auth, `{"message":"hi"}`)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("auth %q: status = %d, want 403", auth, rec.Code)
		}
	}
	if n := len(sender.all()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
}

func TestNotificationBadRequest(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Token: "test"}, sender, logx.Nop(), nil)

	for _, body := range []string{`{`, `{"message":""}`, `{"message":"   "}`, `[]`} {
		rec := post(t, s.Handler(), basic("test"), body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
	if n := len(sender.all()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
}

func TestNotificationAcceptedWhenSendFails(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	s := New(Config{Token: "test"}, sender, logx.Nop(), nil)

	if rec := post(t, s.Handler(), basic("test"), `{"message":"hi"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestNotificationWrongMethod(t *testing.T) {
	s := New(Config{Token: "test"}, &fakeSender{}, logx.Nop(), nil)
	req := httptest.NewRequest(http.MethodGet, "/notification", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Host: "127.0.0.1", Port: 0, Token: "test"}, sender, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errc:
		t.Fatalf("Run: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/notification", s.Addr()), strings.NewReader(`{"message":"live"}`))
	req.Header.Set("Authorization", basic("test"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
