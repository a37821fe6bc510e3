package probe

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"svcmon/internal/httpx"
	logx "svcmon/pkg/logx"
	"sync/atomic"
	"testing"
	"time"
)

func okCerts() CertChecker {
	return CertCheckFunc(func(context.Context, string) error { return nil })
}

func statusServer(t *testing.T, code int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSummaryHealthy(t *testing.T) {
	srv := statusServer(t, http.StatusOK, nil)
	e := New(Config{
		API:   []httpx.Request{httpx.Get{URL: srv.URL}},
		Retry: httpx.Policy{Attempts: 3, Timeout: time.Second},
	}, srv.Client(), okCerts(), logx.Nop())

	if got := e.Summary(context.Background()); len(got) != 0 {
		t.Fatalf("Summary = %v, want empty", got)
	}
}

func TestSummaryReportsServerError(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusInternalServerError, &hits)
	e := New(Config{
		API:   []httpx.Request{httpx.Get{URL: srv.URL}},
		Retry: httpx.Policy{Attempts: 3, Timeout: time.Second},
	}, srv.Client(), okCerts(), logx.Nop())

	got := e.Summary(context.Background())
	if len(got) != 1 {
		t.Fatalf("Summary = %v, want one line", got)
	}
	if !strings.Contains(got[0], srv.URL) || !strings.Contains(got[0], "500") {
		t.Fatalf("line %q lacks url or status", got[0])
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want full retry budget of 3", hits.Load())
	}
}

func TestSummaryOrder(t *testing.T) {
	bad := statusServer(t, http.StatusServiceUnavailable, nil)
	good := statusServer(t, http.StatusNoContent, nil)
	certs := CertCheckFunc(func(_ context.Context, host string) error {
		if host == "expired.example" {
			return errors.New("x509: certificate has expired")
		}
		return nil
	})
	e := New(Config{
		API:      []httpx.Request{httpx.Get{URL: bad.URL + "/a"}, httpx.Get{URL: good.URL}},
		Frontend: []httpx.Request{httpx.Post{URL: bad.URL + "/b", Body: "{}"}},
		Hosts:    []string{"ok.example", "expired.example"},
		Retry:    httpx.Policy{Attempts: 1},
	}, http.DefaultClient, certs, logx.Nop())

	got := e.Summary(context.Background())
	if len(got) != 3 {
		t.Fatalf("Summary = %v, want 3 lines", got)
	}
	if !strings.Contains(got[0], "GET ["+bad.URL+"/a]") {
		t.Errorf("line 0 = %q", got[0])
	}
	if !strings.Contains(got[1], "POST ["+bad.URL+"/b]") {
		t.Errorf("line 1 = %q", got[1])
	}
	if !strings.Contains(got[2], "expired.example") {
		t.Errorf("line 2 = %q", got[2])
	}
}

func TestCheckRouteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := New(Config{
		Frontend: []httpx.Request{httpx.Get{URL: url}},
		Retry:    httpx.Policy{Attempts: 2, Timeout: time.Second},
	}, http.DefaultClient, okCerts(), logx.Nop())

	got := e.CheckFrontend(context.Background())
	if len(got) != 1 || !strings.Contains(got[0], url) {
		t.Fatalf("CheckFrontend = %v", got)
	}
}

func TestTLSChecker(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	host := strings.TrimPrefix(srv.URL, "https://")

	ok := TLSChecker{Timeout: 2 * time.Second, RootCAs: pool}
	if err := ok.Check(context.Background(), host); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := ok.Check(context.Background(), srv.URL+"/path"); err != nil {
		t.Fatalf("Check with url: %v", err)
	}

	soon := TLSChecker{Timeout: 2 * time.Second, RootCAs: pool, ExpiryWindow: 200 * 365 * 24 * time.Hour}
	if err := soon.Check(context.Background(), host); err == nil {
		t.Fatal("expected expiry window failure")
	}

	untrusted := TLSChecker{Timeout: 2 * time.Second}
	if err := untrusted.Check(context.Background(), host); err == nil {
		t.Fatal("expected verification failure without the test root")
	}
}

func TestSplitTarget(t *testing.T) {
	cases := []struct {
		in, addr, name string
	}{
		{"example.com", "example.com:443", "example.com"},
		{"example.com:8443", "example.com:8443", "example.com"},
		{"https://example.com/health", "example.com:443", "example.com"},
	}
	for _, tc := range cases {
		addr, name, err := splitTarget(tc.in)
		if err != nil || addr != tc.addr || name != tc.name {
			t.Errorf("splitTarget(%q) = %q, %q, %v", tc.in, addr, name, err)
		}
	}
	if _, _, err := splitTarget("  "); err == nil {
		t.Error("expected error for empty host")
	}
}
