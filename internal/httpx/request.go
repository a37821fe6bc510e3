// Package httpx holds the outbound HTTP plumbing shared by the Telegram
// client and the probe engine: a closed GET/POST request type and a bounded
// retry loop with a per-attempt timeout.
package httpx

import (
	"context"
	"net/http"
	"strings"
)

// Doer is the transport capability: send one request, get one response.
// *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is one outbound call. The set of implementations is closed
// (Get, Post): the unexported method keeps other packages from adding
// variants, and every switch over the variants lives in this package.
type Request interface {
	Method() string
	Target() string
	newHTTPRequest(ctx context.Context) (*http.Request, error)
}

type Get struct {
	URL string
}

type Post struct {
	URL         string
	Body        string
	ContentType string
}

func (g Get) Method() string { return http.MethodGet }
func (g Get) Target() string { return g.URL }

func (g Get) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, g.URL, http.NoBody)
}

func (p Post) Method() string { return http.MethodPost }
func (p Post) Target() string { return p.URL }

func (p Post) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, strings.NewReader(p.Body))
	if err != nil {
		return nil, err
	}
	ct := strings.TrimSpace(p.ContentType)
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)
	return req, nil
}

var (
	_ Request = Get{}
	_ Request = Post{}
)
