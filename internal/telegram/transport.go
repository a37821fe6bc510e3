package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"svcmon/internal/httpx"

	tele "gopkg.in/telebot.v4"
)

// statusTransport turns non-2xx Bot API responses into *httpx.StatusError.
// telebot only looks at the JSON body, so without it a 502 with an empty
// body would be indistinguishable from a decode error.
type statusTransport struct {
	next http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var api struct {
		Description string `json:"description"`
	}
	_ = json.Unmarshal(body, &api)
	return nil, &httpx.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Detail: api.Description}
}

type doerTransport struct{ d httpx.Doer }

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) { return t.d.Do(req) }

func transportFor(d httpx.Doer) http.RoundTripper {
	switch v := d.(type) {
	case nil:
		return http.DefaultTransport
	case *http.Client:
		if v.Transport != nil {
			return v.Transport
		}
		return http.DefaultTransport
	default:
		return doerTransport{d: d}
	}
}

// classify maps a Bot API error reported inside a 2xx body onto
// *httpx.StatusError so retry and queueing treat it like an HTTP failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return &httpx.StatusError{StatusCode: te.Code, Detail: te.Description}
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return &httpx.StatusError{StatusCode: http.StatusBadRequest, Detail: ge.Error()}
	}
	return err
}

type result[T any] struct {
	v   T
	err error
}

// call runs fn under the client's retry policy. telebot calls take no
// context, so each attempt runs in its own goroutine and is abandoned when
// the attempt context ends; the HTTP client timeout bounds the leftover.
func call[T any](ctx context.Context, c *Client, name string, fn func() (T, error)) (T, error) {
	var out T
	err := httpx.Retry(ctx, c.cfg.Retry, name, func(ctx context.Context) error {
		done := make(chan result[T], 1)
		go func() {
			v, err := fn()
			done <- result[T]{v: v, err: classify(err)}
		}()
		select {
		case r := <-done:
			if r.err == nil {
				out = r.v
			}
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return out, c.redact(err)
}
