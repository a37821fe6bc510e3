package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// ErrExhausted wraps the last attempt error once every attempt failed.
var ErrExhausted = errors.New("retry budget exhausted")

// maxBodyBytes bounds how much of a response body is kept.
const maxBodyBytes = 1 << 20

// Policy is a retry budget. Attempts counts the first try.
//
// BaseDelay == 0 means attempts run back-to-back. Otherwise the delay before
// attempt n+1 is BaseDelay*2^(n-1), capped at MaxDelay, with 0.7..1.3 jitter.
type Policy struct {
	Attempts  int
	Timeout   time.Duration // per attempt; 0 disables
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// StatusError reports a non-2xx response. Detail carries the server's
// explanation when one was available.
type StatusError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("unexpected status %d", e.StatusCode)
	if e.Status != "" {
		msg = "unexpected status " + e.Status
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Permanent reports whether retrying the same request cannot help.
func (e *StatusError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

// Do sends req up to p.Attempts times and returns on the first 2xx response.
//
// On failure the returned error wraps ErrExhausted and the last attempt's
// error (a transport error or *StatusError). If the last attempt produced a
// response, it is returned alongside the error so callers can report the
// status. A permanent *StatusError stops the loop early without
// ErrExhausted.
func Do(ctx context.Context, d Doer, p Policy, req Request) (*Response, error) {
	if d == nil {
		d = http.DefaultClient
	}
	var last *Response
	err := Retry(ctx, p, req.Method()+" "+req.Target(), func(ctx context.Context) error {
		resp, err := once(ctx, d, req)
		last = resp
		return err
	})
	return last, err
}

// Retry calls fn up to p.Attempts times until it returns nil. Each call gets
// a context bounded by p.Timeout. The error semantics match Do: a permanent
// *StatusError anywhere in the chain ends the loop early, otherwise the
// final error wraps ErrExhausted and the last attempt's error.
func Retry(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := attemptOnce(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && se.Permanent() {
			return err
		}
		if attempt >= attempts {
			break
		}
		if delay := retryDelay(p, attempt); delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempts, lastErr)
}

func attemptOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func once(ctx context.Context, d Doer, req Request) (*Response, error) {
	hreq, err := req.newHTTPRequest(ctx)
	if err != nil {
		return nil, err
	}
	hresp, err := d.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	resp := &Response{StatusCode: hresp.StatusCode, Status: hresp.Status, Body: body}
	if !isSuccess(hresp.StatusCode) {
		return resp, &StatusError{StatusCode: hresp.StatusCode, Status: hresp.Status}
	}
	return resp, nil
}

func retryDelay(p Policy, attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > maxD {
		d = maxD
	}
	return d
}
