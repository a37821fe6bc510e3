package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const defaultTLSPort = "443"

// TLSChecker dials host and lets the TLS handshake verify the chain, the
// hostname and the validity window.
type TLSChecker struct {
	Timeout time.Duration
	// ExpiryWindow fails certificates that expire within this window.
	ExpiryWindow time.Duration
	// RootCAs overrides the system pool.
	RootCAs *x509.CertPool
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c TLSChecker) Check(ctx context.Context, host string) error {
	addr, serverName, err := splitTarget(host)
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	d := tls.Dialer{Config: &tls.Config{ServerName: serverName, RootCAs: c.RootCAs, MinVersion: tls.VersionTLS12}}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	tc, ok := conn.(*tls.Conn)
	if !ok {
		return errors.New("not a tls connection")
	}
	certs := tc.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return errors.New("no peer certificate")
	}
	leaf := certs[0]

	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("certificate not valid before %s", leaf.NotBefore.UTC().Format(time.RFC3339))
	}
	if !now.Add(c.ExpiryWindow).Before(leaf.NotAfter) {
		return fmt.Errorf("certificate expires %s", leaf.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// splitTarget accepts "host", "host:port" or a URL and returns the dial
// address and the name to verify.
func splitTarget(target string) (addr, serverName string, err error) {
	t := strings.TrimSpace(target)
	if i := strings.Index(t, "://"); i >= 0 {
		t = t[i+3:]
	}
	if i := strings.IndexByte(t, '/'); i >= 0 {
		t = t[:i]
	}
	if t == "" {
		return "", "", errors.New("empty host")
	}
	h, p, splitErr := net.SplitHostPort(t)
	if splitErr != nil {
		h, p = strings.Trim(t, "[]"), defaultTLSPort
	}
	return net.JoinHostPort(h, p), h, nil
}
