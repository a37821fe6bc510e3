// Package gateway exposes the inbound webhook other systems use to push
// alerts through the bot's notification channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"svcmon/internal/eventbus"
	"svcmon/internal/telegram"
	logx "svcmon/pkg/logx"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxBodyBytes    = 64 << 10
	requestIDHeader = "X-Request-ID"
)

// Sender forwards an alert to the default groups when chatIDs is empty.
type Sender interface {
	Send(ctx context.Context, text string, chatIDs []int64) error
}

type Config struct {
	Host  string
	Port  int
	Token string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) addr() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

type Server struct {
	cfg    Config
	sender Sender
	log    logx.Logger
	bus    eventbus.Bus

	mu        sync.Mutex
	addr      string
	ready     chan struct{}
	readyOnce sync.Once
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, sender: sender, log: log, bus: bus, ready: make(chan struct{})}
}

// Handler returns the routing table. Tests drive it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /notification", s.handleNotification)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or "" before Ready.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is canceled, then shuts down gracefully. A canceled
// ctx is a clean stop and returns nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("webhook listening", logx.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("webhook shutdown timed out; closing", logx.Err(err))
		_ = srv.Close()
	}
	<-errc
	s.log.Info("webhook stopped")
	return nil
}

type notification struct {
	Message string `json:"message"`
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)
	log := s.log.With(logx.String("request_id", reqID), logx.String("remote", r.RemoteAddr))

	if !ValidateBasic(s.cfg.Token, r.Header.Get("Authorization")) {
		log.Warn("webhook auth rejected")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var n notification
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&n); err != nil {
		log.Warn("webhook body rejected", logx.Err(err))
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(n.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	// The alert is accepted even if delivery fails; failed sends sit in the
	// client's pending queue.
	if err := s.sender.Send(context.WithoutCancel(r.Context()), telegram.EscapeMarkdown(n.Message), nil); err != nil {
		log.Warn("alert forward failed", logx.Err(err))
	}
	log.Info("alert forwarded", logx.Int("len", len(n.Message)))
	s.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeAlertForwarded,
		Source: "gateway",
		Attrs:  map[string]any{"request_id": reqID, "len": len(n.Message)},
	})
	w.WriteHeader(http.StatusAccepted)
}
