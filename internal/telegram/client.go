// Package telegram is the Bot API client used by the monitor: it long-polls
// for commands, sends messages with bounded retry and keeps a small pending
// queue for sends that exhausted their retry budget.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"svcmon/internal/eventbus"
	"svcmon/internal/httpx"
	logx "svcmon/pkg/logx"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	pageSize      = 100
	defaultAPIURL = "https://api.telegram.org"
)

var (
	ErrNoToken   = errors.New("telegram: bot token is required")
	ErrNoTargets = errors.New("telegram: no target chats")
)

type Config struct {
	Token     string
	APIURL    string
	Groups    []int64
	ParseMode string

	Retry httpx.Policy

	// MaxPending caps the pending queue; the oldest entry is dropped first.
	// 0 means unbounded.
	MaxPending int
	// MaxRedeliveries is how many drain cycles a pending send survives.
	// 0 means it is re-queued forever.
	MaxRedeliveries int
	// RatePerSec paces outbound sendMessage calls. 0 disables pacing.
	RatePerSec float64
}

type Option func(*Client)

func WithEventBus(b eventbus.Bus) Option {
	return func(c *Client) {
		if b != nil {
			c.bus = b
		}
	}
}

type pending struct {
	chatID       int64
	text         string
	redeliveries int
}

type Client struct {
	cfg     Config
	bot     *tele.Bot
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	mu      sync.Mutex
	offset  int
	pending []pending
}

// New builds an offline *tele.Bot pointed at cfg.APIURL; no request is made
// until the first call. doer, when set, carries every Bot API request.
func New(cfg Config, doer httpx.Doer, log logx.Logger, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrNoToken
	}
	cfg.Token = token
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	timeout := cfg.Retry.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:       apiURL,
		Token:     token,
		ParseMode: cfg.ParseMode,
		Client:    &http.Client{Timeout: timeout, Transport: statusTransport{next: transportFor(doer)}},
		Offline:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	c := &Client{
		cfg: cfg,
		bot: bot,
		log: log,
		bus: eventbus.Nop(),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Offset returns the next getUpdates offset.
func (c *Client) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Pending returns the number of queued sends.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FetchNewUpdates pages through getUpdates starting at the stored offset
// until an empty page. The offset advances after every non-empty page, which
// acknowledges those updates to Telegram.
//
// Updates fetched before a failing page are returned together with the error.
func (c *Client) FetchNewUpdates(ctx context.Context) ([]Update, error) {
	var out []Update
	for {
		offset := c.Offset()
		page, err := c.getUpdates(ctx, offset)
		if err != nil {
			return out, err
		}
		if len(page) == 0 {
			return out, nil
		}

		next := offset
		for _, u := range page {
			// Already acknowledged; Telegram should not send these again.
			if u.ID < offset {
				continue
			}
			if u.ID+1 > next {
				next = u.ID + 1
			}
			out = append(out, fromTele(u))
		}
		if next == offset {
			c.log.Warn("getUpdates returned only stale updates; stopping this cycle", logx.Int("offset", offset), logx.Int("count", len(page)))
			return out, nil
		}
		c.mu.Lock()
		c.offset = next
		c.mu.Unlock()
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int) ([]tele.Update, error) {
	params := map[string]any{
		"offset":          offset,
		"limit":           pageSize,
		"allowed_updates": []string{"message"},
	}
	data, err := call(ctx, c, "getUpdates", func() ([]byte, error) {
		return c.bot.Raw("getUpdates", params)
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("getUpdates: decode: %w", err)
	}
	return resp.Result, nil
}

// Send delivers text to every chat in chatIDs, or to the configured groups
// when chatIDs is empty. The text goes out verbatim; callers escape it.
//
// A send that exhausts its retry budget is queued for DrainPending. The
// returned error joins every per-chat failure.
func (c *Client) Send(ctx context.Context, text string, chatIDs []int64) error {
	targets := chatIDs
	if len(targets) == 0 {
		targets = c.cfg.Groups
	}
	if len(targets) == 0 {
		return ErrNoTargets
	}

	var errs []error
	for _, id := range targets {
		if err := c.send(ctx, id, text); err != nil {
			if errors.Is(err, httpx.ErrExhausted) {
				c.enqueue(pending{chatID: id, text: text})
			}
			errs = append(errs, fmt.Errorf("send to %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) send(ctx context.Context, chatID int64, text string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	opts := &tele.SendOptions{ParseMode: c.cfg.ParseMode}
	_, err := call(ctx, c, "sendMessage", func() (*tele.Message, error) {
		return c.bot.Send(tele.ChatID(chatID), text, opts)
	})
	return err
}

func (c *Client) enqueue(p pending) {
	c.mu.Lock()
	c.pending = append(c.pending, p)
	dropped := c.trimLocked()
	size := len(c.pending)
	c.mu.Unlock()

	c.log.Warn("send queued for redelivery", logx.Int64("chat_id", p.chatID), logx.Int("pending", size))
	c.publish(eventbus.TypePendingQueued, p)
	c.reportDropped(dropped)
}

// trimLocked cuts the queue down to MaxPending, oldest first, and returns
// what it removed. c.mu must be held.
func (c *Client) trimLocked() []pending {
	limit := c.cfg.MaxPending
	if limit <= 0 || len(c.pending) <= limit {
		return nil
	}
	n := len(c.pending) - limit
	dropped := append([]pending(nil), c.pending[:n]...)
	c.pending = append([]pending(nil), c.pending[n:]...)
	return dropped
}

func (c *Client) reportDropped(dropped []pending) {
	for _, d := range dropped {
		c.log.Warn("pending queue full; dropping oldest", logx.Int64("chat_id", d.chatID), logx.Int("max_pending", c.cfg.MaxPending))
		c.publish(eventbus.TypePendingDropped, d)
	}
}

// DrainPending retries every queued send once with a fresh retry budget.
// Items that fail again are re-queued until MaxRedeliveries is reached.
// It returns the number of sends delivered.
func (c *Client) DrainPending(ctx context.Context) int {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	var (
		delivered int
		again     []pending
	)
	for i, p := range batch {
		if ctx.Err() != nil {
			again = append(again, batch[i:]...)
			break
		}
		err := c.send(ctx, p.chatID, p.text)
		if err == nil {
			delivered++
			c.publish(eventbus.TypePendingDelivered, p)
			continue
		}
		if ctx.Err() != nil {
			again = append(again, batch[i:]...)
			break
		}
		p.redeliveries++
		var se *httpx.StatusError
		permanent := errors.As(err, &se) && se.Permanent()
		if permanent || (c.cfg.MaxRedeliveries > 0 && p.redeliveries >= c.cfg.MaxRedeliveries) {
			c.log.Error("dropping undeliverable message",
				logx.Int64("chat_id", p.chatID),
				logx.Int("redeliveries", p.redeliveries),
				logx.Err(err),
			)
			c.publish(eventbus.TypePendingDropped, p)
			continue
		}
		c.log.Warn("redelivery failed; re-queued", logx.Int64("chat_id", p.chatID), logx.Int("redeliveries", p.redeliveries), logx.Err(err))
		again = append(again, p)
	}
	c.requeue(again)
	return delivered
}

func (c *Client) requeue(items []pending) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	// Items queued by concurrent sends during the drain go after the retried ones.
	c.pending = append(append([]pending(nil), items...), c.pending...)
	dropped := c.trimLocked()
	c.mu.Unlock()
	c.reportDropped(dropped)
}

// SyncCommands publishes the bot command menu.
func (c *Client) SyncCommands(ctx context.Context, cmds []tele.Command) error {
	_, err := call(ctx, c, "setMyCommands", func() (struct{}, error) {
		return struct{}{}, c.bot.SetCommands(cmds)
	})
	return err
}

// GetCommands reads the bot command menu back.
func (c *Client) GetCommands(ctx context.Context) ([]tele.Command, error) {
	return call(ctx, c, "getMyCommands", func() ([]tele.Command, error) {
		return c.bot.Commands()
	})
}

func (c *Client) publish(typ string, p pending) {
	c.bus.Publish(eventbus.Event{
		Type:   typ,
		Source: "telegram",
		Attrs: map[string]any{
			"chat_id":      p.chatID,
			"redeliveries": p.redeliveries,
		},
	})
}

// redact keeps the bot token out of error strings; transport errors embed
// the request URL.
func (c *Client) redact(err error) error {
	if err == nil || !strings.Contains(err.Error(), c.cfg.Token) {
		return err
	}
	return &redactedError{err: err, token: c.cfg.Token}
}

type redactedError struct {
	err   error
	token string
}

func (e *redactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.token, "<token>")
}

func (e *redactedError) Unwrap() error { return e.err }
