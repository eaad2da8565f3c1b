// Package telegram sends relayed notifications through the Telegram Bot API.
//
// Unlike a chat bot, the relay holds no single bot identity: every dispatch
// message carries the token of the bot it was accepted for, so the client
// keeps one lightweight offline bot handle per token. Handles are created
// without the usual getMe probe; a bad token simply surfaces as a rejected
// send.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"botrelay/internal/relay"
	logx "botrelay/pkg/logx"
)

// ErrRejected marks provider-side rejections (bad chat, bad token, payload
// too large). Retrying the same message cannot succeed.
var ErrRejected = errors.New("provider rejected message")

// ErrUnreachable marks transport-level failures (timeouts, connection
// errors, provider 5xx, flood control). The same message may succeed later.
var ErrUnreachable = errors.New("provider unreachable")

type Config struct {
	// Timeout bounds one sendMessage round trip so a hung call never stalls a
	// delivery worker.
	Timeout time.Duration

	// APIURL overrides the Bot API endpoint; tests point it at a stub server.
	APIURL string
}

type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
		bots: map[string]*tele.Bot{},
	}
}

func (c *Client) bot(token string) (*tele.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     c.cfg.APIURL,
		Token:   token,
		Offline: true, // no getMe; the relay never polls updates
		Client:  c.http,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	c.bots[token] = b
	return b, nil
}

// Send performs exactly one sendMessage call. The returned error is either
// nil, ErrRejected-wrapped, or ErrUnreachable-wrapped; callers decide ack
// behavior from that classification alone.
//
// telebot's send path does not take a context; cancellation is bounded by the
// shared HTTP client timeout instead.
func (c *Client) Send(_ context.Context, token string, chatID int64, text string, mode relay.ParseMode) error {
	b, err := c.bot(token)
	if err != nil {
		return err
	}

	opts := &tele.SendOptions{ParseMode: parseMode(mode)}
	_, err = b.Send(tele.ChatID(chatID), text, opts)
	if err == nil {
		return nil
	}
	return classify(err)
}

func parseMode(m relay.ParseMode) tele.ParseMode {
	switch m {
	case relay.ModeMarkdown:
		return tele.ModeMarkdown
	case relay.ModeHTML:
		return tele.ModeHTML
	default:
		return tele.ModeDefault
	}
}

func classify(err error) error {
	var flood *tele.FloodError
	if errors.As(err, &flood) {
		// 429 clears on its own; redelivery after the idle window is the retry.
		return fmt.Errorf("%w: flood control, retry after %ds", ErrUnreachable, flood.RetryAfter)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	// Anything else is transport: DNS, refused connection, client timeout.
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
