// Package signal carries signaling envelopes over a websocket.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 64
)

type Options struct {
	URL        string
	Header     http.Header
	PingPeriod time.Duration
	ReadLimit  int64
	// SenderRate bounds envelopes per second accepted from one sender; zero disables it.
	SenderRate  float64
	SenderBurst int
	Dialer      *websocket.Dialer
	Metrics     *metrics.Metrics
	Logger      *zerolog.Logger
}

// Client is a core.SignalChannel over one websocket connection.
// Envelopes are dispatched from the read pump, one at a time.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	limiter *senderLimiter

	mu     sync.Mutex
	link   *link
	subs   map[domain.RoomID][]subscription
	nextID int
	closed bool
}

type subscription struct {
	id int
	fn func(domain.Envelope)
}

// link is one live connection and its pumps.
type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func NewClient(opts Options) *Client {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := log.With().Str("module", "signal").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		opts:    opts,
		logger:  logger,
		limiter: newSenderLimiter(opts.SenderRate, opts.SenderBurst),
		subs:    make(map[domain.RoomID][]subscription),
	}
}

// Connect dials the signaling server. It may be called again after the
// connection drops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrChannelUnavailable
	}
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	l := &link{
		conn: conn,
		send: make(chan []byte, sendBacklog),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed || c.link != nil {
		c.mu.Unlock()
		_ = conn.Close()
		if c.closed {
			return core.ErrChannelUnavailable
		}
		return nil
	}
	c.link = l
	c.mu.Unlock()

	c.logger.Info().Str("url", c.opts.URL).Msg("connected")
	go c.writePump(l)
	go c.readPump(l)
	return nil
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Done is closed when the current connection ends. It returns nil when
// there is no connection.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	return c.link.done
}

func (c *Client) Send(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return core.ErrChannelUnavailable
	}

	select {
	case <-l.done:
		return core.ErrChannelUnavailable
	default:
	}
	select {
	case l.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send backlog full", core.ErrChannelUnavailable)
	}
}

func (c *Client) Subscribe(room domain.RoomID, fn func(domain.Envelope)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[room] = append(c.subs[room], subscription{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[room]
		for i, s := range list {
			if s.id == id {
				c.subs[room] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.subs[room]) == 0 {
			delete(c.subs, room)
		}
	}
}

// Close drops the connection for good.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l == nil {
		return
	}
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	l.close()
}

func (c *Client) dispatch(env domain.Envelope) {
	if env.Sender != "" && !c.limiter.Allow(env.Sender) {
		c.logger.Warn().
			Str("room", string(env.RoomID)).
			Str("sender", string(env.Sender)).
			Str("kind", string(env.Kind)).
			Msg("sender over rate, envelope dropped")
		c.opts.Metrics.SignalDropped(string(env.Kind))
		return
	}

	c.mu.Lock()
	subs := append([]subscription(nil), c.subs[env.RoomID]...)
	c.mu.Unlock()

	if len(subs) == 0 {
		c.logger.Debug().Str("room", string(env.RoomID)).Str("kind", string(env.Kind)).Msg("no subscriber")
		return
	}
	for _, s := range subs {
		s.fn(env)
	}
}

func (c *Client) drop(l *link) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	l.close()
}
