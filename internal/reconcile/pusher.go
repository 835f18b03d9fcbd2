package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"corridor-tracker/internal/fanout"
)

// Pusher subscribes to a corridor over the realtime channel and merges live
// events into the view. It reconnects with capped exponential backoff.
type Pusher struct {
	dialer      *websocket.Dialer
	url         string
	corridorKey string
	view        *View
	logger      *zap.Logger
	initialWait time.Duration
	maxWait     time.Duration
	// readTimeout bounds silence on the connection; server pings and
	// events both extend it.
	readTimeout time.Duration
	onEvent     func(fanout.Event)
}

func NewPusher(baseURL, corridorKey string, view *View, maxWait time.Duration, logger *zap.Logger) (*Pusher, error) {
	u, err := wsURL(baseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		url:         u,
		corridorKey: corridorKey,
		view:        view,
		logger:      logger,
		initialWait: 500 * time.Millisecond,
		maxWait:     maxWait,
		readTimeout: 75 * time.Second,
	}, nil
}

// OnEvent registers fn to run after every applied live event.
func (p *Pusher) OnEvent(fn func(fanout.Event)) { p.onEvent = fn }

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Run keeps a subscription alive until ctx is done. It never returns an error:
// an unavailable channel only means the view relies on polling.
func (p *Pusher) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialWait
	b.MaxInterval = p.maxWait
	b.MaxElapsedTime = 0

	for {
		connected, err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		p.logger.Warn("realtime channel unavailable", zap.Error(err), zap.Duration("retry_in", wait))
		if err := sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// session runs one connection. connected reports whether the subscription
// was established before the failure.
func (p *Pusher) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(map[string]string{"action": "track-corridor", "id": p.corridorKey}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	p.logger.Info("realtime channel connected", zap.String("corridor", p.corridorKey))

	_ = conn.SetReadDeadline(time.Now().Add(p.readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		var e fanout.Event
		if err := json.Unmarshal(data, &e); err != nil {
			p.logger.Debug("ignoring frame", zap.Error(err))
			continue
		}
		switch e.Type {
		case fanout.EventLocation, fanout.EventTripStart, fanout.EventTripEnd:
			p.view.Apply(e)
			if p.onEvent != nil {
				p.onEvent(e)
			}
		}
	}
}
