package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate limited")

// Interval is the poll cadence: base after a success, doubled after each
// failure up to max, without jitter.
type Interval struct {
	b   *backoff.ExponentialBackOff
	cur time.Duration
}

func NewInterval(base, max time.Duration) *Interval {
	if max < base {
		max = base
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	i := &Interval{b: b}
	i.Success()
	return i
}

func (i *Interval) Current() time.Duration { return i.cur }

// Success resets to base. The first NextBackOff after Reset yields base and
// leaves the doubled value for the next failure.
func (i *Interval) Success() time.Duration {
	i.b.Reset()
	i.cur = i.b.NextBackOff()
	return i.cur
}

func (i *Interval) Failure() time.Duration {
	i.cur = i.b.NextBackOff()
	return i.cur
}

// Poller fetches the active list for a corridor on a fixed cadence that backs
// off on rate limiting, server errors and transport failures.
type Poller struct {
	client    *http.Client
	endpoint  string
	view      *View
	interval  *Interval
	logger    *zap.Logger
	wait      func(ctx context.Context, d time.Duration) error
	onSuccess func()
}

func NewPoller(client *http.Client, baseURL, corridorKey, direction string, view *View, interval *Interval, logger *zap.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := fmt.Sprintf("%s/corridor/%s/active", baseURL, url.PathEscape(corridorKey))
	if direction != "" {
		endpoint += "?direction=" + url.QueryEscape(direction)
	}
	return &Poller{
		client:   client,
		endpoint: endpoint,
		view:     view,
		interval: interval,
		logger:   logger,
		wait:     sleep,
	}
}

// OnSnapshot registers fn to run after every successful poll.
func (p *Poller) OnSnapshot(fn func()) { p.onSuccess = fn }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type activeEnvelope struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Data    []Vehicle `json:"data"`
}

// PollOnce fetches one snapshot into the view.
func (p *Poller) PollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}
	var env activeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("poll: decode: %w", err)
	}
	p.view.ReplaceSnapshot(env.Data)
	return nil
}

// Run polls until ctx is done, taking the first snapshot immediately. Failures
// are logged and only affect the cadence.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			next := p.interval.Failure()
			p.logger.Warn("snapshot poll failed", zap.Error(err), zap.Duration("next", next))
		} else {
			p.interval.Success()
			if p.onSuccess != nil {
				p.onSuccess()
			}
		}
		if err := p.wait(ctx, p.interval.Current()); err != nil {
			return nil
		}
	}
}
