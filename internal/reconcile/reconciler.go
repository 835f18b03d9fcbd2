package reconcile

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"corridor-tracker/internal/corridor"
)

type Options struct {
	BaseURL     string
	CorridorKey string
	Direction   string
	PollBase    time.Duration
	PollMax     time.Duration
	PushMaxWait time.Duration
	// DisablePush leaves the view on polling alone.
	DisablePush bool
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Reconciler runs the poller and the pusher independently against one view.
type Reconciler struct {
	View   *View
	Poller *Poller
	Pusher *Pusher
}

func New(opts Options) (*Reconciler, error) {
	var dir corridor.Direction
	if opts.Direction != "" {
		d, err := corridor.ParseDirection(opts.Direction)
		if err != nil {
			return nil, err
		}
		dir = d
	}
	view := NewView(opts.CorridorKey, dir)
	r := &Reconciler{
		View:   view,
		Poller: NewPoller(opts.HTTPClient, opts.BaseURL, opts.CorridorKey, opts.Direction, view, NewInterval(opts.PollBase, opts.PollMax), opts.Logger),
	}
	if !opts.DisablePush {
		p, err := NewPusher(opts.BaseURL, opts.CorridorKey, view, opts.PushMaxWait, opts.Logger)
		if err != nil {
			return nil, err
		}
		r.Pusher = p
	}
	return r, nil
}

// Run blocks until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Poller.Run(ctx) })
	if r.Pusher != nil {
		g.Go(func() error { return r.Pusher.Run(ctx) })
	}
	return g.Wait()
}
