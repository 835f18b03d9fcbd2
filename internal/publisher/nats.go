package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"corridor-tracker/internal/fanout"
)

const originHeader = "Origin"

// NATSPublisher mirrors trip events onto NATS so that every server replica can
// serve subscribers for trips reported to any other replica.
type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	origin      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *zap.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("corridor-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{
		nc:          nc,
		prefix:      subjectToken(prefix),
		origin:      uuid.NewString(),
		logSubjects: logSubjects,
		metrics:     m,
		logger:      logger,
	}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Subject is <prefix>.<corridor>.<trip>, so consumers can filter per corridor.
func (p *NATSPublisher) Subject(e fanout.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(e.CorridorKey), subjectToken(e.TripID))
}

func (p *NATSPublisher) Publish(_ context.Context, e fanout.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(e))
	msg.Header.Set(originHeader, p.origin)
	msg.Data = b
	if p.logSubjects {
		p.logger.Debug("nats publish", zap.String("subject", msg.Subject))
	}
	start := time.Now()
	err = p.nc.PublishMsg(msg)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Relay feeds events published by other replicas into the local hub. Events
// carrying this publisher's own origin are skipped because the local hub has
// already seen them.
func (p *NATSPublisher) Relay(local fanout.Publisher) (*nats.Subscription, error) {
	return p.nc.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		if msg.Header.Get(originHeader) == p.origin {
			return
		}
		var e fanout.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			p.logger.Warn("nats relay: bad event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		_ = local.Publish(context.Background(), e)
	})
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
