package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"corridor-tracker/internal/auth"
	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/fanout"
	"corridor-tracker/internal/metrics"
	"corridor-tracker/internal/trip"
)

type Options struct {
	Addr      string
	Trips     *trip.Manager
	Corridors *corridor.Store
	Hub       *fanout.Hub
	Issuer    *auth.Issuer
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	// DefaultCorridorKey fills start requests that omit the corridor.
	DefaultCorridorKey string
	SubscriberBuffer   int
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	trips      *trip.Manager
	corridors  *corridor.Store
	hub        *fanout.Hub
	issuer     *auth.Issuer
	metrics    *metrics.Collector
	validate   *validator.Validate
	upgrader   websocket.Upgrader

	defaultCorridorKey string
	subscriberBuffer   int
}

func NewServer(opts Options) (*Server, error) {
	if opts.Trips == nil || opts.Corridors == nil || opts.Hub == nil {
		return nil, errors.New("api: trips, corridors and hub are required")
	}
	if opts.Issuer == nil {
		return nil, errors.New("api: token issuer is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	s := &Server{
		logger:             opts.Logger,
		trips:              opts.Trips,
		corridors:          opts.Corridors,
		hub:                opts.Hub,
		issuer:             opts.Issuer,
		metrics:            opts.Metrics,
		validate:           validator.New(validator.WithRequiredStructEnabled()),
		defaultCorridorKey: opts.DefaultCorridorKey,
		subscriberBuffer:   opts.SubscriberBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Start() error {
	s.logger.Info("starting api server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoveryMiddleware, s.loggingMiddleware)

	driver := s.issuer.Middleware(auth.RoleDriver)
	r.Handle("/trips/start", driver(http.HandlerFunc(s.handleStartTrip))).Methods(http.MethodPost)
	r.Handle("/trips/{id}/location", driver(http.HandlerFunc(s.handleLocation))).Methods(http.MethodPost)
	r.Handle("/trips/{id}/end", driver(http.HandlerFunc(s.handleEndTrip))).Methods(http.MethodPost)

	r.HandleFunc("/corridor/{key}/active", s.handleActive).Methods(http.MethodGet)
	r.HandleFunc("/corridor/{key}", s.handleCorridor).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})
	return r
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				s.logger.Error("panic serving request",
					zap.String("path", r.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()))
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
