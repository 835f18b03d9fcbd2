package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"corridor-tracker/internal/api"
	"corridor-tracker/internal/auth"
	"corridor-tracker/internal/config"
	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/db"
	"corridor-tracker/internal/eta"
	"corridor-tracker/internal/fanout"
	"corridor-tracker/internal/metrics"
	"corridor-tracker/internal/publisher"
	"corridor-tracker/internal/trip"
)

var (
	serveAddr     string
	serveDatabase string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking API and realtime channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().StringVar(&serveDatabase, "database", "", "database name to use on the configured server")
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve the control plane")
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}

	mcol := metrics.NewCollector(cfg.Trip.FreshnessWindow, cfg.DefaultSpeedKmph)
	if cfg.MetricsAddr != "" {
		msrv := mcol.Serve(cfg.MetricsAddr, logger)
		defer shutdown(msrv.Shutdown)
	}

	var (
		source corridor.Source
		repo   trip.Repository
	)
	switch {
	case cfg.DatabaseURL != "":
		sqlDB, err := openDatabase(ctx, cfg.DatabaseURL, serveDatabase)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		source = db.NewCorridorSource(sqlDB)
		repo = db.NewTripStore(sqlDB)
		logger.Info("using postgres for corridors and trips")
	case cfg.CorridorFile != "":
		source = corridor.NewFileSource(cfg.CorridorFile)
		logger.Info("using corridor file, trips kept in memory", zap.String("path", cfg.CorridorFile))
	default:
		return errors.New("either DATABASE_URL or CORRIDOR_FILE must be set")
	}

	store := corridor.NewStore(source, logger.Named("corridor"))
	n, err := store.Preload(ctx)
	if err != nil {
		return err
	}
	logger.Info("corridors loaded", zap.Int("count", n))

	hub := fanout.NewHub(mcol.Hub())
	var pub fanout.Publisher = hub
	if cfg.NATSURL != "" {
		nats, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, mcol.Publisher(), logger.Named("nats"))
		if err != nil {
			return err
		}
		defer nats.Close()
		if _, err := nats.Relay(hub); err != nil {
			return err
		}
		pub = fanout.Multi{hub, nats}
	}

	estimator := eta.New(cfg.DefaultSpeedKmph, cfg.LowSpeedKmph)
	trips := trip.NewManager(store, estimator, repo, pub, cfg.Trip, mcol, logger.Named("trip"))
	restored, err := trips.Restore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		logger.Info("restored active trips", zap.Int("count", restored))
	}

	srv, err := api.NewServer(api.Options{
		Addr:               cfg.HTTPAddr,
		Trips:              trips,
		Corridors:          store,
		Hub:                hub,
		Issuer:             issuer,
		Metrics:            mcol,
		Logger:             logger.Named("api"),
		DefaultCorridorKey: cfg.DefaultCorridorKey,
		SubscriberBuffer:   cfg.SubscriberBuffer,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		trips.RunReaper(gctx, cfg.ReapInterval)
		return nil
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		reloadOnSignal(gctx, hup, store, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(srv.Shutdown)
		return nil
	})
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// reloadOnSignal swaps in a fresh read of every corridor each time sig fires.
// A failed reload keeps the corridors already loaded.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, store *corridor.Store, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if _, err := store.Reload(ctx); err != nil {
				logger.Error("corridor reload failed", zap.Error(err))
			}
		}
	}
}

// openDatabase connects, optionally switching to name on the same server, and
// makes sure the tables exist.
func openDatabase(ctx context.Context, dsn, name string) (*sql.DB, error) {
	if name != "" {
		var err error
		if dsn, err = db.WithDBName(dsn, name); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.EnsureSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = fn(ctx)
}
