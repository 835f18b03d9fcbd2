package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corridor-tracker/internal/fanout"
	"corridor-tracker/internal/reconcile"
)

var (
	watchServer    string
	watchCorridor  string
	watchDirection string
	watchNoPush    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a corridor's vehicles from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if watchCorridor == "" {
			watchCorridor = cfg.DefaultCorridorKey
		}

		r, err := reconcile.New(reconcile.Options{
			BaseURL:     watchServer,
			CorridorKey: watchCorridor,
			Direction:   watchDirection,
			PollBase:    cfg.PollBase,
			PollMax:     cfg.PollMax,
			PushMaxWait: cfg.PushMaxWait,
			DisablePush: watchNoPush,
			Logger:      logger.Named("reconcile"),
		})
		if err != nil {
			return err
		}

		r.Poller.OnSnapshot(func() {
			for _, v := range r.View.List() {
				logger.Info("vehicle", vehicleFields(v)...)
			}
			logger.Debug("snapshot applied", zap.Int("vehicles", r.View.Len()))
		})
		if r.Pusher != nil {
			r.Pusher.OnEvent(func(e fanout.Event) {
				v, ok := r.View.Get(e.TripID)
				if !ok {
					logger.Info("trip left corridor", zap.String("trip_id", e.TripID), zap.String("event", string(e.Type)))
					return
				}
				logger.Info("live update", append(vehicleFields(v), zap.String("event", string(e.Type)))...)
			})
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return r.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchServer, "server", "s", "http://localhost:8080", "tracking server base URL")
	watchCmd.Flags().StringVarP(&watchCorridor, "corridor", "c", "", "corridor key (defaults to DEFAULT_CORRIDOR_KEY)")
	watchCmd.Flags().StringVar(&watchDirection, "direction", "", "only vehicles travelling forward or reverse")
	watchCmd.Flags().BoolVar(&watchNoPush, "poll-only", false, "do not open the realtime channel")
}

func vehicleFields(v reconcile.Vehicle) []zap.Field {
	fields := []zap.Field{
		zap.String("trip_id", v.TripID),
		zap.String("vehicle", v.VehicleRef),
		zap.String("direction", string(v.Direction)),
	}
	if v.Progress != nil {
		fields = append(fields, zap.Float64("meters", v.Progress.Meters), zap.Float64("percent", v.Progress.Percent))
	}
	if v.EtaSeconds != nil {
		fields = append(fields, zap.Int64("eta_seconds", *v.EtaSeconds))
	}
	return fields
}
