package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/db"
	"corridor-tracker/internal/geo"
)

var (
	ingestKey   string
	ingestName  string
	ingestSpeed float64
	ingestOut   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <route.json>",
	Short: "Build a corridor from a raw route and store it",
	Long: `ingest reads a route file of the form {"route":[{"lat":..,"lng":..},...]},
computes cumulative distances and a simplified display line, and writes the
corridor to Postgres (DATABASE_URL) or, with --out, to a YAML corridor file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		pts, err := readRoute(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		c, err := corridor.New(ingestKey, ingestName, pts, nil, nil)
		if err != nil {
			return err
		}
		c.DefaultSpeedKmph = ingestSpeed

		switch {
		case ingestOut != "":
			if err := corridor.WriteFile(ingestOut, c); err != nil {
				return err
			}
		case cfg.DatabaseURL != "":
			sqlDB, err := openDatabase(cmd.Context(), cfg.DatabaseURL, "")
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			if err := db.UpsertCorridor(cmd.Context(), sqlDB, c); err != nil {
				return err
			}
		default:
			return errors.New("nowhere to write: set DATABASE_URL or pass --out")
		}

		logger.Info("corridor stored",
			zap.String("key", c.Key),
			zap.Float64("length_meters", c.LengthMeters),
			zap.Int("source_points", len(c.Geometry)),
			zap.Int("simplified_points", len(c.Simplified)),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestKey, "key", "k", "", "corridor key")
	ingestCmd.Flags().StringVarP(&ingestName, "name", "n", "", "display name")
	ingestCmd.Flags().Float64Var(&ingestSpeed, "default-speed", 0, "corridor average speed in km/h (0 uses the service default)")
	ingestCmd.Flags().StringVarP(&ingestOut, "out", "o", "", "write a YAML corridor file instead of the database")
	_ = ingestCmd.MarkFlagRequired("key")
}

type routeFile struct {
	Route []struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"route"`
}

// readRoute decodes a route file into points in GeoJSON order.
func readRoute(r io.Reader) ([]geo.Point, error) {
	var rf routeFile
	if err := json.NewDecoder(r).Decode(&rf); err != nil {
		return nil, fmt.Errorf("decode route: %w", err)
	}
	if len(rf.Route) < 2 {
		return nil, fmt.Errorf("%w: route needs at least 2 points, got %d", corridor.ErrMalformed, len(rf.Route))
	}
	pts := make([]geo.Point, 0, len(rf.Route))
	for i, p := range rf.Route {
		if p.Lat == nil || p.Lng == nil {
			return nil, fmt.Errorf("%w: point %d is missing lat or lng", corridor.ErrMalformed, i)
		}
		pts = append(pts, geo.Point{Lon: *p.Lng, Lat: *p.Lat})
	}
	return pts, nil
}
