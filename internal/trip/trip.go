// Package trip owns the set of active vehicle trips and turns raw location
// fixes into corridor progress and arrival estimates.
package trip

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/geo"
)

var (
	ErrNotFound   = errors.New("trip not found")
	ErrMalformed  = errors.New("malformed input")
	ErrRegression = errors.New("progress regression")
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type Trip struct {
	ID           string             `json:"tripId"`
	VehicleRef   string             `json:"vehicleRef"`
	CorridorKey  string             `json:"corridorKey"`
	Direction    corridor.Direction `json:"direction"`
	Status       Status             `json:"status"`
	LastLocation *geo.Point         `json:"lastLocation,omitempty"`
	LastSpeed    *float64           `json:"lastSpeed,omitempty"`
	LastHeading  *float64           `json:"lastHeading,omitempty"`
	Progress     *corridor.Progress `json:"progress,omitempty"`
	ETA          *time.Time         `json:"eta,omitempty"`
	EtaSeconds   *int64             `json:"etaSeconds,omitempty"`
	StartedAt    time.Time          `json:"startedAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

type StartRequest struct {
	VehicleRef  string
	CorridorKey string
	Direction   string
	// Location is optional. Without it the vehicle's last known fix is used.
	Location *geo.Point
}

type LocationUpdate struct {
	Location geo.Point
	Speed    *float64 // km/h
	Heading  *float64 // degrees
}

func (u LocationUpdate) Validate() error {
	if err := u.Location.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Speed != nil && (math.IsNaN(*u.Speed) || math.IsInf(*u.Speed, 0) || *u.Speed < 0) {
		return fmt.Errorf("%w: speed %v", ErrMalformed, *u.Speed)
	}
	if u.Heading != nil && (math.IsNaN(*u.Heading) || *u.Heading < 0 || *u.Heading > 360) {
		return fmt.Errorf("%w: heading %v", ErrMalformed, *u.Heading)
	}
	return nil
}

// Repository persists trip documents. Save is an upsert keyed by Trip.ID.
type Repository interface {
	Save(ctx context.Context, t Trip) error
	LoadActive(ctx context.Context) ([]Trip, error)
}

type RegressionPolicy string

const (
	// RegressionAccept applies fixes in receipt order even if progress moves backward.
	RegressionAccept RegressionPolicy = "accept"
	// RegressionHold stores the fix but keeps the previous progress.
	RegressionHold RegressionPolicy = "hold"
	// RegressionReject refuses the fix with ErrRegression.
	RegressionReject RegressionPolicy = "reject"
)

func ParseRegressionPolicy(s string) (RegressionPolicy, error) {
	switch p := RegressionPolicy(s); p {
	case RegressionAccept, RegressionHold, RegressionReject:
		return p, nil
	case "":
		return RegressionAccept, nil
	}
	return "", fmt.Errorf("unknown regression policy %q", s)
}

type Policy struct {
	FreshnessWindow time.Duration
	Regression      RegressionPolicy
	// MaxBackwardJumpMeters is the tolerated backward movement before the
	// regression policy applies.
	MaxBackwardJumpMeters float64
	// ProjectionWindowMeters bounds the segment search around the previous
	// progress. Zero scans the whole corridor on every fix.
	ProjectionWindowMeters float64
	StaleAfter             time.Duration
	EndedRetention         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FreshnessWindow:        5 * time.Minute,
		Regression:             RegressionAccept,
		MaxBackwardJumpMeters:  250,
		ProjectionWindowMeters: 0,
		StaleAfter:             30 * time.Minute,
		EndedRetention:         10 * time.Minute,
	}
}
