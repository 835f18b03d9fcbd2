package api

import (
	"time"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/geo"
	"corridor-tracker/internal/trip"
)

type startTripRequest struct {
	Direction   string   `json:"direction" validate:"omitempty,oneof=forward reverse"`
	CorridorKey string   `json:"corridorKey" validate:"omitempty,max=128"`
	Lon         *float64 `json:"lon" validate:"omitempty,longitude"`
	Lat         *float64 `json:"lat" validate:"omitempty,latitude"`
}

type startTripResponse struct {
	TripID string `json:"tripId"`
}

type locationRequest struct {
	Lon     *float64 `json:"lon" validate:"required,longitude"`
	Lat     *float64 `json:"lat" validate:"required,latitude"`
	Speed   *float64 `json:"speed" validate:"omitempty,gte=0"`
	Heading *float64 `json:"heading" validate:"omitempty,gte=0,lte=360"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type activeTrip struct {
	TripID       string             `json:"tripId"`
	VehicleRef   string             `json:"vehicleRef"`
	Direction    corridor.Direction `json:"direction"`
	LastLocation *geo.Point         `json:"lastLocation"`
	Progress     *corridor.Progress `json:"progress"`
	ETA          *time.Time         `json:"eta"`
	EtaSeconds   *int64             `json:"etaSeconds"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

type activeResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Data    []activeTrip `json:"data"`
}

func toActiveTrip(t trip.Trip) activeTrip {
	return activeTrip{
		TripID:       t.ID,
		VehicleRef:   t.VehicleRef,
		Direction:    t.Direction,
		LastLocation: t.LastLocation,
		Progress:     t.Progress,
		ETA:          t.ETA,
		EtaSeconds:   t.EtaSeconds,
		UpdatedAt:    t.UpdatedAt,
	}
}

type endpoints struct {
	Start geo.Point `json:"start"`
	End   geo.Point `json:"end"`
}

type corridorResponse struct {
	Key              string      `json:"key"`
	Name             string      `json:"name"`
	LengthMeters     float64     `json:"lengthMeters"`
	DefaultSpeedKmph float64     `json:"defaultSpeedKmph,omitempty"`
	SimplifiedLine   []geo.Point `json:"simplifiedLine"`
	Endpoints        endpoints   `json:"endpoints"`
}

// clientFrame is a subscription request on the realtime channel.
type clientFrame struct {
	Action string `json:"action" validate:"required,oneof=track-corridor track-trip track-vehicle stop-tracking"`
	ID     string `json:"id" validate:"required_unless=Action stop-tracking,max=128"`
}

type ackFrame struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
