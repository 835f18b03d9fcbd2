package fanout

import (
	"time"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/geo"
)

type EventType string

const (
	EventLocation  EventType = "location"
	EventTripStart EventType = "trip-start"
	EventTripEnd   EventType = "trip-end"
)

// Event is the wire shape pushed to subscribers.
type Event struct {
	Type        EventType          `json:"type"`
	TripID      string             `json:"tripId"`
	VehicleRef  string             `json:"vehicleRef,omitempty"`
	CorridorKey string             `json:"corridorKey,omitempty"`
	Direction   corridor.Direction `json:"direction,omitempty"`
	Location    *geo.Point         `json:"location,omitempty"`
	Speed       *float64           `json:"speed,omitempty"`
	Heading     *float64           `json:"heading,omitempty"`
	Progress    *corridor.Progress `json:"progress,omitempty"`
	ETA         *time.Time         `json:"eta,omitempty"`
	EtaSeconds  *int64             `json:"etaSeconds,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func TripTopic(id string) string       { return "trip:" + id }
func VehicleTopic(ref string) string  { return "vehicle:" + ref }
func CorridorTopic(key string) string { return "corridor:" + key }

// Topics returns every group interested in e.
func (e Event) Topics() []string {
	topics := []string{TripTopic(e.TripID)}
	if e.VehicleRef != "" {
		topics = append(topics, VehicleTopic(e.VehicleRef))
	}
	if e.CorridorKey != "" {
		topics = append(topics, CorridorTopic(e.CorridorKey))
	}
	return topics
}
