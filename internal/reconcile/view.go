// Package reconcile keeps a subscriber-side view of the vehicles on one
// corridor, fed by periodic snapshots and, when available, live events.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/fanout"
	"corridor-tracker/internal/geo"
)

type Vehicle struct {
	TripID     string             `json:"tripId"`
	VehicleRef string             `json:"vehicleRef"`
	Direction  corridor.Direction `json:"direction"`
	Location   *geo.Point         `json:"lastLocation"`
	Progress   *corridor.Progress `json:"progress"`
	ETA        *time.Time         `json:"eta"`
	EtaSeconds *int64             `json:"etaSeconds"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// View is safe for concurrent use by the poller and the pusher. A non-empty
// direction limits it to trips travelling that way.
type View struct {
	corridorKey string
	direction   corridor.Direction

	mu       sync.RWMutex
	vehicles map[string]Vehicle
}

func NewView(corridorKey string, direction corridor.Direction) *View {
	return &View{corridorKey: corridorKey, direction: direction, vehicles: make(map[string]Vehicle)}
}

// ReplaceSnapshot makes list the new baseline. Trips missing from list are
// dropped; an entry already updated more recently than its snapshot row is kept.
func (v *View) ReplaceSnapshot(list []Vehicle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := make(map[string]Vehicle, len(list))
	for _, s := range list {
		if cur, ok := v.vehicles[s.TripID]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
			next[s.TripID] = cur
			continue
		}
		next[s.TripID] = s
	}
	v.vehicles = next
}

// Apply merges a live event by trip id.
func (v *View) Apply(e fanout.Event) {
	if e.CorridorKey != "" && e.CorridorKey != v.corridorKey {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	switch e.Type {
	case fanout.EventTripEnd:
		delete(v.vehicles, e.TripID)
	case fanout.EventLocation, fanout.EventTripStart:
		if v.direction != "" && e.Direction != "" && e.Direction != v.direction {
			return
		}
		cur := v.vehicles[e.TripID]
		cur.TripID = e.TripID
		if e.VehicleRef != "" {
			cur.VehicleRef = e.VehicleRef
		}
		if e.Direction != "" {
			cur.Direction = e.Direction
		}
		if e.Location != nil {
			cur.Location = e.Location
		}
		if e.Progress != nil {
			cur.Progress = e.Progress
		}
		if e.ETA != nil {
			cur.ETA, cur.EtaSeconds = e.ETA, e.EtaSeconds
		}
		if !e.UpdatedAt.IsZero() {
			cur.UpdatedAt = e.UpdatedAt
		}
		v.vehicles[e.TripID] = cur
	}
}

// List returns the vehicles furthest along first.
func (v *View) List() []Vehicle {
	v.mu.RLock()
	out := make([]Vehicle, 0, len(v.vehicles))
	for _, x := range v.vehicles {
		out = append(out, x)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		pi, pj := meters(out[i]), meters(out[j])
		if pi != pj {
			return pi > pj
		}
		return out[i].TripID < out[j].TripID
	})
	return out
}

func (v *View) Get(tripID string) (Vehicle, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	x, ok := v.vehicles[tripID]
	return x, ok
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vehicles)
}

func meters(v Vehicle) float64 {
	if v.Progress == nil {
		return -1
	}
	return v.Progress.Meters
}
