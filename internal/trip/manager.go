package trip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/eta"
	"corridor-tracker/internal/fanout"
	"corridor-tracker/internal/geo"
	mmetrics "corridor-tracker/internal/metrics"
)

// entry serialises writers of one trip. Readers use the snapshot and never
// wait on a writer that is blocked in persistence.
type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Trip]
}

func (e *entry) load() Trip { return *e.snap.Load() }

type Manager struct {
	corridors *corridor.Store
	estimator *eta.Estimator
	repo      Repository
	pub       fanout.Publisher
	policy    Policy
	metrics   *mmetrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	trips    map[string]*entry
	vehicles map[string]string // vehicleRef -> active tripID
	lastTrip map[string]string // vehicleRef -> most recent tripID, any status
	active   int
}

// NewManager wires the trip manager. repo, pub and metrics may be nil.
func NewManager(store *corridor.Store, estimator *eta.Estimator, repo Repository, pub fanout.Publisher, policy Policy, metrics *mmetrics.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if estimator == nil {
		estimator = eta.New(eta.DefaultSpeedKmph, eta.LowSpeedKmph)
	}
	return &Manager{
		corridors: store,
		estimator: estimator,
		repo:      repo,
		pub:       pub,
		policy:    policy,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		trips:     make(map[string]*entry),
		vehicles:  make(map[string]string),
		lastTrip:  make(map[string]string),
	}
}

// SetClock replaces the manager's time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start begins a trip for req.VehicleRef, ending any trip the vehicle still has active.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Trip, error) {
	if req.VehicleRef == "" {
		return Trip{}, fmt.Errorf("%w: missing vehicle", ErrMalformed)
	}
	dir, err := corridor.ParseDirection(req.Direction)
	if err != nil {
		return Trip{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return Trip{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	c, err := m.corridors.Get(ctx, req.CorridorKey)
	if err != nil {
		if errors.Is(err, corridor.ErrNotFound) {
			return Trip{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return Trip{}, err
	}

	now := m.now()
	t := Trip{
		ID:          uuid.NewString(),
		VehicleRef:  req.VehicleRef,
		CorridorKey: c.Key,
		Direction:   dir,
		Status:      StatusActive,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	loc := req.Location
	if loc == nil {
		loc = m.lastKnownLocation(req.VehicleRef)
	}
	if loc != nil {
		p := *loc
		t.LastLocation = &p
		m.derive(&t, c, corridor.Project(p, c, dir), nil)
	}

	if err := m.save(ctx, t); err != nil {
		return Trip{}, err
	}

	// Held until trip-start is out, so a superseding Start cannot publish
	// this trip's end first.
	e := &entry{}
	e.snap.Store(&t)
	e.mu.Lock()
	defer e.mu.Unlock()
	m.mu.Lock()
	prev := m.vehicles[t.VehicleRef]
	m.trips[t.ID] = e
	m.vehicles[t.VehicleRef] = t.ID
	m.lastTrip[t.VehicleRef] = t.ID
	m.active++
	m.reportActiveLocked()
	m.mu.Unlock()

	if prev != "" {
		if _, err := m.end(ctx, prev, "", "superseded"); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("end superseded trip", zap.String("trip", prev), zap.Error(err))
		}
	}
	if m.metrics != nil {
		m.metrics.TripsStarted.Inc()
	}
	m.logger.Info("trip started",
		zap.String("trip", t.ID),
		zap.String("vehicle", t.VehicleRef),
		zap.String("corridor", t.CorridorKey),
		zap.String("direction", string(t.Direction)))
	m.publish(ctx, t, fanout.EventTripStart)
	return t, nil
}

// UpdateLocation applies a fix to an active trip. vehicleRef, when non-empty,
// must own the trip; a foreign trip is reported as not found.
func (m *Manager) UpdateLocation(ctx context.Context, id, vehicleRef string, u LocationUpdate) (Trip, error) {
	start := m.now()
	if err := u.Validate(); err != nil {
		m.reject("malformed")
		return Trip{}, err
	}
	e := m.lookup(id)
	if e == nil {
		m.reject("not_found")
		return Trip{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.load()
	if cur.Status != StatusActive || (vehicleRef != "" && vehicleRef != cur.VehicleRef) {
		m.reject("not_found")
		return Trip{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c, err := m.corridors.Get(ctx, cur.CorridorKey)
	if err != nil {
		return Trip{}, fmt.Errorf("trip %s: %w", id, err)
	}

	projStart := time.Now()
	var prog corridor.Progress
	if cur.Progress != nil && m.policy.ProjectionWindowMeters > 0 {
		prog = corridor.ProjectNear(u.Location, c, cur.Direction, cur.Progress.Meters, m.policy.ProjectionWindowMeters)
	} else {
		prog = corridor.Project(u.Location, c, cur.Direction)
	}
	if m.metrics != nil {
		m.metrics.ProjectionDuration.Observe(time.Since(projStart).Seconds())
	}

	if cur.Progress != nil && prog.Meters < cur.Progress.Meters-m.policy.MaxBackwardJumpMeters {
		switch m.policy.Regression {
		case RegressionReject:
			m.reject("regression")
			return Trip{}, fmt.Errorf("%w: %s: %.0fm -> %.0fm", ErrRegression, id, cur.Progress.Meters, prog.Meters)
		case RegressionHold:
			prog = *cur.Progress
			if m.metrics != nil {
				m.metrics.ProgressHeld.Inc()
			}
		}
	}

	next := cur
	loc := u.Location
	next.LastLocation = &loc
	if u.Speed != nil {
		s := *u.Speed
		next.LastSpeed = &s
	}
	switch {
	case u.Heading != nil:
		h := *u.Heading
		next.LastHeading = &h
	case cur.LastLocation != nil && *cur.LastLocation != loc:
		h := geo.Bearing(*cur.LastLocation, loc)
		next.LastHeading = &h
	}
	next.UpdatedAt = m.now()
	m.derive(&next, c, prog, next.LastSpeed)

	if err := m.save(ctx, next); err != nil {
		return Trip{}, err
	}
	e.snap.Store(&next)

	if m.metrics != nil {
		m.metrics.LocationUpdates.Inc()
	}
	m.publish(ctx, next, fanout.EventLocation)
	if m.metrics != nil {
		m.metrics.UpdateDuration.Observe(m.now().Sub(start).Seconds())
	}
	return next, nil
}

// End finishes an active trip. vehicleRef has the same meaning as in UpdateLocation.
func (m *Manager) End(ctx context.Context, id, vehicleRef string) (Trip, error) {
	return m.end(ctx, id, vehicleRef, "driver")
}

func (m *Manager) end(ctx context.Context, id, vehicleRef, reason string) (Trip, error) {
	e := m.lookup(id)
	if e == nil {
		return Trip{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.load()
	if cur.Status != StatusActive || (vehicleRef != "" && vehicleRef != cur.VehicleRef) {
		return Trip{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur
	next.Status = StatusEnded
	next.UpdatedAt = m.now()
	if err := m.save(ctx, next); err != nil {
		return Trip{}, err
	}
	e.snap.Store(&next)

	m.mu.Lock()
	if m.vehicles[next.VehicleRef] == id {
		delete(m.vehicles, next.VehicleRef)
	}
	m.active--
	m.reportActiveLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.TripsEnded.WithLabelValues(reason).Inc()
	}
	m.logger.Info("trip ended", zap.String("trip", id), zap.String("vehicle", next.VehicleRef), zap.String("reason", reason))
	m.publish(ctx, next, fanout.EventTripEnd)
	return next, nil
}

// Get returns the current state of a trip, active or ended.
func (m *Manager) Get(id string) (Trip, error) {
	e := m.lookup(id)
	if e == nil {
		return Trip{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.load(), nil
}

// ListActive returns fresh active trips on a corridor, furthest along first.
// A trip is fresh while its last update is within the freshness window.
func (m *Manager) ListActive(corridorKey string, dir *corridor.Direction) []Trip {
	now := m.now()
	m.mu.RLock()
	out := make([]Trip, 0)
	for id, e := range m.trips {
		t := e.load()
		if t.Status != StatusActive || t.CorridorKey != corridorKey {
			continue
		}
		if dir != nil && t.Direction != *dir {
			continue
		}
		if m.vehicles[t.VehicleRef] != id {
			continue
		}
		if m.policy.FreshnessWindow > 0 && now.Sub(t.UpdatedAt) > m.policy.FreshnessWindow {
			continue
		}
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := progressMeters(out[i]), progressMeters(out[j])
		if pi != pj {
			return pi > pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore loads active trips from the repository. When several active trips
// exist for one vehicle only the most recently updated stays active.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	trips, err := m.repo.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore trips: %w", err)
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].UpdatedAt.Before(trips[j].UpdatedAt) })

	var superseded []string
	restored := 0
	m.mu.Lock()
	for i := range trips {
		t := trips[i]
		if t.Status != StatusActive {
			continue
		}
		if _, exists := m.trips[t.ID]; exists {
			continue
		}
		e := &entry{}
		e.snap.Store(&t)
		m.trips[t.ID] = e
		if prev, ok := m.vehicles[t.VehicleRef]; ok {
			superseded = append(superseded, prev)
		}
		m.vehicles[t.VehicleRef] = t.ID
		m.lastTrip[t.VehicleRef] = t.ID
		m.active++
		restored++
	}
	m.reportActiveLocked()
	m.mu.Unlock()

	for _, id := range superseded {
		if _, err := m.end(ctx, id, "", "superseded"); err != nil {
			m.logger.Warn("end superseded trip on restore", zap.String("trip", id), zap.Error(err))
		}
	}
	n := restored - len(superseded)
	m.logger.Info("restored trips", zap.Int("active", n), zap.Int("superseded", len(superseded)))
	return n, nil
}

// Reap ends trips that stopped reporting for longer than StaleAfter and forgets
// ended trips older than EndedRetention.
func (m *Manager) Reap(ctx context.Context) (ended, evicted int) {
	now := m.now()
	var stale []string

	m.mu.Lock()
	for id, e := range m.trips {
		t := e.load()
		switch t.Status {
		case StatusActive:
			if m.policy.StaleAfter > 0 && now.Sub(t.UpdatedAt) > m.policy.StaleAfter {
				stale = append(stale, id)
			}
		case StatusEnded:
			if now.Sub(t.UpdatedAt) > m.policy.EndedRetention {
				delete(m.trips, id)
				if m.lastTrip[t.VehicleRef] == id {
					delete(m.lastTrip, t.VehicleRef)
				}
				evicted++
			}
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if _, err := m.end(ctx, id, "", "reaped"); err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.Warn("reap trip", zap.String("trip", id), zap.Error(err))
			}
			continue
		}
		ended++
	}
	if ended > 0 || evicted > 0 {
		m.logger.Info("reaped trips", zap.Int("ended", ended), zap.Int("evicted", evicted))
	}
	return ended, evicted
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trips[id]
}

func (m *Manager) lastKnownLocation(vehicleRef string) *geo.Point {
	m.mu.RLock()
	e := m.trips[m.lastTrip[vehicleRef]]
	m.mu.RUnlock()
	if e == nil {
		return nil
	}
	return e.load().LastLocation
}

// derive fills progress and ETA on t from a projection.
func (m *Manager) derive(t *Trip, c *corridor.Corridor, prog corridor.Progress, speed *float64) {
	t.Progress = &prog
	est, ok := m.estimator.Estimate(c.LengthMeters-prog.Meters, c.LengthMeters, speed, c.DefaultSpeedKmph)
	if !ok {
		t.ETA, t.EtaSeconds = nil, nil
		return
	}
	at, secs := est.ArrivalTime, est.Seconds
	t.ETA, t.EtaSeconds = &at, &secs
}

func (m *Manager) save(ctx context.Context, t Trip) error {
	if m.repo == nil {
		return nil
	}
	if err := m.repo.Save(ctx, t); err != nil {
		return fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, t Trip, typ fanout.EventType) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(ctx, EventFor(t, typ)); err != nil {
		if m.metrics != nil {
			m.metrics.FanoutErrors.Inc()
		}
		m.logger.Warn("publish trip event", zap.String("trip", t.ID), zap.String("type", string(typ)), zap.Error(err))
	}
}

func (m *Manager) reject(reason string) {
	if m.metrics != nil {
		m.metrics.UpdateRejects.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) reportActiveLocked() {
	if m.metrics != nil {
		m.metrics.ActiveTrips.Set(float64(m.active))
	}
}

// EventFor builds the fan-out event describing t.
func EventFor(t Trip, typ fanout.EventType) fanout.Event {
	return fanout.Event{
		Type:        typ,
		TripID:      t.ID,
		VehicleRef:  t.VehicleRef,
		CorridorKey: t.CorridorKey,
		Direction:   t.Direction,
		Location:    t.LastLocation,
		Speed:       t.LastSpeed,
		Heading:     t.LastHeading,
		Progress:    t.Progress,
		ETA:         t.ETA,
		EtaSeconds:  t.EtaSeconds,
		UpdatedAt:   t.UpdatedAt,
	}
}

func progressMeters(t Trip) float64 {
	if t.Progress == nil {
		return -1
	}
	return t.Progress.Meters
}
