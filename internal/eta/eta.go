// Package eta turns remaining corridor distance into an arrival estimate.
package eta

import (
	"math"
	"time"
)

const (
	DefaultSpeedKmph = 45.0
	LowSpeedKmph     = 5.0
)

// Estimate is the outcome of a successful estimation.
type Estimate struct {
	Seconds     int64
	ArrivalTime time.Time
	// SpeedKmph is the speed actually used, after substitution.
	SpeedKmph float64
}

// Estimator substitutes a default average speed whenever the reported speed is
// missing or at or below LowSpeedKmph, which in practice means a stopped
// vehicle or GPS noise rather than real crawling.
type Estimator struct {
	DefaultSpeedKmph float64
	LowSpeedKmph     float64
	Now              func() time.Time
}

func New(defaultSpeedKmph, lowSpeedKmph float64) *Estimator {
	return &Estimator{DefaultSpeedKmph: defaultSpeedKmph, LowSpeedKmph: lowSpeedKmph, Now: time.Now}
}

// Estimate returns false only if no usable speed exists at all. classDefault
// overrides the estimator default when positive.
func (e *Estimator) Estimate(remaining, length float64, speedKmph *float64, classDefault float64) (Estimate, bool) {
	speed := e.effectiveSpeed(speedKmph, classDefault)
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return Estimate{}, false
	}
	if length > 0 && remaining > length {
		remaining = length
	}
	secs := int64(0)
	if remaining > 0 {
		mps := speed * 1000 / 3600
		secs = int64(math.Round(remaining / mps))
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return Estimate{
		Seconds:     secs,
		ArrivalTime: now().Add(time.Duration(secs) * time.Second),
		SpeedKmph:   speed,
	}, true
}

func (e *Estimator) effectiveSpeed(reported *float64, classDefault float64) float64 {
	if reported != nil && *reported > e.LowSpeedKmph && !math.IsInf(*reported, 0) {
		return *reported
	}
	if classDefault > 0 {
		return classDefault
	}
	return e.DefaultSpeedKmph
}
