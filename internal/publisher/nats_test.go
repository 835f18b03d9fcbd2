package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"corridor-tracker/internal/fanout"
)

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"bengaluru-tumkur": "bengaluru-tumkur",
		" a b ":            "a_b",
		"x.y>z*":           "x_y_z_",
		"":                 "_",
		"route/7":          "route_7",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectToken(in), "input %q", in)
	}
}

func TestSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "tracker"}
	e := fanout.Event{CorridorKey: "city-a.city-b", TripID: "t1"}
	assert.Equal(t, "tracker.city-a_city-b.t1", p.Subject(e))
}
