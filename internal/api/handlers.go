package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"corridor-tracker/internal/auth"
	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/geo"
	"corridor-tracker/internal/trip"
)

// POST /trips/start
func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var req startTripRequest
	if err := s.decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.Lon == nil) != (req.Lat == nil) {
		respondError(w, http.StatusBadRequest, "lon and lat must be given together")
		return
	}
	if req.Direction == "" {
		req.Direction = string(corridor.Forward)
	}
	if req.CorridorKey == "" {
		req.CorridorKey = s.defaultCorridorKey
	}
	if req.CorridorKey == "" {
		respondError(w, http.StatusBadRequest, "corridorKey is required")
		return
	}

	sr := trip.StartRequest{
		VehicleRef:  claims.VehicleRef,
		CorridorKey: req.CorridorKey,
		Direction:   req.Direction,
	}
	if req.Lon != nil {
		sr.Location = &geo.Point{Lon: *req.Lon, Lat: *req.Lat}
	}
	t, err := s.trips.Start(r.Context(), sr)
	if err != nil {
		s.respondTripError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, startTripResponse{TripID: t.ID})
}

// POST /trips/{id}/location
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	id := mux.Vars(r)["id"]

	var req locationRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err := s.trips.UpdateLocation(r.Context(), id, claims.VehicleRef, trip.LocationUpdate{
		Location: geo.Point{Lon: *req.Lon, Lat: *req.Lat},
		Speed:    req.Speed,
		Heading:  req.Heading,
	})
	if err != nil {
		s.respondTripError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// POST /trips/{id}/end
func (s *Server) handleEndTrip(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	id := mux.Vars(r)["id"]
	if _, err := s.trips.End(r.Context(), id, claims.VehicleRef); err != nil {
		s.respondTripError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// GET /corridor/{key}/active?direction=
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var dir *corridor.Direction
	if v := r.URL.Query().Get("direction"); v != "" {
		d, err := corridor.ParseDirection(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		dir = &d
	}

	trips := s.trips.ListActive(key, dir)
	data := make([]activeTrip, 0, len(trips))
	for _, t := range trips {
		data = append(data, toActiveTrip(t))
	}
	respondJSON(w, http.StatusOK, activeResponse{Success: true, Count: len(data), Data: data})
}

// GET /corridor/{key}
func (s *Server) handleCorridor(w http.ResponseWriter, r *http.Request) {
	c, err := s.corridors.Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		s.respondTripError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, corridorResponse{
		Key:              c.Key,
		Name:             c.Name,
		LengthMeters:     c.LengthMeters,
		DefaultSpeedKmph: c.DefaultSpeedKmph,
		SimplifiedLine:   c.Simplified,
		Endpoints:        endpoints{Start: c.Start(), End: c.End()},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"corridors": len(s.corridors.Keys()),
	})
}
