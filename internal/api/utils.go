package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/trip"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// respondTripError maps domain errors onto status codes. Unknown errors are
// logged and reported without detail.
func (s *Server) respondTripError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trip.ErrMalformed):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound), errors.Is(err, corridor.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrRegression):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes and validates a JSON request body into dst.
func (s *Server) decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16)).Decode(dst); err != nil {
		return err
	}
	return s.validate.Struct(dst)
}
