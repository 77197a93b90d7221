package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"mapsync/internal/domain"
	"mapsync/internal/overlay"
	"mapsync/internal/positions"
	"mapsync/internal/routestore"
	"mapsync/pkg/routing"
)

// Runner executes fn on the engine's foreground and waits for it
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// run executes fn on the foreground; false means the response is written
func run(w http.ResponseWriter, r *http.Request, runner Runner, fn func()) bool {
	if err := runner.Do(r.Context(), fn); err != nil {
		if errors.Is(err, overlay.ErrLoopClosed) {
			respondError(w, http.StatusServiceUnavailable, "engine stopped")
		} else {
			respondError(w, http.StatusServiceUnavailable, err.Error())
		}
		return false
	}
	return true
}

func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, positions.ErrOutOfRange):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, overlay.ErrNoPositionNearby):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, routestore.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnsupportedCharacteristics),
		errors.Is(err, routing.ErrUnknownMode):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathRow(r *http.Request) (int, error) {
	row, err := strconv.Atoi(r.PathValue("row"))
	if err != nil || row < 0 {
		return 0, fmt.Errorf("invalid row %q", r.PathValue("row"))
	}
	return row, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	return f, nil
}

func validateCoordinates(longitude, latitude *float64) error {
	if longitude != nil && (*longitude < -180 || *longitude > 180) {
		return fmt.Errorf("longitude %f out of range", *longitude)
	}
	if latitude != nil && (*latitude < -90 || *latitude > 90) {
		return fmt.Errorf("latitude %f out of range", *latitude)
	}
	return nil
}
