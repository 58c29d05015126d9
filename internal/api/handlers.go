package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/go-chi/chi/v5"
)

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"Project": "MedBay", "Status": "Healthy"})
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createUserHandler handles POST /users
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		slog.Warn("Server.createUserHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if u.LanguagePreference != "" && !u.LanguagePreference.Valid() {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unsupported language preference"))
		return
	}
	created, err := s.Store.AddUser(r.Context(), u)
	switch {
	case errors.Is(err, store.ErrInvalidPhone), errors.Is(err, store.ErrUserExists):
		slog.Warn("Server.createUserHandler: rejected", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	case err != nil:
		slog.Error("Server.createUserHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create user"))
		return
	}
	slog.Info("Server.createUserHandler: user created", "id", created.ID)
	writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"message": "User created successfully",
		"user":    created,
	})
}

// getUserByPhoneHandler handles GET /users/phone/{phone}
func (s *Server) getUserByPhoneHandler(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	u, err := s.Store.GetUserByPhone(r.Context(), phone)
	if errors.Is(err, store.ErrUserNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("User not found"))
		return
	}
	if err != nil {
		slog.Error("Server.getUserByPhoneHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch user"))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"user": u})
}

// vaccinationSchedulesHandler handles GET /vaccination-schedules
func (s *Server) vaccinationSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.Store.ListVaccinationSchedules(r.Context())
	if err != nil {
		slog.Error("Server.vaccinationSchedulesHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch vaccination schedules"))
		return
	}
	slog.Debug("Server.vaccinationSchedulesHandler: schedules fetched", "count", len(schedules))
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"schedules": schedules})
}

type geocodeRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// reverseGeocodeHandler handles POST /api/reverse-geocode
func (s *Server) reverseGeocodeHandler(w http.ResponseWriter, r *http.Request) {
	var req geocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("latitude and longitude are required"))
		return
	}
	if s.Geocoder == nil {
		slog.Error("Server.reverseGeocodeHandler: geocoding not configured")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Geocoding service is not configured"))
		return
	}
	name, err := s.Geocoder.ReverseGeocode(r.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		slog.Error("Server.reverseGeocodeHandler: geocoding failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reverse geocode location"))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"displayName": name})
}
