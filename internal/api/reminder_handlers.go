package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/go-chi/chi/v5"
)

// listRemindersHandler handles GET /reminders
func (s *Server) listRemindersHandler(w http.ResponseWriter, r *http.Request) {
	if s.Reminders == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Reminders are not configured"))
		return
	}
	reminders, err := s.Reminders.ListReminders(r.Context())
	if err != nil {
		slog.Error("Server.listRemindersHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch reminders"))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"reminders": reminders})
}

// createReminderHandler handles POST /reminders
func (s *Server) createReminderHandler(w http.ResponseWriter, r *http.Request) {
	if s.Reminders == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Reminders are not configured"))
		return
	}
	var in models.MedicationReminder
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		slog.Warn("Server.createReminderHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	created, err := s.Reminders.AddReminder(r.Context(), in)
	switch {
	case errors.Is(err, store.ErrInvalidReminder), errors.Is(err, store.ErrInvalidPhone):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	case err != nil:
		slog.Error("Server.createReminderHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create reminder"))
		return
	}
	slog.Info("Server.createReminderHandler: reminder created", "id", created.ID, "recurrence", created.Recurrence)
	writeJSONResponse(w, http.StatusCreated, map[string]interface{}{"reminder": created})
}

// deleteReminderHandler handles DELETE /reminders/{id}
func (s *Server) deleteReminderHandler(w http.ResponseWriter, r *http.Request) {
	if s.Reminders == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Reminders are not configured"))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid reminder id"))
		return
	}
	err = s.Reminders.DeleteReminder(r.Context(), id)
	if errors.Is(err, store.ErrReminderNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Reminder not found"))
		return
	}
	if err != nil {
		slog.Error("Server.deleteReminderHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete reminder"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
