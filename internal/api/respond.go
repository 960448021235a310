package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeAndValidate reads a JSON body into dst and runs the struct tags.
// It writes the 400 itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, "validation_failed", fe.Field()+" failed "+fe.Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rce *schedule.RecurrenceConflictError
	if errors.As(err, &rce) {
		occ := rce.Occurrence
		resp := ErrorResponse{
			Error:           "recurrence_conflict",
			Details:         err.Error(),
			Message:         rce.Cause.Message(),
			OccurrenceIndex: rce.Index,
			Occurrence:      &occ,
		}
		if rce.Cause.Reason == schedule.ReasonSlotOccupied {
			id := rce.Cause.ConflictID
			resp.ConflictKind = string(rce.Cause.ConflictKind)
			resp.ConflictID = &id
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	var ce *schedule.ConflictError
	if errors.As(err, &ce) {
		resp := ErrorResponse{
			Error:   "scheduling_conflict",
			Details: err.Error(),
			Message: ce.Message(),
		}
		if ce.Reason == schedule.ReasonSlotOccupied {
			id := ce.ConflictID
			resp.ConflictKind = string(ce.ConflictKind)
			resp.ConflictID = &id
		} else {
			resp.Error = "non_working_time"
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, waitlist.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", err.Error())

	case errors.Is(err, schedule.ErrInvalidAppointment),
		errors.Is(err, schedule.ErrInvalidConfig),
		errors.Is(err, schedule.ErrUnknownFrequency),
		errors.Is(err, schedule.ErrInvalidCount),
		errors.Is(err, waitlist.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, schedule.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, waitlist.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_waitlist_transition", err.Error())
	case errors.Is(err, appointment.ErrAppointmentChanged),
		errors.Is(err, waitlist.ErrStaleEntry):
		writeError(w, http.StatusConflict, "concurrent_update", "the record changed, reload and retry")
	case errors.Is(err, appointment.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", "calendar is currently being modified, please retry shortly")

	case errors.Is(err, appointment.ErrNotificationFailed):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("notification failed")
		writeError(w, http.StatusBadGateway, "notification_failed", "the patient could not be notified")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
