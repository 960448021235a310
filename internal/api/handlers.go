package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses a UUID that may be absent. Empty input gives nil.
func optionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryUUID(w http.ResponseWriter, r *http.Request, key string) (*uuid.UUID, bool) {
	v := r.URL.Query().Get(key)
	id, err := optionalUUID(&v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a valid UUID")
		return nil, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// queryDate parses YYYY-MM-DD. The result is a calendar date; the service
// places it in the clinic's zone.
func queryDate(w http.ResponseWriter, r *http.Request, key string, required bool) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		if required {
			writeError(w, http.StatusBadRequest, "missing_"+key, key+" is required (YYYY-MM-DD)")
			return time.Time{}, false
		}
		return time.Time{}, true
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func queryTime(w http.ResponseWriter, r *http.Request, key string) (*time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be RFC 3339")
		return nil, false
	}
	return &t, true
}

func toBookRequest(w http.ResponseWriter, req BookAppointmentRequest) (appointment.BookRequest, bool) {
	patientID, err := optionalUUID(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return appointment.BookRequest{}, false
	}
	clinicID, err := optionalUUID(req.ClinicID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
		return appointment.BookRequest{}, false
	}
	return appointment.BookRequest{
		PatientID:       patientID,
		ClinicID:        clinicID,
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Kind:            schedule.Kind(req.Kind),
		BlockReason:     req.BlockReason,
	}, true
}

func bookAppointmentHandler(svc *appointment.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}
		book, ok := toBookRequest(w, req)
		if !ok {
			return
		}

		appt, err := svc.Book(r.Context(), book)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func bookRecurringHandler(svc *appointment.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRecurringRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}
		book, ok := toBookRequest(w, req.BookAppointmentRequest)
		if !ok {
			return
		}
		freq, err := schedule.ParseFrequency(req.Frequency)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appts, err := svc.BookRecurring(r.Context(), appointment.RecurringRequest{
			BookRequest: book,
			Frequency:   freq,
			Count:       req.Count,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponses(appts))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f appointment.ListFilter
		var ok bool

		if f.From, ok = queryTime(w, r, "from"); !ok {
			return
		}
		if f.To, ok = queryTime(w, r, "to"); !ok {
			return
		}
		if f.PatientID, ok = queryUUID(w, r, "patient_id"); !ok {
			return
		}
		if f.ClinicID, ok = queryUUID(w, r, "clinic_id"); !ok {
			return
		}
		if f.SeriesID, ok = queryUUID(w, r, "series_id"); !ok {
			return
		}
		for _, s := range r.URL.Query()["status"] {
			st := schedule.Status(s)
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+s)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
		if f.Limit, ok = queryInt(w, r, "limit"); !ok {
			return
		}
		if f.Offset, ok = queryInt(w, r, "offset"); !ok {
			return
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if r.ContentLength > 0 && !decodeAndValidate(w, r, v, &req) {
			return
		}

		res, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil && (res == nil || !errors.Is(err, appointment.ErrNotificationFailed)) {
			writeServiceError(w, r, err)
			return
		}

		resp := CancelResponse{
			Appointment:   toAppointmentResponse(*res.Appointment),
			WaitlistOffer: res.Offered,
		}
		if err != nil {
			// The cancellation stands; only the waitlist message was lost.
			resp.NotificationError = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req RescheduleAppointmentRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.Start)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func slotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := queryDate(w, r, "date", true)
		if !ok {
			return
		}
		clinicID, ok := queryUUID(w, r, "clinic_id")
		if !ok {
			return
		}
		step, ok := queryInt(w, r, "step")
		if !ok {
			return
		}
		duration, ok := queryInt(w, r, "duration")
		if !ok {
			return
		}

		day, err := svc.AvailableSlots(r.Context(), date, clinicID, step, duration)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toDaySlotsResponse(day))
	}
}

func nextAvailableHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := queryTime(w, r, "from")
		if !ok {
			return
		}
		if from == nil {
			now := time.Now()
			from = &now
		}
		clinicID, ok := queryUUID(w, r, "clinic_id")
		if !ok {
			return
		}
		duration, ok := queryInt(w, r, "duration")
		if !ok {
			return
		}

		start, found, err := svc.NextAvailable(r.Context(), *from, clinicID, duration)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := NextAvailableResponse{Found: found}
		if found {
			resp.Start = &start
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func occupancyHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := queryDate(w, r, "from", true)
		if !ok {
			return
		}
		to, ok := queryDate(w, r, "to", true)
		if !ok {
			return
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "invalid_range", "to must not be before from")
			return
		}
		clinicID, ok := queryUUID(w, r, "clinic_id")
		if !ok {
			return
		}

		m, err := svc.Metrics(r.Context(), schedule.DateRange{From: from, To: to}, clinicID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, m)
	}
}
