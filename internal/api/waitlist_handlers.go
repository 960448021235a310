package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

func optionalClock(s *string) (*schedule.TimeOfDay, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := schedule.ParseTimeOfDay(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toWaitlistEntry(w http.ResponseWriter, req AddWaitlistRequest) (waitlist.Entry, bool) {
	bad := func(code, msg string) (waitlist.Entry, bool) {
		writeError(w, http.StatusBadRequest, code, msg)
		return waitlist.Entry{}, false
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return bad("invalid_patient_id", "patient_id must be a valid UUID")
	}
	clinicID, err := optionalUUID(req.ClinicID)
	if err != nil {
		return bad("invalid_clinic_id", "clinic_id must be a valid UUID")
	}
	date, err := time.Parse(time.DateOnly, req.DesiredDate)
	if err != nil {
		return bad("invalid_desired_date", "desired_date must be YYYY-MM-DD")
	}
	desired, err := optionalClock(req.DesiredTime)
	if err != nil {
		return bad("invalid_desired_time", err.Error())
	}
	from, err := optionalClock(req.TimeRangeStart)
	if err != nil {
		return bad("invalid_time_range_start", err.Error())
	}
	to, err := optionalClock(req.TimeRangeEnd)
	if err != nil {
		return bad("invalid_time_range_end", err.Error())
	}

	return waitlist.Entry{
		PatientID:      patientID,
		ClinicID:       clinicID,
		DesiredDate:    date,
		DesiredTime:    desired,
		TimeRangeStart: from,
		TimeRangeEnd:   to,
		Service:        req.Service,
	}, true
}

func addWaitlistHandler(svc *appointment.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddWaitlistRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}
		entry, ok := toWaitlistEntry(w, req)
		if !ok {
			return
		}

		created, err := svc.AddToWaitlist(r.Context(), entry)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWaitlistResponse(*created))
	}
}

func listWaitlistHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f waitlist.Filter
		var ok bool

		for _, s := range r.URL.Query()["status"] {
			st := waitlist.Status(s)
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+s)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
		if f.PatientID, ok = queryUUID(w, r, "patient_id"); !ok {
			return
		}
		date, ok := queryDate(w, r, "date", false)
		if !ok {
			return
		}
		if !date.IsZero() {
			f.DesiredDate = &date
		}
		if f.Limit, ok = queryInt(w, r, "limit"); !ok {
			return
		}
		if f.Offset, ok = queryInt(w, r, "offset"); !ok {
			return
		}

		entries, err := svc.ListWaitlist(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		out := make([]WaitlistEntryResponse, len(entries))
		for i, e := range entries {
			out[i] = toWaitlistResponse(e)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// waitlistActionHandler runs one state transition on the entry in the path.
func waitlistActionHandler(action func(r *http.Request, id uuid.UUID) (*waitlist.Entry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		entry, err := action(r, id)
		if err != nil && (entry == nil || !errors.Is(err, appointment.ErrNotificationFailed)) {
			writeServiceError(w, r, err)
			return
		}

		resp := toWaitlistResponse(*entry)
		if err != nil {
			resp.NotificationError = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
