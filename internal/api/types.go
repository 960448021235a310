package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type BookAppointmentRequest struct {
	PatientID       *string   `json:"patient_id" validate:"omitempty,uuid"`
	ClinicID        *string   `json:"clinic_id" validate:"omitempty,uuid"`
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=1,max=720"`
	Kind            string    `json:"kind" validate:"omitempty,oneof=session blocked personal"`
	BlockReason     *string   `json:"block_reason" validate:"omitempty,max=500"`
}

type BookRecurringRequest struct {
	BookAppointmentRequest
	Frequency string `json:"frequency" validate:"required,oneof=weekly biweekly monthly"`
	Count     int    `json:"count" validate:"required,min=1,max=52"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type RescheduleAppointmentRequest struct {
	Start time.Time `json:"start" validate:"required"`
}

type AddWaitlistRequest struct {
	PatientID      string  `json:"patient_id" validate:"required,uuid"`
	ClinicID       *string `json:"clinic_id" validate:"omitempty,uuid"`
	DesiredDate    string  `json:"desired_date" validate:"required,datetime=2006-01-02"`
	DesiredTime    *string `json:"desired_time" validate:"omitempty,datetime=15:04,excluded_with=TimeRangeStart TimeRangeEnd"`
	TimeRangeStart *string `json:"time_range_start" validate:"omitempty,datetime=15:04,required_with=TimeRangeEnd"`
	TimeRangeEnd   *string `json:"time_range_end" validate:"omitempty,datetime=15:04,required_with=TimeRangeStart"`
	Service        *string `json:"service" validate:"omitempty,max=200"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	ClinicID        *uuid.UUID `json:"clinic_id,omitempty"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	DurationMinutes int        `json:"duration_minutes"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	BlockReason     *string    `json:"block_reason,omitempty"`
	SeriesID        *uuid.UUID `json:"series_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a schedule.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ClinicID:        a.ClinicID,
		Start:           a.DateTime,
		End:             a.End(),
		DurationMinutes: a.DurationMinutes,
		Kind:            string(a.Kind),
		Status:          string(a.Status),
		BlockReason:     a.BlockReason,
		SeriesID:        a.SeriesID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []schedule.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(appts))
	for i, a := range appts {
		out[i] = toAppointmentResponse(a)
	}
	return out
}

type CancelResponse struct {
	Appointment       AppointmentResponse        `json:"appointment"`
	WaitlistOffer     *appointment.WaitlistOffer `json:"waitlist_offer,omitempty"`
	NotificationError string                     `json:"notification_error,omitempty"`
}

type SlotResponse struct {
	Start      time.Time `json:"start"`
	Available  bool      `json:"available"`
	Reason     string    `json:"reason,omitempty"`
	BreakLabel string    `json:"break_label,omitempty"`
}

type DaySlotsResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
	Free  []time.Time    `json:"free"`
}

func toDaySlotsResponse(d *appointment.DaySlots) DaySlotsResponse {
	resp := DaySlotsResponse{
		Date:  d.Date,
		Slots: make([]SlotResponse, len(d.Slots)),
		Free:  make([]time.Time, len(d.Free)),
	}
	for i, s := range d.Slots {
		resp.Slots[i] = SlotResponse{
			Start:      s.Start,
			Available:  s.Available,
			Reason:     string(s.Reason),
			BreakLabel: s.BreakLabel,
		}
	}
	for i, s := range d.Free {
		resp.Free[i] = s.Start
	}
	return resp
}

type NextAvailableResponse struct {
	Found bool       `json:"found"`
	Start *time.Time `json:"start,omitempty"`
}

type WaitlistEntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ClinicID       *uuid.UUID `json:"clinic_id,omitempty"`
	DesiredDate    string     `json:"desired_date"`
	DesiredTime    *string    `json:"desired_time,omitempty"`
	TimeRangeStart *string    `json:"time_range_start,omitempty"`
	TimeRangeEnd   *string    `json:"time_range_end,omitempty"`
	Service        *string    `json:"service,omitempty"`
	Status         string     `json:"status"`
	OfferedStart   *time.Time `json:"offered_start,omitempty"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	NotificationError string `json:"notification_error,omitempty"`
}

func clockString(t *schedule.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func toWaitlistResponse(e waitlist.Entry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:             e.ID,
		PatientID:      e.PatientID,
		ClinicID:       e.ClinicID,
		DesiredDate:    e.DesiredDate.Format(time.DateOnly),
		DesiredTime:    clockString(e.DesiredTime),
		TimeRangeStart: clockString(e.TimeRangeStart),
		TimeRangeEnd:   clockString(e.TimeRangeEnd),
		Service:        e.Service,
		Status:         string(e.Status),
		OfferedStart:   e.OfferedStart,
		NotifiedAt:     e.NotifiedAt,
		ExpiresAt:      e.ExpiresAt,
		CreatedAt:      e.CreatedAt,
	}
}

type ErrorResponse struct {
	Error           string     `json:"error"`
	Details         string     `json:"details,omitempty"`
	Message         string     `json:"message,omitempty"`
	ConflictKind    string     `json:"conflict_kind,omitempty"`
	ConflictID      *uuid.UUID `json:"conflict_id,omitempty"`
	OccurrenceIndex int        `json:"occurrence_index,omitempty"`
	Occurrence      *time.Time `json:"occurrence,omitempty"`
}
