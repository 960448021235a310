package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `id, patient_id, clinic_id, date_time, duration_minutes, kind, status,
	block_reason, series_id, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanAppointment(row pgx.Row) (*schedule.Appointment, error) {
	var a schedule.Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ClinicID,
		&a.DateTime,
		&a.DurationMinutes,
		&a.Kind,
		&a.Status,
		&a.BlockReason,
		&a.SeriesID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]schedule.Appointment, error) {
	defer rows.Close()

	var result []schedule.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]schedule.Appointment, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.From != nil {
		where = append(where, "date_time >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "date_time < "+arg(*f.To))
	}
	if f.PatientID != nil {
		where = append(where, "patient_id = "+arg(*f.PatientID))
	}
	if f.ClinicID != nil {
		where = append(where, "clinic_id = "+arg(*f.ClinicID))
	}
	if f.SeriesID != nil {
		where = append(where, "series_id = "+arg(*f.SeriesID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}

	query := "SELECT " + appointmentColumns + " FROM appointments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date_time ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveOverlapping(ctx context.Context, from, to time.Time) ([]schedule.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status <> 'cancelled'
		  AND date_time < $2
		  AND date_time + make_interval(mins => duration_minutes) > $1
		ORDER BY date_time ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointments(ctx context.Context, appts []schedule.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, a := range appts {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, a.ID, a.PatientID, a.ClinicID, a.DateTime, a.DurationMinutes, a.Kind, a.Status,
			a.BlockReason, a.SeriesID, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert appointment %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit appointments: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *schedule.Appointment, from schedule.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    date_time = $3,
		    duration_minutes = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = $6
	`, a.ID, a.Status, a.DateTime, a.DurationMinutes, a.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetAppointmentByID(ctx, a.ID); err != nil {
			return err
		}
		return ErrAppointmentChanged
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Schedule configs. The global row is keyed by the nil UUID.

type breakRow struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label,omitempty"`
}

func (r *PgRepository) GetConfig(ctx context.Context, clinicID *uuid.UUID) (*schedule.Config, error) {
	scope := uuid.Nil
	if clinicID != nil {
		scope = *clinicID
	}

	var (
		cfg        schedule.Config
		start, end int32
		days       []int32
		breaksRaw  []byte
		tz         string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT clinic_id, work_start, work_end, active_days, breaks, timezone
		FROM schedule_configs
		WHERE scope_id = $1
	`, scope).Scan(&cfg.ClinicID, &start, &end, &days, &breaksRaw, &tz)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	cfg.WorkStart = schedule.TimeOfDay(start)
	cfg.WorkEnd = schedule.TimeOfDay(end)
	for _, d := range days {
		cfg.ActiveDays = append(cfg.ActiveDays, time.Weekday(d))
	}

	var rows []breakRow
	if len(breaksRaw) > 0 {
		if err := json.Unmarshal(breaksRaw, &rows); err != nil {
			return nil, fmt.Errorf("decode breaks: %w", err)
		}
	}
	for _, b := range rows {
		cfg.Breaks = append(cfg.Breaks, schedule.Break{
			Start: schedule.TimeOfDay(b.Start),
			End:   schedule.TimeOfDay(b.End),
			Label: b.Label,
		})
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	cfg.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *PgRepository) SaveConfig(ctx context.Context, cfg schedule.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	scope := uuid.Nil
	if cfg.ClinicID != nil {
		scope = *cfg.ClinicID
	}
	days := make([]int32, len(cfg.ActiveDays))
	for i, d := range cfg.ActiveDays {
		days[i] = int32(d)
	}
	rows := make([]breakRow, len(cfg.Breaks))
	for i, b := range cfg.Breaks {
		rows[i] = breakRow{Start: int(b.Start), End: int(b.End), Label: b.Label}
	}
	breaks, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO schedule_configs (scope_id, clinic_id, work_start, work_end, active_days, breaks, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (scope_id) DO UPDATE
		SET work_start = EXCLUDED.work_start,
		    work_end = EXCLUDED.work_end,
		    active_days = EXCLUDED.active_days,
		    breaks = EXCLUDED.breaks,
		    timezone = EXCLUDED.timezone,
		    updated_at = now()
	`, scope, cfg.ClinicID, int32(cfg.WorkStart), int32(cfg.WorkEnd), days, breaks, cfg.Loc().String())
	if err != nil {
		return fmt.Errorf("save schedule config: %w", err)
	}
	return nil
}
