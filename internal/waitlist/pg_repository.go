package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const entryColumns = `id, patient_id, clinic_id, desired_date, desired_time, time_range_start, time_range_end,
	service, status, offered_start, offered_end, notified_at, expires_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var desired, rangeStart, rangeEnd *int32

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.ClinicID,
		&e.DesiredDate,
		&desired,
		&rangeStart,
		&rangeEnd,
		&e.Service,
		&e.Status,
		&e.OfferedStart,
		&e.OfferedEnd,
		&e.NotifiedAt,
		&e.ExpiresAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	e.DesiredTime = fromMinutes(desired)
	e.TimeRangeStart = fromMinutes(rangeStart)
	e.TimeRangeEnd = fromMinutes(rangeEnd)
	return &e, nil
}

func fromMinutes(v *int32) *schedule.TimeOfDay {
	if v == nil {
		return nil
	}
	t := schedule.TimeOfDay(*v)
	return &t
}

func toMinutes(t *schedule.TimeOfDay) *int32 {
	if t == nil {
		return nil
	}
	v := int32(*t)
	return &v
}

func (r *PgRepository) Insert(ctx context.Context, e *Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		e.ID, e.PatientID, e.ClinicID, e.DesiredDate,
		toMinutes(e.DesiredTime), toMinutes(e.TimeRangeStart), toMinutes(e.TimeRangeEnd),
		e.Service, e.Status, e.OfferedStart, e.OfferedEnd, e.NotifiedAt, e.ExpiresAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) Update(ctx context.Context, e *Entry, from Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    offered_start = $3,
		    offered_end = $4,
		    notified_at = $5,
		    expires_at = $6,
		    updated_at = $7
		WHERE id = $1
		  AND status = $8
	`, e.ID, e.Status, e.OfferedStart, e.OfferedEnd, e.NotifiedAt, e.ExpiresAt, e.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, e.ID); err != nil {
			return err
		}
		return ErrStaleEntry
	}
	return nil
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if f.PatientID != nil {
		where = append(where, "patient_id = "+arg(*f.PatientID))
	}
	if f.DesiredDate != nil {
		where = append(where, "desired_date = "+arg(f.DesiredDate.Format("2006-01-02"))+"::date")
	}
	if f.ExpiresBefore != nil {
		where = append(where, "expires_at IS NOT NULL AND expires_at < "+arg(*f.ExpiresBefore))
	}
	if f.OfferedStart != nil {
		where = append(where, "offered_start = "+arg(*f.OfferedStart))
	}

	query := "SELECT " + entryColumns + " FROM waitlist_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
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
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
