package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type seedOptions struct {
	clinics  int
	patients int
	days     int
	waitlist int
}

func main() {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with fake clinics, patients and bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.clinics, "clinics", 3, "number of clinics")
	cmd.Flags().IntVar(&opts.patients, "patients", 500, "number of patients")
	cmd.Flags().IntVar(&opts.days, "days", 14, "days of bookings to generate from today")
	cmd.Flags().IntVar(&opts.waitlist, "waitlist", 20, "number of waitlist entries")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Init("seed", cfg.Env, cfg.LogLevel)

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinics, err := seedClinics(ctx, pool, opts.clinics, logger)
	if err != nil {
		return fmt.Errorf("seed clinics: %w", err)
	}
	patients, err := seedPatients(ctx, pool, opts.patients, logger)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	// Seeding is a single process, so an in-process lock is enough.
	repo := appointment.NewPgRepository(pool)
	wl := waitlist.NewManager(waitlist.NewPgRepository(pool), cfg.WaitlistGrace, waitlist.WithLocation(cfg.Location()))
	svc := appointment.NewService(repo, repo, redisclient.NewProcessLocker(), wl, nil, logger, appointment.Options{
		SlotStepMinutes:        cfg.SlotStepMinutes,
		DefaultDurationMinutes: cfg.DefaultDurationMinutes,
	})

	if err := seedConfigs(ctx, svc, clinics, cfg.Location()); err != nil {
		return fmt.Errorf("seed configs: %w", err)
	}
	if err := seedAppointments(ctx, svc, clinics, patients, opts.days, cfg.Location(), logger); err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}
	if err := seedWaitlist(ctx, svc, patients, opts.waitlist, cfg.Location()); err != nil {
		return fmt.Errorf("seed waitlist: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.City() + " Clinic"
		if _, err := pool.Exec(ctx, `
			INSERT INTO clinics (id, name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, name); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	logger.Info().Int("count", count).Msg("clinics seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return ids, nil
}

// seedConfigs gives the first clinic a shorter day with a Saturday morning
// so clinic overrides show up in the data.
func seedConfigs(ctx context.Context, svc *appointment.Service, clinics []uuid.UUID, loc *time.Location) error {
	if len(clinics) == 0 {
		return nil
	}
	override, err := schedule.NewConfig(
		&clinics[0],
		schedule.NewTimeOfDay(9, 0),
		schedule.NewTimeOfDay(15, 0),
		[]schedule.Break{{Start: schedule.NewTimeOfDay(11, 30), End: schedule.NewTimeOfDay(12, 0), Label: "Coffee"}},
		[]time.Weekday{time.Tuesday, time.Wednesday, time.Thursday, time.Saturday},
		loc,
	)
	if err != nil {
		return err
	}
	return svc.SaveConfig(ctx, *override)
}

// seedAppointments books random free slots. Conflicts are expected and
// skipped; the service is the one deciding what fits.
func seedAppointments(ctx context.Context, svc *appointment.Service, clinics, patients []uuid.UUID, days int, loc *time.Location, logger zerolog.Logger) error {
	if len(patients) == 0 {
		return nil
	}
	today := time.Now().In(loc)
	booked, skipped := 0, 0

	for d := 0; d < days; d++ {
		day := time.Date(today.Year(), today.Month(), today.Day()+d, 0, 0, 0, 0, loc)
		var clinicID *uuid.UUID
		if len(clinics) > 0 {
			clinicID = &clinics[d%len(clinics)]
		}

		slots, err := svc.AvailableSlots(ctx, day, clinicID, 0, 0)
		if err != nil {
			return err
		}
		for _, slot := range slots.Free {
			if gofakeit.Float64() > 0.6 {
				continue
			}
			req := appointment.BookRequest{Start: slot.Start, ClinicID: clinicID}
			if gofakeit.Number(1, 20) == 1 {
				reason := gofakeit.RandomString([]string{"Admin", "Training", "Supervision"})
				req.Kind = schedule.KindBlocked
				req.BlockReason = &reason
				req.DurationMinutes = 30
			} else {
				p := patients[gofakeit.Number(0, len(patients)-1)]
				req.PatientID = &p
			}

			_, err := svc.Book(ctx, req)
			var ce *schedule.ConflictError
			switch {
			case errors.As(err, &ce):
				skipped++
			case err != nil:
				return err
			default:
				booked++
			}
		}
	}

	logger.Info().Int("booked", booked).Int("skipped", skipped).Msg("appointments seeded")
	return nil
}

func seedWaitlist(ctx context.Context, svc *appointment.Service, patients []uuid.UUID, count int, loc *time.Location) error {
	if len(patients) == 0 {
		return nil
	}
	today := time.Now().In(loc)
	for i := 0; i < count; i++ {
		e := waitlist.Entry{
			PatientID:   patients[gofakeit.Number(0, len(patients)-1)],
			DesiredDate: time.Date(today.Year(), today.Month(), today.Day()+gofakeit.Number(1, 10), 0, 0, 0, 0, loc),
		}
		if gofakeit.Bool() {
			from := schedule.NewTimeOfDay(gofakeit.Number(8, 14), 0)
			to := from + schedule.NewTimeOfDay(2, 0)
			e.TimeRangeStart, e.TimeRangeEnd = &from, &to
		}
		if _, err := svc.AddToWaitlist(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
