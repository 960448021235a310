package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type globalFlags struct {
	configPath       string
	appointmentsPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Run the scheduling rules against JSON files",
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "schedule config JSON (default working hours when empty)")
	rootCmd.PersistentFlags().StringVar(&g.appointmentsPath, "appointments", "", "existing appointments JSON array")

	rootCmd.AddCommand(slotsCmd(&g))
	rootCmd.AddCommand(validateCmd(&g))
	rootCmd.AddCommand(expandCmd(&g))
	rootCmd.AddCommand(metricsCmd(&g))
	return rootCmd
}

func load(g *globalFlags) (schedule.Config, []schedule.Appointment, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return schedule.Config{}, nil, fmt.Errorf("config: %w", err)
	}
	appts, err := loadAppointments(g.appointmentsPath)
	if err != nil {
		return schedule.Config{}, nil, fmt.Errorf("appointments: %w", err)
	}
	return cfg, appts, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return d, nil
}

type slotOutput struct {
	Start     time.Time `json:"start"`
	Available bool      `json:"available"`
	Free      bool      `json:"free"`
	Reason    string    `json:"reason,omitempty"`
	Break     string    `json:"break,omitempty"`
}

func slotsCmd(g *globalFlags) *cobra.Command {
	var date string
	var step, duration int
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the slot grid of one day and mark the free ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appts, err := load(g)
			if err != nil {
				return err
			}
			day, err := parseDate(date, cfg.Loc())
			if err != nil {
				return err
			}

			slots := schedule.GenerateSlots(day, cfg, step)
			free := make(map[time.Time]bool)
			for _, s := range schedule.FreeSlots(slots, cfg, duration, appts) {
				free[s.Start] = true
			}

			out := make([]slotOutput, len(slots))
			for i, s := range slots {
				out[i] = slotOutput{
					Start:     s.Start,
					Available: s.Available,
					Free:      free[s.Start],
					Reason:    string(s.Reason),
					Break:     s.BreakLabel,
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to list (YYYY-MM-DD)")
	cmd.Flags().IntVar(&step, "step", schedule.DefaultSlotStepMinutes, "slot step in minutes")
	cmd.Flags().IntVar(&duration, "duration", schedule.DefaultDurationMinutes, "booking length used to decide free slots")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

type validateOutput struct {
	OK           bool   `json:"ok"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
	ConflictKind string `json:"conflict_kind,omitempty"`
	ConflictID   string `json:"conflict_id,omitempty"`
}

var errRejected = errors.New("rejected")

func validateCmd(g *globalFlags) *cobra.Command {
	var start string
	var duration int
	var exclude string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether an interval can be booked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appts, err := load(g)
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("start must be RFC 3339: %w", err)
			}
			excludeID := uuid.Nil
			if exclude != "" {
				if excludeID, err = uuid.Parse(exclude); err != nil {
					return fmt.Errorf("exclude: %w", err)
				}
			}

			err = schedule.Validate(cfg, t, duration, appts, excludeID)
			var ce *schedule.ConflictError
			if err != nil && !errors.As(err, &ce) {
				return err
			}

			out := validateOutput{OK: err == nil}
			if ce != nil {
				out.Reason = ce.Reason
				out.Message = ce.Message()
				if ce.Reason == schedule.ReasonSlotOccupied {
					out.ConflictKind = string(ce.ConflictKind)
					out.ConflictID = ce.ConflictID.String()
				}
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !out.OK {
				cmd.SilenceErrors = true
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "candidate start (RFC 3339)")
	cmd.Flags().IntVar(&duration, "duration", schedule.DefaultDurationMinutes, "length in minutes")
	cmd.Flags().StringVar(&exclude, "exclude", "", "appointment id to ignore, as when rescheduling it")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

type expandOutput struct {
	Occurrences []time.Time `json:"occurrences"`
	Conflict    *struct {
		Index      int       `json:"index"`
		Occurrence time.Time `json:"occurrence"`
		Reason     string    `json:"reason"`
		Message    string    `json:"message"`
	} `json:"conflict,omitempty"`
}

func expandCmd(g *globalFlags) *cobra.Command {
	var start, frequency string
	var count, duration int
	var check bool
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand a recurring series, optionally validating every occurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appts, err := load(g)
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("start must be RFC 3339: %w", err)
			}
			freq, err := schedule.ParseFrequency(frequency)
			if err != nil {
				return err
			}
			t = t.In(cfg.Loc())

			if !check {
				occ, err := schedule.Expand(t, freq, count)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), expandOutput{Occurrences: occ})
			}

			occ, err := schedule.ExpandAndValidate(cfg, t, freq, count, duration, appts)
			var rce *schedule.RecurrenceConflictError
			if err != nil && !errors.As(err, &rce) {
				return err
			}
			out := expandOutput{Occurrences: occ}
			if rce != nil {
				out.Conflict = &struct {
					Index      int       `json:"index"`
					Occurrence time.Time `json:"occurrence"`
					Reason     string    `json:"reason"`
					Message    string    `json:"message"`
				}{rce.Index, rce.Occurrence, rce.Cause.Reason, rce.Cause.Message()}
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if rce != nil {
				cmd.SilenceErrors = true
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first occurrence (RFC 3339)")
	cmd.Flags().StringVar(&frequency, "frequency", "weekly", "weekly, biweekly or monthly")
	cmd.Flags().IntVar(&count, "count", 4, "number of occurrences")
	cmd.Flags().IntVar(&duration, "duration", schedule.DefaultDurationMinutes, "length of each occurrence in minutes")
	cmd.Flags().BoolVar(&check, "validate", false, "validate every occurrence against the calendar")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func metricsCmd(g *globalFlags) *cobra.Command {
	var from, to string
	var step int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute occupancy over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appts, err := load(g)
			if err != nil {
				return err
			}
			f, err := parseDate(from, cfg.Loc())
			if err != nil {
				return err
			}
			t, err := parseDate(to, cfg.Loc())
			if err != nil {
				return err
			}
			if t.Before(f) {
				return errors.New("--to must not be before --from")
			}
			m := schedule.ComputeMetrics(appts, schedule.DateRange{From: f, To: t}, cfg, step)
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&step, "step", schedule.DefaultSlotStepMinutes, "slot step in minutes")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
