package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/libs/grpcx"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/migrations"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "slotctl",
		Short:        "Inspect provider schedules and manage the scheduling database",
		SilenceUsage: true,
	}
	root.AddCommand(previewCmd())
	root.AddCommand(normalizeCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(healthCmd())
	return root
}

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the bookable slots a schedule yields for one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetString("days")
			hours, _ := cmd.Flags().GetString("hours")
			interval, _ := cmd.Flags().GetInt("interval")
			rawDate, _ := cmd.Flags().GetString("date")
			booked, _ := cmd.Flags().GetStringSlice("booked")
			maxDaily, _ := cmd.Flags().GetInt("max")

			date, ok := schedule.ParseDate(rawDate)
			if !ok {
				return fmt.Errorf("unrecognized date %q", rawDate)
			}
			var occupied []schedule.TimeOfDay
			for _, raw := range booked {
				t, ok := schedule.ParseClock(raw)
				if !ok {
					return fmt.Errorf("unrecognized booked time %q", raw)
				}
				occupied = append(occupied, t)
			}
			return preview(cmd.OutOrStdout(), days, hours, interval, date, occupied, maxDaily)
		},
	}
	cmd.Flags().String("days", "Mon-Fri", "working days, e.g. \"Mon-Fri\" or \"Mon, Wed, Fri\"")
	cmd.Flags().String("hours", "09:00-17:00", "working hours, e.g. \"9:00 AM - 5:00 PM\"")
	cmd.Flags().Int("interval", schedule.DefaultIntervalMinutes, "slot interval in minutes")
	cmd.Flags().String("date", time.Now().UTC().Format(schedule.DateLayout), "date to preview")
	cmd.Flags().StringSlice("booked", nil, "times already taken on that date")
	cmd.Flags().Int("max", schedule.DefaultMaxDaily, "maximum appointments per day")
	return cmd
}

func preview(w io.Writer, days, hours string, interval int, date time.Time, occupied []schedule.TimeOfDay, maxDaily int) error {
	s, err := schedule.Parse(days, hours, interval)
	var perr *schedule.ParseError
	if errors.As(err, &perr) {
		fmt.Fprintf(w, "working hours %q could not be parsed; no slots are offered\n", perr.Hours)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "days:     %s\n", s.Days)
	fmt.Fprintf(w, "hours:    %s - %s\n", s.Start, s.End)
	fmt.Fprintf(w, "interval: %s\n", s.Interval)
	for _, fb := range s.Fallbacks {
		fmt.Fprintf(w, "fallback: %s\n", fb)
	}
	fmt.Fprintf(w, "date:     %s\n", date.Format(schedule.DisplayDateLayout))

	slots := availability.Filter(availability.Generate(s, date), occupied, maxDaily)
	if len(slots) == 0 {
		fmt.Fprintln(w, "no slots available")
		return nil
	}
	fmt.Fprintf(w, "slots (%d): %s\n", len(slots), strings.Join(availability.Format(slots), ", "))
	return nil
}

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize VALUE...",
		Short: "Show how dates and times are interpreted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, raw := range args {
				switch {
				case isDate(raw):
					d, _ := schedule.ParseDate(raw)
					fmt.Fprintf(out, "%q\tdate\t%s\n", raw, d.Format(schedule.DateLayout))
				case isClock(raw):
					t, _ := schedule.ParseClock(raw)
					fmt.Fprintf(out, "%q\ttime\t%s (%s)\n", raw, t.Clock(), t)
				default:
					fmt.Fprintf(out, "%q\tunrecognized\n", raw)
				}
			}
			return nil
		},
	}
}

func isDate(raw string) bool {
	_, ok := schedule.ParseDate(raw)
	return ok
}

func isClock(raw string) bool {
	_, ok := schedule.ParseClock(raw)
	return ok
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending scheduling migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, _ := cmd.Flags().GetString("database-url")
			if strings.TrimSpace(dbURL) == "" {
				return errors.New("database url is required (--database-url or DATABASE_URL)")
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			pool, err := db.Open(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			logger := runtime.NewLogger("slotctl")
			if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().String("database-url", config.String("DATABASE_URL", ""), "postgres connection string")
	cmd.Flags().Duration("timeout", time.Minute, "overall migration timeout")
	return cmd
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the scheduling service gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: timeout})
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", grpcserver.ServiceName, resp.GetStatus())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return errors.New("service is not serving")
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:"+config.String("GRPC_PORT", "9096"), "gRPC address of the scheduling service")
	cmd.Flags().Duration("timeout", 3*time.Second, "dial and call timeout")
	return cmd
}
