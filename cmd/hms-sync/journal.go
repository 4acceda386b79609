package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hms/hms-sync/internal/config"
	"github.com/hms/hms-sync/internal/domain/hospital"
	"github.com/hms/hms-sync/internal/platform/db"
	"github.com/hms/hms-sync/internal/platform/journal"
)

type runWriter interface {
	Record(ctx context.Context, r *journal.Run) error
}

// journalRecorder adapts the journal to hospital.SyncRecorder, keeping the
// hospital package free of database imports.
type journalRecorder struct {
	runs runWriter
}

func newJournalRecorder(runs runWriter) *journalRecorder {
	return &journalRecorder{runs: runs}
}

// RecordSync implements hospital.SyncRecorder.
func (r *journalRecorder) RecordSync(ctx context.Context, run hospital.SyncRun) error {
	jr := &journal.Run{
		Sequence:     run.Sequence,
		StartedAt:    run.StartedAt,
		DurationMS:   run.Duration.Milliseconds(),
		Doctors:      run.Doctors,
		Patients:     run.Patients,
		Appointments: run.Appointments,
		Unresolved:   run.Unresolved,
		Superseded:   run.Superseded,
	}
	if run.Err != nil {
		jr.Error = run.Err.Error()
	}
	return r.runs.Record(ctx, jr)
}

func withJournal(fn func(cmd *cobra.Command, j *journal.Journal, m *db.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.JournalEnabled() {
			return fmt.Errorf("DATABASE_URL is not set, the sync journal is disabled")
		}

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(cmd, journal.New(pool), db.NewMigrator(pool, journal.Migrations()))
	}
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Manage the sync run journal",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending journal migrations",
		RunE: withJournal(func(cmd *cobra.Command, j *journal.Journal, m *db.Migrator) error {
			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show journal migration status",
		RunE: withJournal(func(cmd *cobra.Command, j *journal.Journal, m *db.Migrator) error {
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				state, at := "pending", ""
				if s.Applied {
					state = "applied"
					at = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
			}
			return nil
		}),
	})

	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent sync runs",
		RunE: withJournal(func(cmd *cobra.Command, j *journal.Journal, m *db.Migrator) error {
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd, runs)
			return nil
		}),
	}
	list.Flags().Int("limit", journal.DefaultRecentLimit, "Number of runs to show")
	cmd.AddCommand(list)

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete sync runs older than a given age",
		RunE: withJournal(func(cmd *cobra.Command, j *journal.Journal, m *db.Migrator) error {
			age, _ := cmd.Flags().GetDuration("older-than")
			if age <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			n, err := j.Prune(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d sync run(s).\n", n)
			return nil
		}),
	}
	prune.Flags().Duration("older-than", 30*24*time.Hour, "Minimum age of runs to delete")
	cmd.AddCommand(prune)

	return cmd
}

func printRuns(cmd *cobra.Command, runs []*journal.Run) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-6s %-25s %-8s %-5s %-5s %-5s %-10s %s\n", "SEQ", "STARTED", "MS", "DOCS", "PATS", "APPTS", "OUTCOME", "ERROR")
	for _, r := range runs {
		outcome := "ok"
		switch {
		case r.Superseded:
			outcome = "superseded"
		case r.Failed():
			outcome = "failed"
		}
		fmt.Fprintf(w, "%-6d %-25s %-8d %-5d %-5d %-5d %-10s %s\n",
			r.Sequence, r.StartedAt.Format(time.RFC3339), r.DurationMS,
			r.Doctors, r.Patients, r.Appointments, outcome, r.Error)
	}
}
