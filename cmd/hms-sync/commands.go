package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms-sync/internal/config"
	"github.com/hms/hms-sync/internal/domain/hospital"
)

// cliStore loads config and returns a store that reconciles inline, so every
// mutation has finished its fetch-all before the command exits.
func cliStore(cmd *cobra.Command) (*hospital.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
	client, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return hospital.NewStore(client,
		hospital.WithLogger(logger),
		hospital.WithReconcileDelay(0),
	), nil
}

// loadedStore is cliStore followed by a fetch-all.
func loadedStore(cmd *cobra.Command) (*hospital.Store, error) {
	s, err := cliStore(cmd)
	if err != nil {
		return nil, err
	}
	if err := s.FetchAll(cmd.Context()); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", hospital.MsgLoadFailed, err)
	}
	return s, nil
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted command stops its
// backend calls.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultErr turns a failed mutation into a command error.
func resultErr(res hospital.Result) error {
	if res.Success {
		return nil
	}
	return errors.New(res.Error)
}

func withStore(load bool, fn func(cmd *cobra.Command, args []string, s *hospital.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()
		cmd.SetContext(ctx)

		var (
			s   *hospital.Store
			err error
		)
		if load {
			s, err = loadedStore(cmd)
		} else {
			s, err = cliStore(cmd)
		}
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, args, s)
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Load all collections and print a summary",
		RunE: withStore(true, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			snap := s.Snapshot()
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Doctors:      %d\n", len(snap.Doctors))
			fmt.Fprintf(w, "Patients:     %d\n", len(snap.Patients))
			fmt.Fprintf(w, "Appointments: %d\n", len(snap.Appointments))
			printCounts(w, s.StatusCounts())
			return nil
		}),
	}
}

func printCounts(w io.Writer, counts map[string]int) {
	fmt.Fprintf(w, "  %-10s %d\n", "all", counts["all"])
	for _, st := range hospital.Statuses {
		fmt.Fprintf(w, "  %-10s %d\n", st, counts[string(st)])
	}
}

// -- doctors --

func doctorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctors",
		Short: "List and add doctors",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List doctors",
		RunE: withStore(true, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			doctors := s.Doctors()
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), doctors)
			}
			printDoctors(cmd.OutOrStdout(), doctors)
			return nil
		}),
	})

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a doctor",
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			d := doctorFromFlags(cmd)
			if err := resultErr(s.AddDoctor(cmd.Context(), d)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added doctor %s\n", d.DisplayName())
			return nil
		}),
	}
	add.Flags().String("name", "", "Full name")
	add.Flags().String("specialty", "", "Specialty")
	add.Flags().String("phone", "", "Phone number")
	add.Flags().String("email", "", "Email address")
	add.Flags().String("experience", "", "Years of experience")
	cmd.AddCommand(add)
	return cmd
}

func doctorFromFlags(cmd *cobra.Command) hospital.Doctor {
	str := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}
	return hospital.Doctor{
		Name:       str("name"),
		Specialty:  str("specialty"),
		Phone:      str("phone"),
		Email:      str("email"),
		Experience: hospital.FlexString(str("experience")),
	}
}

func printDoctors(w io.Writer, doctors []hospital.Doctor) {
	fmt.Fprintf(w, "%-26s %-30s %s\n", "ID", "NAME", "SPECIALTY")
	for _, d := range doctors {
		fmt.Fprintf(w, "%-26s %-30s %s\n", d.ID, d.DisplayName(), d.Speciality())
	}
}

// -- patients --

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List, add, update and delete patients",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List patients, optionally filtered by name or phone",
		RunE: withStore(true, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			q, _ := cmd.Flags().GetString("query")
			patients := s.FindPatients(q)
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), patients)
			}
			printPatients(cmd.OutOrStdout(), patients)
			return nil
		}),
	}
	list.Flags().StringP("query", "q", "", "Name or phone substring")
	cmd.AddCommand(list)

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a patient",
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			p := patientPatchFromFlags(cmd).Apply(hospital.Patient{})
			if err := resultErr(s.AddPatient(cmd.Context(), p)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added patient %s\n", p.DisplayName())
			return nil
		}),
	}
	addPatientFlags(add)
	cmd.AddCommand(add)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update the given fields of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			if err := resultErr(s.UpdatePatient(cmd.Context(), hospital.ID(args[0]), patientPatchFromFlags(cmd))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated patient %s\n", args[0])
			return nil
		}),
	}
	addPatientFlags(update)
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a patient",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			if err := resultErr(s.DeletePatient(cmd.Context(), hospital.ID(args[0]))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted patient %s\n", args[0])
			return nil
		}),
	})
	return cmd
}

var patientStringFlags = []string{
	"name", "phone", "gender", "email", "address", "city", "blood-group",
	"allergies", "current-medication", "medical-history",
	"emergency-contact", "emergency-phone",
}

func addPatientFlags(cmd *cobra.Command) {
	for _, name := range patientStringFlags {
		cmd.Flags().String(name, "", strings.ReplaceAll(name, "-", " "))
	}
	cmd.Flags().Int("age", 0, "age")
}

// patientPatchFromFlags sets only the flags the user actually passed.
func patientPatchFromFlags(cmd *cobra.Command) hospital.PatientPatch {
	var pp hospital.PatientPatch
	targets := map[string]**string{
		"name":               &pp.Name,
		"phone":              &pp.Phone,
		"gender":             &pp.Gender,
		"email":              &pp.Email,
		"address":            &pp.Address,
		"city":               &pp.City,
		"blood-group":        &pp.BloodGroup,
		"allergies":          &pp.Allergies,
		"current-medication": &pp.CurrentMedication,
		"medical-history":    &pp.PastMedicalHistory,
		"emergency-contact":  &pp.EmergencyContact,
		"emergency-phone":    &pp.EmergencyPhone,
	}
	for name, dst := range targets {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, _ := cmd.Flags().GetString(name)
		*dst = &v
	}
	if cmd.Flags().Changed("age") {
		age, _ := cmd.Flags().GetInt("age")
		pp.Age = &age
	}
	return pp
}

func printPatients(w io.Writer, patients []hospital.Patient) {
	fmt.Fprintf(w, "%-26s %-30s %-16s %s\n", "ID", "NAME", "PHONE", "VISITS")
	for _, p := range patients {
		fmt.Fprintf(w, "%-26s %-30s %-16s %d\n", p.ID, p.DisplayName(), p.ContactPhone(), p.Visits)
	}
}

// -- appointments --

func appointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "appointments",
		Aliases: []string{"appts"},
		Short:   "Manage appointments",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List appointments with patient and doctor names resolved",
		RunE: withStore(true, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			f, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			appts := s.Appointments(f)
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), appts)
			}
			printAppointments(cmd.OutOrStdout(), appts)
			return nil
		}),
	}
	list.Flags().String("search", "", "Patient or doctor name substring")
	list.Flags().String("status", "", "Scheduled, Visited, Cancelled or all")
	list.Flags().String("date", "", "Exact date")
	list.Flags().String("doctor", "", "Doctor ID")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show appointment counts per status and the known dates",
		RunE: withStore(true, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			counts, dates := s.StatusCounts(), s.Dates()
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"counts": counts, "dates": dates})
			}
			printCounts(cmd.OutOrStdout(), counts)
			fmt.Fprintf(cmd.OutOrStdout(), "Dates: %s\n", strings.Join(dates, ", "))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set an appointment's status",
		Args:  cobra.ExactArgs(2),
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			st, err := hospital.ParseStatus(args[1])
			if err != nil {
				return err
			}
			if err := resultErr(s.UpdateAppointmentStatus(cmd.Context(), hospital.ID(args[0]), st)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appointment %s is now %s\n", args[0], st)
			return nil
		}),
	})

	create := &cobra.Command{
		Use:   "create",
		Short: "Book an appointment",
		RunE: withStore(true, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			n := newAppointmentFromFlags(cmd)
			if err := resultErr(s.CreateAppointment(cmd.Context(), n)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Booked appointment on %s at %s\n", n.Date, n.Time)
			return nil
		}),
	}
	create.Flags().String("patient", "", "Patient ID")
	create.Flags().String("doctor", "", "Doctor ID")
	create.Flags().String("date", "", "Date")
	create.Flags().String("time", "", "Time")
	create.Flags().String("symptoms", "", "Symptoms")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			if err := resultErr(s.DeleteAppointment(cmd.Context(), hospital.ID(args[0]))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted appointment %s\n", args[0])
			return nil
		}),
	})

	check := &cobra.Command{
		Use:   "check",
		Short: "Check whether a doctor is free at a date and time",
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			doctor, _ := cmd.Flags().GetString("doctor")
			date, _ := cmd.Flags().GetString("date")
			tm, _ := cmd.Flags().GetString("time")
			res, err := s.CheckAvailability(cmd.Context(), hospital.ID(doctor), date, tm)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			verdict := "available"
			if !res.Available {
				verdict = "not available"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", verdict, res.Message)
			return nil
		}),
	}
	check.Flags().String("doctor", "", "Doctor ID")
	check.Flags().String("date", "", "Date")
	check.Flags().String("time", "", "Time")
	cmd.AddCommand(check)

	cmd.AddCommand(&cobra.Command{
		Use:   "fix",
		Short: "Rewrite stored patient and doctor names on appointment records",
		RunE: withStore(false, func(cmd *cobra.Command, args []string, s *hospital.Store) error {
			report, err := s.FixAppointments(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d, fixed %d, failed %d\n", report.Checked, report.Fixed, report.Failed)
			for _, e := range report.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
			}
			return nil
		}),
	})
	return cmd
}

func filterFromFlags(cmd *cobra.Command) (hospital.Filter, error) {
	search, _ := cmd.Flags().GetString("search")
	status, _ := cmd.Flags().GetString("status")
	date, _ := cmd.Flags().GetString("date")
	doctor, _ := cmd.Flags().GetString("doctor")

	f := hospital.Filter{Search: search, Date: date, DoctorID: hospital.CanonicalID(doctor)}
	if status != "" && !strings.EqualFold(status, "all") {
		st, err := hospital.ParseStatus(status)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	return f, nil
}

func newAppointmentFromFlags(cmd *cobra.Command) hospital.NewAppointment {
	str := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}
	return hospital.NewAppointment{
		PatientID: hospital.ID(str("patient")),
		DoctorID:  hospital.ID(str("doctor")),
		Date:      str("date"),
		Time:      str("time"),
		Symptoms:  str("symptoms"),
	}
}

func printAppointments(w io.Writer, appts []hospital.Appointment) {
	fmt.Fprintf(w, "%-26s %-12s %-8s %-24s %-24s %s\n", "ID", "DATE", "TIME", "PATIENT", "DOCTOR", "STATUS")
	for _, a := range appts {
		fmt.Fprintf(w, "%-26s %-12s %-8s %-24s %-24s %s\n", a.ID, a.Date, a.Time, a.PatientName, a.DoctorName, a.Status)
	}
}
