package hospital

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hms/hms-sync/internal/platform/backend"
)

// MsgLoadFailed is the store error shown to users after a failed fetch-all.
const MsgLoadFailed = "Failed to load data. Please try again later."

var (
	// ErrSuperseded is returned by FetchAll when a newer fetch was started
	// before this one finished. Its response is discarded.
	ErrSuperseded = errors.New("fetch superseded by a newer request")

	// ErrNotFound is returned by lookups for identifiers not in the store.
	ErrNotFound = errors.New("not found")
)

// Backend performs one REST call and returns the body of a 2xx response.
// Non-2xx responses come back as *backend.APIError.
type Backend interface {
	Do(ctx context.Context, method, path string, body any) ([]byte, error)
}

// SyncRun describes the outcome of one fetch-all.
type SyncRun struct {
	Sequence     uint64
	StartedAt    time.Time
	Duration     time.Duration
	Doctors      int
	Patients     int
	Appointments int
	Unresolved   int
	Superseded   bool
	Err          error
}

// SyncRecorder persists sync runs. Recording failures are logged and never
// affect the store.
type SyncRecorder interface {
	RecordSync(ctx context.Context, run SyncRun) error
}

// Result is the outcome of a mutation. Failures are reported here instead of
// as errors so callers can render the message inline.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the store's state.
type Snapshot struct {
	Doctors      []Doctor      `json:"doctors"`
	Patients     []Patient     `json:"patients"`
	Appointments []Appointment `json:"appointments"`
	IsLoading    bool          `json:"isLoading"`
	Error        string        `json:"error,omitempty"`
	Sequence     uint64        `json:"sequence"`
	FetchedAt    time.Time     `json:"fetchedAt"`
}

// Store is the single source of truth for doctors, patients and appointments
// as last fetched from the backend. All methods are safe for concurrent use.
type Store struct {
	backend        Backend
	logger         zerolog.Logger
	recorder       SyncRecorder
	reconcileDelay time.Duration

	seq      atomic.Uint64
	inflight atomic.Int64

	mu           sync.RWMutex
	doctors      []Doctor
	patients     []Patient
	appointments []Appointment
	errMsg       string
	applied      uint64
	fetchedAt    time.Time

	bgMu     sync.Mutex
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
	closed   bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithRecorder sets where fetch-all outcomes are recorded.
func WithRecorder(r SyncRecorder) StoreOption {
	return func(s *Store) { s.recorder = r }
}

// WithReconcileDelay sets how long after a patient mutation the follow-up
// fetch-all runs. Zero runs it before the mutation returns.
func WithReconcileDelay(d time.Duration) StoreOption {
	return func(s *Store) { s.reconcileDelay = d }
}

func NewStore(b Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:      b,
		logger:       zerolog.Nop(),
		doctors:      []Doctor{},
		patients:     []Patient{},
		appointments: []Appointment{},
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels pending reconciliations and waits for them to exit. The store
// stays readable afterwards but schedules no further background work.
func (s *Store) Close() {
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()
	s.bgCancel()
	s.bg.Wait()
}

// Flush waits for pending reconciliations to finish without cancelling them.
func (s *Store) Flush() {
	s.bg.Wait()
}

// IsLoading reports whether a fetch-all is in flight.
func (s *Store) IsLoading() bool {
	return s.inflight.Load() > 0
}

// Err returns the current store-level error message, or "".
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// Snapshot returns a copy of the current state. Callers may modify it freely.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doctors := slices.Clone(s.doctors)
	for i := range doctors {
		doctors[i].Availability = slices.Clone(doctors[i].Availability)
	}
	return Snapshot{
		Doctors:      doctors,
		Patients:     slices.Clone(s.patients),
		Appointments: cloneAppointments(s.appointments),
		IsLoading:    s.IsLoading(),
		Error:        s.errMsg,
		Sequence:     s.applied,
		FetchedAt:    s.fetchedAt,
	}
}

// cloneAppointments copies appointments including their embedded reference
// documents, so the copy shares no memory with the store.
func cloneAppointments(in []Appointment) []Appointment {
	out := slices.Clone(in)
	for i := range out {
		out[i].PatientID = out[i].PatientID.Clone()
		out[i].DoctorID = out[i].DoctorID.Clone()
		if d := out[i].DoctorID.Embedded; d != nil {
			d.Availability = slices.Clone(d.Availability)
		}
	}
	return out
}

func (s *Store) Doctors() []Doctor { return s.Snapshot().Doctors }

func (s *Store) Patients() []Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.patients)
}

// Appointments returns the denormalized appointments matching f.
func (s *Store) Appointments(f Filter) []Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAppointments(FilterAppointments(s.appointments, f))
}

// StatusCounts tallies the current appointments by status.
func (s *Store) StatusCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusCounts(s.appointments)
}

// Dates returns the distinct appointment date tokens.
func (s *Store) Dates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Dates(s.appointments)
}

// FindPatients searches patients by identifier, name or phone.
func (s *Store) FindPatients(query string) []Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FindPatients(s.patients, query)
}

// Doctor returns the doctor with the given identifier.
func (s *Store) Doctor(id ID) (Doctor, error) {
	id = CanonicalID(string(id))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.doctors {
		if d.ID == id {
			return d, nil
		}
	}
	return Doctor{}, fmt.Errorf("doctor %s: %w", id, ErrNotFound)
}

// Patient returns the patient with the given identifier.
func (s *Store) Patient(id ID) (Patient, error) {
	id = CanonicalID(string(id))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return Patient{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
}

// -- fetch-all --

type collections struct {
	doctors      []Doctor
	patients     []Patient
	appointments []Appointment
}

func (s *Store) fetchCollections(ctx context.Context) (*collections, error) {
	var c collections
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := s.backend.Do(gctx, http.MethodGet, "/doctors", nil)
		if err != nil {
			return fmt.Errorf("fetch doctors: %w", err)
		}
		c.doctors, err = DecodeList[Doctor](body, keyDoctors)
		return err
	})
	g.Go(func() error {
		body, err := s.backend.Do(gctx, http.MethodGet, "/patients", nil)
		if err != nil {
			return fmt.Errorf("fetch patients: %w", err)
		}
		c.patients, err = DecodeList[Patient](body, keyPatients)
		return err
	})
	g.Go(func() error {
		body, err := s.backend.Do(gctx, http.MethodGet, "/appointments", nil)
		if err != nil {
			return fmt.Errorf("fetch appointments: %w", err)
		}
		c.appointments, err = DecodeList[Appointment](body, keyAppointments)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FetchAll reloads all three collections from the backend and replaces them
// in one step. On failure the previous collections are kept and the store
// error is set. If another FetchAll starts before this one completes, this
// one's response is dropped and ErrSuperseded is returned.
func (s *Store) FetchAll(ctx context.Context) error {
	seq := s.seq.Add(1)
	run := SyncRun{Sequence: seq, StartedAt: time.Now()}
	// Registered first so it runs after the in-flight counter drops.
	defer func() {
		run.Duration = time.Since(run.StartedAt)
		s.record(run)
	}()

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	c, err := s.fetchCollections(ctx)
	if err != nil {
		s.mu.Lock()
		if seq != s.seq.Load() {
			s.mu.Unlock()
			run.Superseded = true
			return ErrSuperseded
		}
		s.errMsg = MsgLoadFailed
		s.mu.Unlock()
		run.Err = err
		s.logger.Error().Err(err).Uint64("seq", seq).Msg("fetch-all failed")
		return fmt.Errorf("fetch all: %w", err)
	}

	appointments, unresolved := Denormalize(c.appointments, c.doctors, c.patients)
	run.Doctors, run.Patients, run.Appointments = len(c.doctors), len(c.patients), len(appointments)
	run.Unresolved = unresolved

	s.mu.Lock()
	if seq != s.seq.Load() {
		s.mu.Unlock()
		run.Superseded = true
		s.logger.Debug().Uint64("seq", seq).Msg("discarding superseded fetch-all response")
		return ErrSuperseded
	}
	s.doctors = c.doctors
	s.patients = c.patients
	s.appointments = appointments
	s.errMsg = ""
	s.applied = seq
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	evt := s.logger.Info()
	if unresolved > 0 {
		evt = s.logger.Warn().Int("unresolved", unresolved)
	}
	evt.Uint64("seq", seq).
		Int("doctors", run.Doctors).
		Int("patients", run.Patients).
		Int("appointments", run.Appointments).
		Msg("fetch-all complete")
	return nil
}

func (s *Store) record(run SyncRun) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordSync(ctx, run); err != nil {
		s.logger.Warn().Err(err).Uint64("seq", run.Sequence).Msg("failed to record sync run")
	}
}

// RefreshPatients reloads just the patients collection and then runs a full
// fetch-all so appointment names pick up the change.
func (s *Store) RefreshPatients(ctx context.Context) error {
	body, err := s.backend.Do(ctx, http.MethodGet, "/patients", nil)
	if err == nil {
		var patients []Patient
		patients, err = DecodeList[Patient](body, keyPatients)
		if err == nil {
			s.mu.Lock()
			s.patients = patients
			s.mu.Unlock()
		}
	}
	if err != nil {
		s.mu.Lock()
		s.errMsg = "Failed to refresh patients."
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("refresh patients failed")
		return fmt.Errorf("refresh patients: %w", err)
	}
	if err := s.FetchAll(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		return err
	}
	return nil
}

// reconcile runs the follow-up fetch-all after a mutation, either inline or
// on a background goroutine after the configured delay.
func (s *Store) reconcile(ctx context.Context) {
	if s.reconcileDelay <= 0 {
		if err := s.FetchAll(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			s.logger.Warn().Err(err).Msg("reconcile fetch-all failed")
		}
		return
	}

	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		t := time.NewTimer(s.reconcileDelay)
		defer t.Stop()
		select {
		case <-s.bgCtx.Done():
			return
		case <-t.C:
		}
		if err := s.FetchAll(s.bgCtx); err != nil && !errors.Is(err, ErrSuperseded) {
			s.logger.Warn().Err(err).Msg("reconcile fetch-all failed")
		}
	}()
}

// failure converts err into a Result, preferring the backend's own message.
func (s *Store) failure(err error, fallback string) Result {
	s.logger.Error().Err(err).Msg(fallback)
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return Result{Error: apiErr.Message}
	}
	return Result{Error: fallback}
}

func resourcePath(collection string, id ID) string {
	return "/" + collection + "/" + url.PathEscape(string(id))
}

// -- patients --

// AddPatient creates a patient with a zero visit count. The backend's
// response is appended locally straight away and a fetch-all follows.
func (s *Store) AddPatient(ctx context.Context, p Patient) Result {
	p.ID = ""
	p.Visits = 0
	if err := p.Validate(); err != nil {
		return Result{Error: err.Error()}
	}

	body, err := s.backend.Do(ctx, http.MethodPost, "/patients", p)
	if err != nil {
		return s.failure(err, "Failed to add patient")
	}
	created, err := DecodeOne[Patient](body, keyPatient)
	if err != nil || created.ID == "" {
		s.logger.Warn().Err(err).Msg("create patient returned no record, waiting for reconcile")
	} else {
		s.mu.Lock()
		s.patients = append(slices.Clone(s.patients), created)
		s.mu.Unlock()
	}

	s.reconcile(ctx)
	return Result{Success: true}
}

// UpdatePatient sends a partial update and replaces the local record by
// identifier before reconciling.
func (s *Store) UpdatePatient(ctx context.Context, id ID, patch PatientPatch) Result {
	id = CanonicalID(string(id))
	if id == "" {
		return Result{Error: "patient id is required"}
	}
	if patch.IsEmpty() {
		return Result{Error: "no patient fields to update"}
	}

	body, err := s.backend.Do(ctx, http.MethodPut, resourcePath(keyPatients, id), patch)
	if err != nil {
		return s.failure(err, "Failed to update patient")
	}
	updated, decodeErr := DecodeOne[Patient](body, keyPatient)

	s.mu.Lock()
	patients := slices.Clone(s.patients)
	for i := range patients {
		if patients[i].ID != id {
			continue
		}
		if decodeErr == nil && updated.ID == id {
			patients[i] = updated
		} else {
			patients[i] = patch.Apply(patients[i])
		}
	}
	s.patients = patients
	s.mu.Unlock()

	s.reconcile(ctx)
	return Result{Success: true}
}

// DeletePatient removes a patient on the backend and locally.
func (s *Store) DeletePatient(ctx context.Context, id ID) Result {
	id = CanonicalID(string(id))
	if id == "" {
		return Result{Error: "patient id is required"}
	}
	if _, err := s.backend.Do(ctx, http.MethodDelete, resourcePath(keyPatients, id), nil); err != nil {
		return s.failure(err, "Failed to delete patient")
	}

	s.mu.Lock()
	s.patients = slices.DeleteFunc(slices.Clone(s.patients), func(p Patient) bool { return p.ID == id })
	s.mu.Unlock()

	s.reconcile(ctx)
	return Result{Success: true}
}

// -- doctors --

// AddDoctor creates a doctor and reconciles.
func (s *Store) AddDoctor(ctx context.Context, d Doctor) Result {
	d.ID = ""
	if d.DisplayName() == "" {
		return Result{Error: "doctor name is required"}
	}
	body, err := s.backend.Do(ctx, http.MethodPost, "/doctors", d)
	if err != nil {
		return s.failure(err, "Failed to add doctor")
	}
	if created, err := DecodeOne[Doctor](body, keyDoctor); err != nil || created.ID == "" {
		s.logger.Warn().Err(err).Msg("create doctor returned no record, waiting for reconcile")
	} else {
		s.mu.Lock()
		s.doctors = append(slices.Clone(s.doctors), created)
		s.mu.Unlock()
	}
	s.reconcile(ctx)
	return Result{Success: true}
}

// -- appointments --

// UpdateAppointmentStatus asks the backend to move an appointment to status
// and then reloads everything. Every transition, including a no-op or
// Cancelled back to Scheduled, is left to the backend to judge.
func (s *Store) UpdateAppointmentStatus(ctx context.Context, id ID, status Status) Result {
	id = CanonicalID(string(id))
	if id == "" {
		return Result{Error: "appointment id is required"}
	}
	st, err := ParseStatus(string(status))
	if err != nil {
		return Result{Error: err.Error()}
	}

	payload := map[string]Status{"status": st}
	if _, err := s.backend.Do(ctx, http.MethodPatch, resourcePath(keyAppointments, id), payload); err != nil {
		return s.failure(err, "Failed to update appointment status")
	}

	if err := s.FetchAll(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		s.logger.Warn().Err(err).Msg("fetch-all after status update failed")
	}
	return Result{Success: true}
}

// CreateAppointment books an appointment. Display names are filled in from
// the current collections so the stored record is readable even by clients
// that do not resolve references.
func (s *Store) CreateAppointment(ctx context.Context, n NewAppointment) Result {
	n.PatientID = CanonicalID(string(n.PatientID))
	n.DoctorID = CanonicalID(string(n.DoctorID))
	if err := n.Validate(); err != nil {
		return Result{Error: err.Error()}
	}
	status := StatusScheduled
	if n.Status != "" {
		status, _ = ParseStatus(n.Status)
	}

	payload := map[string]any{
		"patientId": string(n.PatientID),
		"doctorId":  string(n.DoctorID),
		"date":      n.Date,
		"time":      n.Time,
		"symptoms":  n.Symptoms,
		"status":    status,
	}
	// Names are only sent when the store knows the record. The backend
	// fills in the rest.
	s.mu.RLock()
	ix := NewIndex(s.doctors, s.patients)
	if p, ok := ix.Patient(RefTo[Patient](n.PatientID)); ok {
		payload["patientName"], payload["patientPhone"] = patientLabel(p)
	}
	if d, ok := ix.Doctor(RefTo[Doctor](n.DoctorID)); ok {
		payload["doctorName"] = doctorLabel(d)
	}
	s.mu.RUnlock()

	if _, err := s.backend.Do(ctx, http.MethodPost, "/appointments", payload); err != nil {
		return s.failure(err, "Failed to create appointment")
	}

	s.reconcile(ctx)
	return Result{Success: true}
}

// DeleteAppointment removes an appointment and reconciles.
func (s *Store) DeleteAppointment(ctx context.Context, id ID) Result {
	id = CanonicalID(string(id))
	if id == "" {
		return Result{Error: "appointment id is required"}
	}
	if _, err := s.backend.Do(ctx, http.MethodDelete, resourcePath(keyAppointments, id), nil); err != nil {
		return s.failure(err, "Failed to delete appointment")
	}

	s.mu.Lock()
	s.appointments = slices.DeleteFunc(slices.Clone(s.appointments), func(a Appointment) bool { return a.ID == id })
	s.mu.Unlock()

	s.reconcile(ctx)
	return Result{Success: true}
}

// AvailabilityCheck is the backend's verdict on a proposed slot.
type AvailabilityCheck struct {
	Available  bool   `json:"available"`
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
}

// CheckAvailability asks the backend whether doctorID is free at date and
// time. A 4xx answer means "not available"; transport failures and 5xx are
// errors.
func (s *Store) CheckAvailability(ctx context.Context, doctorID ID, date, tm string) (AvailabilityCheck, error) {
	doctorID = CanonicalID(string(doctorID))
	if doctorID == "" {
		return AvailabilityCheck{}, fmt.Errorf("doctorId is required")
	}
	payload := map[string]string{
		"doctorId": string(doctorID),
		"date":     date,
		"time":     tm,
	}
	body, err := s.backend.Do(ctx, http.MethodPost, "/appointments/check-availability", payload)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return AvailabilityCheck{StatusCode: apiErr.StatusCode, Message: apiErr.Message}, nil
		}
		return AvailabilityCheck{}, fmt.Errorf("check availability: %w", err)
	}

	check := AvailabilityCheck{Available: true, StatusCode: http.StatusOK, Message: "Doctor is available"}
	if msg, err := DecodeOne[struct {
		Message string `json:"message"`
	}](body, "result"); err == nil && msg.Message != "" {
		check.Message = msg.Message
	}
	return check, nil
}

// FixReport summarizes a FixAppointments run.
type FixReport struct {
	Checked int      `json:"checked"`
	Fixed   int      `json:"fixed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// appointmentFix computes the stored display fields of a that disagree with
// the records it references. Fields whose record cannot be found are left
// alone.
func appointmentFix(ix *Index, a *Appointment) map[string]string {
	update := map[string]string{}
	if p, ok := ix.Patient(a.PatientID); ok {
		name, phone := patientLabel(p)
		if a.PatientName != name {
			update["patientName"] = name
		}
		if a.PatientPhone != phone {
			update["patientPhone"] = phone
		}
	}
	if d, ok := ix.Doctor(a.DoctorID); ok {
		if name := doctorLabel(d); a.DoctorName != name {
			update["doctorName"] = name
		}
	}
	return update
}

// FixAppointments rewrites the patient and doctor names stored on each
// appointment record so they match the referenced records. It reads fresh
// data rather than the store's denormalized copy, since the latter already
// has the resolved names.
func (s *Store) FixAppointments(ctx context.Context) (FixReport, error) {
	var report FixReport
	c, err := s.fetchCollections(ctx)
	if err != nil {
		return report, fmt.Errorf("fix appointments: %w", err)
	}

	ix := NewIndex(c.doctors, c.patients)
	for i := range c.appointments {
		a := &c.appointments[i]
		if a.ID == "" {
			continue
		}
		report.Checked++
		update := appointmentFix(ix, a)
		if len(update) == 0 {
			continue
		}
		if _, err := s.backend.Do(ctx, http.MethodPut, resourcePath(keyAppointments, a.ID), update); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("appointment %s: %v", a.ID, err))
			s.logger.Warn().Err(err).Str("appointment_id", string(a.ID)).Msg("failed to fix appointment")
			continue
		}
		report.Fixed++
	}

	s.logger.Info().Int("fixed", report.Fixed).Int("failed", report.Failed).Msg("appointment fix complete")
	s.reconcile(ctx)
	return report, nil
}
