package hospital

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *fakeBackend) {
	t.Helper()
	s, fb := newLoadedStore(t)
	return NewHandler(s), echo.New(), fb
}

func jsonRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_GetState(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/", ""), rec)

	if err := h.GetState(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var snap struct {
		Appointments []struct {
			ID          string `json:"_id"`
			PatientID   string `json:"patientId"`
			PatientName string `json:"patientName"`
		} `json:"appointments"`
		IsLoading bool `json:"isLoading"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(snap.Appointments) != 1 || snap.Appointments[0].PatientName != "John" {
		t.Errorf("unexpected appointments: %+v", snap.Appointments)
	}
	if snap.Appointments[0].PatientID != "p1" {
		t.Errorf("expected reference written as bare id, got %q", snap.Appointments[0].PatientID)
	}
}

func TestHandler_Refresh(t *testing.T) {
	h, e, fb := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", ""), rec)

	if err := h.Refresh(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.count("GET /appointments") != 2 {
		t.Errorf("expected a second fetch-all, got %d", fb.count("GET /appointments"))
	}
}

func TestHandler_Refresh_BackendDown(t *testing.T) {
	h, e, fb := newTestHandler(t)
	fb.fail("GET /appointments", http.StatusServiceUnavailable, "down")
	c := e.NewContext(jsonRequest(http.MethodPost, "/", ""), httptest.NewRecorder())

	expectHTTPError(t, h.Refresh(c), http.StatusBadGateway)
}

func TestHandler_GetDoctor(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues("d1")

	if err := h.GetDoctor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Dr. A") {
		t.Errorf("expected doctor in body, got %s", rec.Body.String())
	}

	c = e.NewContext(jsonRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	expectHTTPError(t, h.GetDoctor(c), http.StatusNotFound)
}

func TestHandler_ListPatients_Query(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/?q=nobody", ""), rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", rec.Body.String())
	}
}

func TestHandler_CreatePatient(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"Jane","phone":"555-0199","age":29}`), rec)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(h.store.FindPatients("Jane")) != 1 {
		t.Error("expected patient in store")
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"phone":"555"}`), httptest.NewRecorder())

	expectHTTPError(t, h.CreatePatient(c), http.StatusBadRequest)
}

func TestHandler_UpdatePatient(t *testing.T) {
	h, e, fb := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, "/", `{"phone":"555-0111"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fb.lastBody("PUT /patients/p1"); got["phone"] != "555-0111" {
		t.Errorf("unexpected update body: %v", got)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodDelete, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(h.store.Patients()) != 0 {
		t.Error("expected patient removed")
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/?status=scheduled&doctor_id=d1&limit=10", ""), rec)

	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
		Limit int           `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.Limit != 10 {
		t.Errorf("unexpected page: %+v", page)
	}
	if page.Data[0].DoctorName != "Dr. A" {
		t.Errorf("expected denormalized doctor name, got %q", page.Data[0].DoctorName)
	}
}

func TestHandler_ListAppointments_StatusAll(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/?status=all", ""), rec)

	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected all appointments, got %s", rec.Body.String())
	}
}

func TestHandler_ListAppointments_BadStatus(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodGet, "/?status=pending", ""), httptest.NewRecorder())

	expectHTTPError(t, h.ListAppointments(c), http.StatusBadRequest)
}

func TestHandler_AppointmentStats(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/", ""), rec)

	if err := h.AppointmentStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stats struct {
		Counts map[string]int `json:"counts"`
		Dates  []string       `json:"dates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Counts["Scheduled"] != 1 || stats.Counts["Cancelled"] != 0 {
		t.Errorf("unexpected counts: %v", stats.Counts)
	}
	if len(stats.Dates) != 1 || stats.Dates[0] != "tomorrow" {
		t.Errorf("unexpected dates: %v", stats.Dates)
	}
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, e, fb := newTestHandler(t)
	rec := httptest.NewRecorder()
	body := `{"patientId":"p1","doctorId":"d1","date":"today","time":"09:00AM","symptoms":"Cough"}`
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)

	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if got := fb.lastBody("POST /appointments"); got["doctorName"] != "Dr. A" {
		t.Errorf("expected doctor name in payload, got %v", got)
	}
}

func TestHandler_UpdateAppointmentStatus(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"Cancelled"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues("a1")

	if err := h.UpdateAppointmentStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.store.Appointments(Filter{})[0].Status; got != StatusCancelled {
		t.Errorf("expected Cancelled, got %q", got)
	}
}

func TestHandler_UpdateAppointmentStatus_Invalid(t *testing.T) {
	h, e, _ := newTestHandler(t)
	for _, body := range []string{`{}`, `{"status":"Booked"}`} {
		c := e.NewContext(jsonRequest(http.MethodPatch, "/", body), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues("a1")
		expectHTTPError(t, h.UpdateAppointmentStatus(c), http.StatusBadRequest)
	}
}

func TestHandler_UpdateAppointmentStatus_BackendRejects(t *testing.T) {
	h, e, fb := newTestHandler(t)
	fb.fail("PATCH /appointments/a1", http.StatusBadRequest, "Invalid status transition")
	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"Visited"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("a1")

	err := h.UpdateAppointmentStatus(c)
	expectHTTPError(t, err, http.StatusBadRequest)
	var he *echo.HTTPError
	errors.As(err, &he)
	if he.Message != "Invalid status transition" {
		t.Errorf("expected backend message, got %v", he.Message)
	}
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodDelete, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("a1")

	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.store.Appointments(Filter{})) != 0 {
		t.Error("expected appointment removed")
	}
}

func TestHandler_CheckAvailability(t *testing.T) {
	h, e, fb := newTestHandler(t)
	fb.fail("POST /appointments/check-availability", http.StatusConflict, "Slot taken")
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"doctorId":"d1","date":"today","time":"09:00AM"}`), rec)

	if err := h.CheckAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var check AvailabilityCheck
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if check.Available || check.Message != "Slot taken" {
		t.Errorf("unexpected check: %+v", check)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"doctorId":"d1"}`), httptest.NewRecorder())
	expectHTTPError(t, h.CheckAvailability(c), http.StatusBadRequest)
}

func TestHandler_FixAppointments(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", ""), rec)

	if err := h.FixAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report FixReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Checked != 1 || report.Fixed != 1 {
		t.Errorf("expected seeded appointment without stored names to be fixed, got %+v", report)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodGet, "/api/v1/appointments/stats", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("expected stats route to be registered, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPatch, "/api/v1/appointments/a1/status", `{"status":"Visited"}`))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status route to be registered, got %d: %s", rec.Code, rec.Body.String())
	}
}
