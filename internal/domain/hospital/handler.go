package hospital

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms-sync/pkg/pagination"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/state", h.GetState)
	api.POST("/refresh", h.Refresh)

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.POST("/doctors", h.CreateDoctor)

	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.POST("/patients", h.CreatePatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/stats", h.AppointmentStats)
	api.POST("/appointments", h.CreateAppointment)
	api.POST("/appointments/check-availability", h.CheckAvailability)
	api.POST("/appointments/fix", h.FixAppointments)
	api.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)
	api.DELETE("/appointments/:id", h.DeleteAppointment)
}

// mutationResponse renders a store Result. Failures become a 400 carrying the
// message the store chose for display.
func mutationResponse(c echo.Context, okStatus int, res Result) error {
	if !res.Success {
		return echo.NewHTTPError(http.StatusBadRequest, res.Error)
	}
	return c.JSON(okStatus, res)
}

// -- State --

func (h *Handler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Snapshot())
}

func (h *Handler) Refresh(c echo.Context) error {
	err := h.store.FetchAll(c.Request().Context())
	if err != nil && !errors.Is(err, ErrSuperseded) {
		return echo.NewHTTPError(http.StatusBadGateway, MsgLoadFailed)
	}
	return c.JSON(http.StatusOK, h.store.Snapshot())
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Doctors())
}

func (h *Handler) GetDoctor(c echo.Context) error {
	d, err := h.store.Doctor(ID(c.Param("id")))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return mutationResponse(c, http.StatusCreated, h.store.AddDoctor(c.Request().Context(), d))
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.FindPatients(c.QueryParam("q")))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.store.Patient(ID(c.Param("id")))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return mutationResponse(c, http.StatusCreated, h.store.AddPatient(c.Request().Context(), p))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var patch PatientPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return mutationResponse(c, http.StatusOK, h.store.UpdatePatient(c.Request().Context(), ID(c.Param("id")), patch))
}

func (h *Handler) DeletePatient(c echo.Context) error {
	return mutationResponse(c, http.StatusOK, h.store.DeletePatient(c.Request().Context(), ID(c.Param("id"))))
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	f := Filter{
		Search:   c.QueryParam("search"),
		Date:     c.QueryParam("date"),
		DoctorID: CanonicalID(c.QueryParam("doctor_id")),
	}
	if s := c.QueryParam("status"); s != "" && s != "all" {
		st, err := ParseStatus(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = st
	}

	pg := pagination.FromContext(c)
	items := h.store.Appointments(f)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) AppointmentStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"counts": h.store.StatusCounts(),
		"dates":  h.store.Dates(),
	})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var n NewAppointment
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.PatientID = CanonicalID(string(n.PatientID))
	n.DoctorID = CanonicalID(string(n.DoctorID))
	return mutationResponse(c, http.StatusCreated, h.store.CreateAppointment(c.Request().Context(), n))
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	res := h.store.UpdateAppointmentStatus(c.Request().Context(), ID(c.Param("id")), Status(req.Status))
	return mutationResponse(c, http.StatusOK, res)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	return mutationResponse(c, http.StatusOK, h.store.DeleteAppointment(c.Request().Context(), ID(c.Param("id"))))
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	var req struct {
		DoctorID string `json:"doctorId"`
		Date     string `json:"date"`
		Time     string `json:"time"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == "" || req.Date == "" || req.Time == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doctorId, date and time are required")
	}
	check, err := h.store.CheckAvailability(c.Request().Context(), CanonicalID(req.DoctorID), req.Date, req.Time)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to check availability")
	}
	return c.JSON(http.StatusOK, check)
}

func (h *Handler) FixAppointments(c echo.Context) error {
	report, err := h.store.FixAppointments(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to fix appointments")
	}
	return c.JSON(http.StatusOK, report)
}
