package appointment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/apperror"
	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/pkg/pagination"
)

type Handler struct {
	svc *Manager
}

func NewHandler(svc *Manager) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Booking – customers, or system on behalf of a case
	api.POST("/appointments", h.CreateAppointment,
		auth.RequireRole(auth.RoleAdmin, auth.RoleCustomer, auth.RoleSystem))

	// Staff binding – managers
	staffGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleManager))
	staffGroup.PUT("/appointments/:id/staff", h.AssignStaff)
	staffGroup.DELETE("/appointments/:id/staff", h.UnassignStaff)

	// Lifecycle actions on own appointments – staff
	ownGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleStaff))
	ownGroup.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	ownGroup.POST("/appointments/:id/checkin", h.CheckinAppointment)
	ownGroup.POST("/appointments/:id/notes", h.AddNote)

	// System status override
	api.PATCH("/appointments/:id/status", h.UpdateStatus,
		auth.RequireRole(auth.RoleAdmin, auth.RoleSystem))

	// Role-scoped reads and cancellation
	readGroup := api.Group("", auth.RequireRole(
		auth.RoleAdmin, auth.RoleManager, auth.RoleStaff, auth.RoleCustomer))
	readGroup.GET("/appointments", h.SearchAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.POST("/appointments/:id/cancel", h.CancelAppointment)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{ID: auth.UserIDFromContext(ctx), Role: auth.PrimaryRole(ctx)}
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Create(c.Request().Context(), actorFrom(c), req)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) AssignStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		StaffIDs []uuid.UUID `json:"staff_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AssignStaff(c.Request().Context(), actorFrom(c), id, body.StaffIDs)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UnassignStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.UnassignStaff(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		SlotID  uuid.UUID `json:"slot_id"`
		StaffID uuid.UUID `json:"staff_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Confirm(c.Request().Context(), actorFrom(c), id, body.SlotID, body.StaffID)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CheckinAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		StaffID uuid.UUID `json:"staff_id"`
		Note    string    `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Checkin(c.Request().Context(), actorFrom(c), id, body.StaffID, body.Note)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) AddNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.AddNote(c.Request().Context(), actorFrom(c), id, body.Text)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status       Status     `json:"status"`
		TechnicianID *uuid.UUID `json:"technician_id,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), actorFrom(c), id, body.Status, body.TechnicianID)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Cancel(c.Request().Context(), actorFrom(c), id, body.Reason)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SearchAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if status := c.QueryParam("status"); status != "" {
		s := Status(status)
		if !validStatuses[s] {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = &s
	}
	if serviceID := c.QueryParam("service_id"); serviceID != "" {
		sid, err := uuid.Parse(serviceID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid service_id")
		}
		f.ServiceID = &sid
	}
	// Scoped roles have these overwritten by the manager; only managers and
	// admins see them take effect.
	if customerID := c.QueryParam("customer_id"); customerID != "" {
		f.CustomerID = &customerID
	}
	if staffID := c.QueryParam("staff_id"); staffID != "" {
		sid, err := uuid.Parse(staffID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid staff_id")
		}
		f.StaffID = &sid
	}
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
		f.From = &t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
		f.To = &t
	}
	items, total, err := h.svc.Search(c.Request().Context(), actorFrom(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), apperror.Message(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
