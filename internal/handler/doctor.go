package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nammalwarsai/skill3-cie/internal/gateway"
	"github.com/nammalwarsai/skill3-cie/internal/middleware"
)

// DoctorHandler serves the doctor views: the patient list and any
// patient's files.
type DoctorHandler struct {
	GW *gateway.Gateway
}

func NewDoctorHandler(gw *gateway.Gateway) *DoctorHandler { return &DoctorHandler{GW: gw} }

func (h *DoctorHandler) Patients(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	patients, err := h.GW.ListAllPatients(c.Request().Context(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"patients": patients})
}

func (h *DoctorHandler) PatientFiles(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	files, err := h.GW.ListFiles(c.Request().Context(), p, c.Param("username"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}
