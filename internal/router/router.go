// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/nammalwarsai/skill3-cie/internal/handler"
	"github.com/nammalwarsai/skill3-cie/internal/middleware"
	"github.com/nammalwarsai/skill3-cie/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the credential endpoints under /v1/auth, behind
// limit, and the authenticated /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/doctor/login", a.DoctorLogin)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RolePatient, model.RoleDoctor))
	auth.GET("/me", a.Me)
}

// RegisterFiles registers the patient file endpoints. Download links may be
// requested by patients for their own keys and by doctors for any key.
func RegisterFiles(e *echo.Echo, f *handler.FileHandler, jwtSecret string) {
	g := e.Group("/v1/files", middleware.JWTAuth(jwtSecret))
	g.POST("", f.Upload, middleware.RequireRole(model.RolePatient))
	g.GET("", f.List, middleware.RequireRole(model.RolePatient))
	g.POST("/link", f.Link, middleware.RequireRole(model.RolePatient, model.RoleDoctor))
}

// RegisterDoctor registers the doctor-only views.
func RegisterDoctor(e *echo.Echo, d *handler.DoctorHandler, jwtSecret string) {
	g := e.Group("/v1/doctor", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleDoctor))
	g.GET("/patients", d.Patients)
	g.GET("/patients/:username/files", d.PatientFiles)
}

// RegisterBlobs mounts the signed download endpoint of the in-memory blob
// store. The signature in the query authorizes the request.
func RegisterBlobs(e *echo.Echo, b *handler.BlobHandler) {
	e.GET("/v1/blobs", b.Download)
}
