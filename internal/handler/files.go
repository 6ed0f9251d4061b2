package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nammalwarsai/skill3-cie/internal/gateway"
	"github.com/nammalwarsai/skill3-cie/internal/middleware"
)

// multipartOverhead is the allowance for multipart headers and boundaries
// on top of the file size limit.
const multipartOverhead = 64 << 10

// FileHandler serves a patient's own files and download links.
type FileHandler struct {
	GW        *gateway.Gateway
	MaxUpload int64
}

func NewFileHandler(gw *gateway.Gateway, maxUpload int64) *FileHandler {
	return &FileHandler{GW: gw, MaxUpload: maxUpload}
}

type linkReq struct {
	Key string `json:"key"`
}

// Upload stores the multipart field "file" in the caller's folder.
func (h *FileHandler) Upload(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req := c.Request()
	if h.MaxUpload > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.MaxUpload+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return respondError(c, gateway.ErrFileTooLarge)
		}
		return badRequest(c, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "unreadable upload")
	}
	defer f.Close()

	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj, err := h.GW.UploadFile(req.Context(), p.Username, fh.Filename, contentType, f, fh.Size)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, obj)
}

// List returns the caller's own files.
func (h *FileHandler) List(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	files, err := h.GW.ListFiles(c.Request().Context(), p, p.Username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}

// Link issues a time-limited download URL for {"key": ...}.
func (h *FileHandler) Link(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req linkReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		return badRequest(c, "key required")
	}
	link, err := h.GW.IssueDownloadLink(c.Request().Context(), p, strings.TrimSpace(req.Key))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, link)
}
