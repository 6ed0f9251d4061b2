package handler

import (
	"errors"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nammalwarsai/skill3-cie/internal/store"
	"github.com/nammalwarsai/skill3-cie/internal/store/memstore"
)

// BlobHandler serves signed download links issued by the in-memory blob
// store. It is only mounted when BLOB_BACKEND=memory; with S3 the links
// point at the bucket directly.
type BlobHandler struct {
	Blobs *memstore.Blobs
}

// Download checks the link signature and streams the object as an
// attachment.
func (h *BlobHandler) Download(c echo.Context) error {
	key := c.QueryParam("key")
	if err := h.Blobs.Verify(key, c.QueryParam("expires"), c.QueryParam("sig")); err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid or expired link"})
	}
	r, contentType, err := h.Blobs.Open(key)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	}
	if err != nil {
		return respondError(c, err)
	}
	disp := mime.FormatMediaType("attachment", map[string]string{"filename": store.FileNameFromKey(key)})
	if disp != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, disp)
	}
	c.Response().Header().Set(echo.HeaderXContentTypeOptions, "nosniff")
	return c.Stream(http.StatusOK, contentType, r)
}
