package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/service"
)

// Room for multipart boundaries and headers on top of the file itself
const multipartOverhead = 1 << 20

// UploadHandler turns multipart uploads into image and file clips
type UploadHandler struct {
	clipboardService *service.ClipboardService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(clipboardService *service.ClipboardService) *UploadHandler {
	return &UploadHandler{clipboardService: clipboardService}
}

// Upload godoc
// @Summary Upload an image or file clip
// @Description Stores the bytes in object storage and adds a clip that references them. image/* becomes an image clip, anything else a file clip.
// @Tags Clipboard
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File to upload"
// @Success 201 {object} model.AddClipResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 413 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /clipboard/upload [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	maxSize := h.clipboardService.MaxContentSize()
	if maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if bodyTooLarge(err) {
			respondError(c, model.ErrPayloadTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid_request", Message: "File is required"})
		return
	}
	defer file.Close()

	userID, deviceID := caller(c)
	item, err := h.clipboardService.Upload(c.Request.Context(), service.UploadInput{
		UserID:   userID,
		DeviceID: deviceID,
		Body:     file,
		Size:     header.Size,
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.AddClipResponse{
		ID:        item.ID,
		Checksum:  item.Checksum,
		Size:      item.Size,
		CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
	})
}
