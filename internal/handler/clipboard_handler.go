package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/service"
)

// Room for JSON quoting and for base64 of sealed payloads on top of the item cap
const jsonOverhead = 64 << 10

// ClipboardHandler handles clipboard endpoints
type ClipboardHandler struct {
	clipboardService *service.ClipboardService
}

func NewClipboardHandler(clipboardService *service.ClipboardService) *ClipboardHandler {
	return &ClipboardHandler{clipboardService: clipboardService}
}

// Add godoc
// @Summary Add a clipboard item
// @Description Send either plain content or an AES payload sealed with the session key.
// @Tags Clipboard
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.AddClipRequest true "Clip"
// @Success 201 {object} model.AddClipResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 413 {object} model.ErrorResponse
// @Router /clipboard [post]
func (h *ClipboardHandler) Add(c *gin.Context) {
	if maxSize := h.clipboardService.MaxContentSize(); maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*maxSize+jsonOverhead)
	}

	var req model.AddClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if bodyTooLarge(err) {
			respondError(c, model.ErrPayloadTooLarge)
			return
		}
		badRequest(c, err)
		return
	}

	userID, deviceID := caller(c)
	item, err := h.clipboardService.Add(c.Request.Context(), service.AddClipInput{
		UserID:      userID,
		DeviceID:    deviceID,
		Content:     req.Content,
		ContentType: req.ContentType,
		Encrypted:   req.Encrypted,
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

// List godoc
// @Summary List clipboard history, newest first
// @Tags Clipboard
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page (max 100)" default(20)
// @Param encrypted query bool false "Seal contents with the session key"
// @Success 200 {object} model.ClipboardPage
// @Router /clipboard [get]
func (h *ClipboardHandler) List(c *gin.Context) {
	var q model.ListClipsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	userID, _ := caller(c)
	page, err := h.clipboardService.List(c.Request.Context(), userID, q.Page, q.PageSize, q.Encrypted)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// Latest godoc
// @Summary Get the newest clipboard item
// @Tags Clipboard
// @Produce json
// @Security BearerAuth
// @Param encrypted query bool false "Seal content with the session key"
// @Success 200 {object} model.ClipView
// @Failure 404 {object} model.ErrorResponse
// @Router /clipboard/latest [get]
func (h *ClipboardHandler) Latest(c *gin.Context) {
	userID, _ := caller(c)
	view, err := h.clipboardService.Latest(c.Request.Context(), userID, c.Query("encrypted") == "true")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Stats godoc
// @Summary Clipboard usage summary
// @Tags Clipboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.ClipboardStats
// @Router /clipboard/stats [get]
func (h *ClipboardHandler) Stats(c *gin.Context) {
	userID, _ := caller(c)
	stats, err := h.clipboardService.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Get godoc
// @Summary Get one clipboard item
// @Tags Clipboard
// @Produce json
// @Security BearerAuth
// @Param id path string true "Clip ID"
// @Success 200 {object} model.ClipboardItem
// @Failure 404 {object} model.ErrorResponse
// @Router /clipboard/{id} [get]
func (h *ClipboardHandler) Get(c *gin.Context) {
	id, ok := clipID(c)
	if !ok {
		return
	}

	userID, _ := caller(c)
	item, err := h.clipboardService.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// Delete godoc
// @Summary Delete one clipboard item
// @Tags Clipboard
// @Produce json
// @Security BearerAuth
// @Param id path string true "Clip ID"
// @Success 200 {object} model.SuccessResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /clipboard/{id} [delete]
func (h *ClipboardHandler) Delete(c *gin.Context) {
	id, ok := clipID(c)
	if !ok {
		return
	}

	userID, deviceID := caller(c)
	if err := h.clipboardService.Delete(c.Request.Context(), userID, deviceID, id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Clip deleted"})
}

// Clear godoc
// @Summary Delete the whole clipboard history
// @Tags Clipboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.ClearResponse
// @Router /clipboard [delete]
func (h *ClipboardHandler) Clear(c *gin.Context) {
	userID, deviceID := caller(c)
	n, err := h.clipboardService.Clear(c.Request.Context(), userID, deviceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.ClearResponse{Removed: n})
}

func clipID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid_request", Message: "Invalid clip ID"})
		return uuid.Nil, false
	}
	return id, true
}
