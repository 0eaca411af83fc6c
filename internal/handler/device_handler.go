package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/service"
)

// DeviceHandler handles device management endpoints
type DeviceHandler struct {
	deviceService *service.DeviceService
}

func NewDeviceHandler(deviceService *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{deviceService: deviceService}
}

// List godoc
// @Summary List the user's devices with online status
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.DeviceResponse
// @Router /devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	userID, deviceID := caller(c)
	devices, err := h.deviceService.List(c.Request.Context(), userID, deviceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, devices)
}

// Stats godoc
// @Summary Device counts by presence and platform
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.DeviceStatsResponse
// @Router /devices/stats [get]
func (h *DeviceHandler) Stats(c *gin.Context) {
	userID, _ := caller(c)
	stats, err := h.deviceService.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Status godoc
// @Summary Online status of one device
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.DeviceStatusResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id}/status [get]
func (h *DeviceHandler) Status(c *gin.Context) {
	userID, _ := caller(c)
	status, err := h.deviceService.Status(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// Update godoc
// @Summary Rename a device
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param body body model.UpdateDeviceRequest true "New label"
// @Success 200 {object} model.Device
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id} [put]
func (h *DeviceHandler) Update(c *gin.Context) {
	var req model.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	userID, _ := caller(c)
	device, err := h.deviceService.UpdateLabel(userID, c.Param("id"), req.Label)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// Delete godoc
// @Summary Remove a device
// @Description Disconnects the device. Its clips are kept; use DELETE /devices/{id}/clips to remove them.
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id} [delete]
func (h *DeviceHandler) Delete(c *gin.Context) {
	userID, deviceID := caller(c)
	if err := h.deviceService.Remove(c.Request.Context(), userID, deviceID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Device removed"})
}

// Purge godoc
// @Summary Delete every clip that came from a device
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.PurgeResponse
// @Router /devices/{id}/clips [delete]
func (h *DeviceHandler) Purge(c *gin.Context) {
	userID, deviceID := caller(c)
	resp, err := h.deviceService.Purge(c.Request.Context(), userID, deviceID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
