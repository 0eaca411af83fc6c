package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/clipsync/internal/middleware"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/service"
	"github.com/quocanhngo/clipsync/pkg/auth"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// PublicKey godoc
// @Summary Get the server RSA public key used for session key exchange
// @Tags Auth
// @Produce json
// @Success 200 {object} model.PublicKeyResponse
// @Router /auth/public-key [get]
func (h *AuthHandler) PublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, h.authService.PublicKey())
}

// Register godoc
// @Summary Register a new user
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RegisterRequest true "Register request"
// @Success 201 {object} model.UserResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.authService.Register(req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Login godoc
// @Summary Login with username and password from a device
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.LoginRequest true "Login request"
// @Success 200 {object} model.LoginResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.authService.Login(req, c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Refresh godoc
// @Summary Exchange a refresh token for a new token pair
// @Description The presented refresh token is revoked.
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RefreshRequest true "Refresh request"
// @Success 200 {object} model.TokenResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logout godoc
// @Summary Revoke the current tokens and drop the session key
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.LogoutRequest false "Optional refresh token to revoke"
// @Success 200 {object} model.SuccessResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req model.LogoutRequest
	// body is optional
	_ = c.ShouldBindJSON(&req)

	claims := c.MustGet(middleware.ContextClaims).(*auth.Claims)
	accessToken := c.GetString(middleware.ContextAccessToken)
	if err := h.authService.Logout(c.Request.Context(), claims, accessToken, req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Logged out"})
}

// KeyExchange godoc
// @Summary Install an AES session key wrapped with the server public key
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.KeyExchangeRequest true "RSA-OAEP wrapped session key, base64"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/key-exchange [post]
func (h *AuthHandler) KeyExchange(c *gin.Context) {
	var req model.KeyExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	userID, _ := caller(c)
	if err := h.authService.ExchangeSessionKey(userID, req.EncryptedKey); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Session key established"})
}

// Profile godoc
// @Summary Get current user profile
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.UserResponse
// @Router /auth/profile [get]
func (h *AuthHandler) Profile(c *gin.Context) {
	userID, _ := caller(c)
	resp, err := h.authService.Profile(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
