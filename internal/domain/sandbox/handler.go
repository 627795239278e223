package sandbox

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"leadwire/internal/common"
	"leadwire/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the sandbox backend.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Login handles POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pair, err := h.service.Login(c.Request.Context(), req.Email)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	access, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"accessToken": access})
}

// Logout handles POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.service.Logout(c.Request.Context(), req.RefreshToken)
	common.Success(c, http.StatusOK, gin.H{"loggedOut": true})
}

// VAPIDPublicKey handles GET /notifications/vapid-public-key
func (h *Handler) VAPIDPublicKey(c *gin.Context) {
	key, err := h.service.VAPIDPublicKey()
	if err != nil {
		slog.Error("vapid key requested but not configured")
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"publicKey": key})
}

// Subscribe handles POST /notifications/subscribe
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid subscription: "+err.Error())
		return
	}
	ok, err := h.service.Subscribe(c.Request.Context(), c.GetString(middleware.UserIDKey), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"subscribed": ok})
}

// Unsubscribe handles DELETE /notifications/unsubscribe. The body is optional.
func (h *Handler) Unsubscribe(c *gin.Context) {
	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ok, err := h.service.Unsubscribe(c.Request.Context(), c.GetString(middleware.UserIDKey), req.Endpoint)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"unsubscribed": ok})
}

// SendTest handles POST /notifications/test
func (h *Handler) SendTest(c *gin.Context) {
	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	n, err := h.service.SendTest(c.Request.Context(), c.GetString(middleware.UserIDKey), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusAccepted, gin.H{"queued": true, "deliveries": n})
}

// RegisterRoutes registers the public routes on public and the bearer
// protected routes on protected.
func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.POST("/auth/login", h.Login)
	public.POST("/auth/refresh", h.Refresh)
	public.POST("/auth/logout", h.Logout)
	public.GET("/notifications/vapid-public-key", h.VAPIDPublicKey)

	protected.POST("/notifications/subscribe", h.Subscribe)
	protected.DELETE("/notifications/unsubscribe", h.Unsubscribe)
	protected.POST("/notifications/test", h.SendTest)
}
