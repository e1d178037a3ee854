package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"carte-api/internal/auth"
	"carte-api/internal/domain"
	"carte-api/internal/metrics"
	"carte-api/internal/service"
)

// Handler wires HTTP routes to the account service.
type Handler struct {
	users   service.UserService
	tokens  auth.TokenParser
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewHandler builds a Handler. metrics may be nil to disable instrumentation.
func NewHandler(users service.UserService, tokens auth.TokenParser, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		users:   users,
		tokens:  tokens,
		logger:  logger,
		metrics: m,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(), h.requestLogger())
	if h.metrics != nil {
		router.Use(h.instrument())
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authGroup := api.Group("/auth")
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.POST("/unlock/:username", h.requireAuth(), requireRole(domain.RoleAdmin), h.unlock)

		users := api.Group("/users", h.requireAuth())
		users.GET("", h.listUsers)
		users.GET("/:id", h.getUser)
		users.GET("/username/:username", h.getUserByUsername)
		users.PUT("/:id", h.updateUser)
		users.DELETE("/:id", requireRole(domain.RoleAdmin), h.deleteUser)
	}
}

type registerRequest struct {
	Username  string `json:"username" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateUserRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Password  *string `json:"password"`
}

type AuthResponse struct {
	Token    string      `json:"token"`
	Type     string      `json:"type"`
	ID       int64       `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
}

type UserResponse struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      domain.Role `json:"role"`
	Enabled   bool        `json:"enabled"`
	Locked    bool        `json:"locked"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

const requestIDHeader = "X-Request-ID"

type messageResponse struct {
	Message string `json:"message"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()
		h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		}).Debug("request served")
	}
}

func (h *Handler) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, authToResponse(res))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			// login failures are all 401, the message still names the cause
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, authToResponse(res))
}

func (h *Handler) unlock(c *gin.Context) {
	if err := h.users.Unlock(c.Request.Context(), c.Param("username")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "user unlocked successfully"})
}

func (h *Handler) listUsers(c *gin.Context) {
	accounts, err := h.users.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]UserResponse, len(accounts))
	for i := range accounts {
		resp[i] = userToResponse(&accounts[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	account, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(account))
}

func (h *Handler) getUserByUsername(c *gin.Context) {
	account, err := h.users.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(account))
}

func (h *Handler) updateUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	caller := currentAccount(c)
	if caller.ID != id && caller.Role != domain.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot modify another user"})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.users.UpdateProfile(c.Request.Context(), id, service.UpdateInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(account))
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "user deleted successfully"})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.WithField("path", c.Request.URL.Path).Errorf("request failed: %v", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateUsername), errors.Is(err, service.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func authToResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:    res.Token,
		Type:     "Bearer",
		ID:       res.Account.ID,
		Username: res.Account.Username,
		Email:    res.Account.Email,
		Role:     res.Account.Role,
	}
}

func userToResponse(account *domain.Account) UserResponse {
	return UserResponse{
		ID:        account.ID,
		Username:  account.Username,
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		Role:      account.Role,
		Enabled:   account.Enabled,
		Locked:    account.Locked,
		CreatedAt: account.CreatedAt.Format(time.RFC3339),
		UpdatedAt: account.UpdatedAt.Format(time.RFC3339),
	}
}
