package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"roundlottery/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// PublicConfig is served to clients so they know where to send entries.
type PublicConfig struct {
	TokenAddress      string `json:"token_address"`
	CollectionAddress string `json:"collection_address"`
}

// HTTPHandler holds the dependencies for the HTTP handlers, like the lottery service.
type HTTPHandler struct {
	service *services.LotteryService
	auth    *AdminAuth
	config  PublicConfig
	metrics http.Handler
}

// NewHTTPHandler creates a new HTTPHandler. metrics may be nil.
func NewHTTPHandler(service *services.LotteryService, auth *AdminAuth, config PublicConfig, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		auth:    auth,
		config:  config,
		metrics: metrics,
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/config", h.GetConfig)
		api.GET("/current-round", h.GetCurrentRound)
		api.GET("/history", h.GetHistory)
		api.POST("/participate", h.Participate)
		api.POST("/admin/login", h.AdminLogin)
	}

	admin := router.Group("/api/admin", h.auth.AdminOnly())
	{
		admin.POST("/update-prize", h.UpdatePrize)
		admin.POST("/rounds/:id/advance", h.AdvanceRound)
		admin.POST("/rounds/:id/retry-payout", h.RetryPayout)
	}

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// respondError maps a service error to its HTTP status. Internal causes are
// logged, never returned.
func respondError(c *gin.Context, err error) {
	code := services.CodeOf(err)
	status := http.StatusInternalServerError
	message := "internal error"

	switch code {
	case services.CodeMissingFields, services.CodeInvalidAmount, services.CodeInvalidField:
		status = http.StatusBadRequest
	case services.CodeRoundNotFound:
		status = http.StatusNotFound
	case services.CodeRoundNotActive, services.CodeRoundNotExpired, services.CodeAlreadyParticipated,
		services.CodeDuplicateSubmission, services.CodePayoutNotRetryable, services.CodePayoutPending:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	} else if se := (*services.Error)(nil); errors.As(err, &se) {
		message = se.Message
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

func roundIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.CodeMissingFields, "message": "invalid round id"})
		return 0, false
	}
	return id, true
}

// GetConfig returns the public token configuration.
func (h *HTTPHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.config)
}

// GetCurrentRound returns the active round, creating one if needed.
func (h *HTTPHandler) GetCurrentRound(c *gin.Context) {
	view, err := h.service.CurrentRound(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetHistory lists completed rounds, most recent first.
func (h *HTTPHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit > 100 {
		limit = 100
	}
	rounds, err := h.service.ListCompletedRounds(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rounds)
}

type participateRequest struct {
	RoundID     uint64 `json:"round_id"`
	UserAddress string `json:"user_address"`
	TxHash      string `json:"tx_hash"`
}

// Participate registers an entry into the active round.
func (h *HTTPHandler) Participate(c *gin.Context) {
	var req participateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.ErrMissingFields)
		return
	}
	result, err := h.service.Register(c.Request.Context(), req.RoundID, req.UserAddress, req.TxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": result.ParticipantID, "round": result.Round})
}

// AdminLogin exchanges the operator credentials for a bearer token.
func (h *HTTPHandler) AdminLogin(c *gin.Context) {
	var req struct {
		User string `json:"user"`
		Pass string `json:"pass"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.CodeMissingFields, "message": "user and pass are required"})
		return
	}
	token, err := h.auth.Login(req.User, req.Pass)
	if err != nil {
		logger.Warningf("Rejected admin login for %q from %s", req.User, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// UpdatePrize tops up the active round. amount is added to both the prize and
// the bonus totals unless bonus is given explicitly.
func (h *HTTPHandler) UpdatePrize(c *gin.Context) {
	var req struct {
		Amount *int64 `json:"amount"`
		Bonus  *int64 `json:"bonus"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil {
		respondError(c, services.ErrInvalidAmount)
		return
	}
	bonus := *req.Amount
	if req.Bonus != nil {
		bonus = *req.Bonus
	}

	ctx := c.Request.Context()
	round, err := h.service.GetOrCreateActiveRound(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	updated, err := h.service.AdjustPrizePool(ctx, round.ID, *req.Amount, bonus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "round": updated})
}

// AdvanceRound lets an operator trigger the draw of an expired round without
// waiting for the next scheduler tick.
func (h *HTTPHandler) AdvanceRound(c *gin.Context) {
	id, ok := roundIDParam(c)
	if !ok {
		return
	}
	result, err := h.service.AdvanceRound(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RetryPayout re-sends a failed or unconfirmed payout.
func (h *HTTPHandler) RetryPayout(c *gin.Context) {
	id, ok := roundIDParam(c)
	if !ok {
		return
	}
	round, err := h.service.RetryPayout(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "round": round})
}
