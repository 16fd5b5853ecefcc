package wallet

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for wallet reads.
type Handler struct {
	wallets *Wallets
}

// NewHandler creates a new wallet handler.
func NewHandler(wallets *Wallets) *Handler {
	return &Handler{wallets: wallets}
}

// RegisterProtectedRoutes sets up auth-required wallet routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/wallet", h.GetBalance)
	r.GET("/wallet/holds", h.ListHolds)
}

// GetBalance handles GET /v1/wallet
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.GetString("authUserID")

	bal, err := h.wallets.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// ListHolds handles GET /v1/wallet/holds
func (h *Handler) ListHolds(c *gin.Context) {
	userID := c.GetString("authUserID")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	holds, err := h.wallets.HoldsByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"holds": holds,
		"count": len(holds),
	})
}
