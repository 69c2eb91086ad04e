package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

type createOrderRequest struct {
	Username    string `json:"username"`
	PackageCode string `json:"package_code"`
	Provider    string `json:"provider"`
}

func (h *Handlers) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "malformed"))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		AbortWithError(c, newValidationError("username", "required"))
		return
	}
	if strings.TrimSpace(req.PackageCode) == "" {
		AbortWithError(c, newValidationError("package_code", "required"))
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		AbortWithError(c, newValidationError("provider", "required"))
		return
	}
	if !h.limiter.Allow(req.Username) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	request, err := h.paymentSvc.CreateOrder(c.Request.Context(), paymentdomain.CreateOrderInput{
		Username:    req.Username,
		PackageCode: req.PackageCode,
		Provider:    req.Provider,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (h *Handlers) getOrder(c *gin.Context) {
	order, err := h.orderRepo.GetByOrderNo(c.Request.Context(), h.db, c.Param("order_no"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handlers) listOrders(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		AbortWithError(c, newValidationError("username", "required"))
		return
	}
	orders, err := h.orderRepo.ListByUsername(c.Request.Context(), h.db, username, 50)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handlers) getBalance(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))
	if username == "" {
		AbortWithError(c, newValidationError("username", "required"))
		return
	}
	balance, err := h.ledgerSvc.Balance(c.Request.Context(), username)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "balance": balance})
}
