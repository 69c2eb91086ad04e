package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// healthz reports liveness plus a database ping, so a wedged sqlite
// file takes the instance out of rotation instead of black-holing
// callbacks.
func (h *Handlers) healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.Error("health_check_failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnhealthy)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
