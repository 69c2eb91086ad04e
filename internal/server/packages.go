package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const packageCacheKey = "enabled"

// listPackages serves the catalog from a short TTL cache; the list
// changes at seed or admin cadence, not request cadence.
func (h *Handlers) listPackages(c *gin.Context) {
	if packages, ok := h.pkgCache.Get(packageCacheKey); ok {
		c.JSON(http.StatusOK, gin.H{"packages": packages})
		return
	}

	packages, err := h.catalogRepo.ListEnabled(c.Request.Context(), h.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	h.pkgCache.Put(packageCacheKey, packages)
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}
