package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *server) statusLock(c *gin.Context) {
	res, err := s.service.StatusLock(c.Request.Context(), s.header(c), c.Param("key"))
	if err != nil {
		s.error(c, err)
		return
	}

	c.JSON(res.Status.HTTP(), res.Lock)
}

func (s *server) releaseLock(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner must be provided"})
		return
	}

	res, err := s.service.ReleaseLock(c.Request.Context(), s.header(c), c.Param("key"), owner)
	if err != nil {
		s.error(c, err)
		return
	}

	c.JSON(res.Status.HTTP(), gin.H{"released": res.Released})
}

func (s *server) forceReleaseLock(c *gin.Context) {
	res, err := s.service.ForceReleaseLock(c.Request.Context(), s.header(c), c.Param("key"))
	if err != nil {
		s.error(c, err)
		return
	}

	c.JSON(res.Status.HTTP(), gin.H{"released": res.Released})
}
