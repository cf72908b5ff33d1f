package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/api/service"
)

func (s *server) statusOperation(c *gin.Context) {
	res, err := s.service.StatusOperation(c.Request.Context(), s.header(c), c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}

	c.JSON(res.Status.HTTP(), res.Operation)
}

func (s *server) listOperations(c *gin.Context) {
	var params service.ListOperationsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.service.ListOperations(c.Request.Context(), s.header(c), &params)
	if err != nil {
		s.error(c, err)
		return
	}

	c.JSON(res.Status.HTTP(), gin.H{
		"cursor":     res.Cursor,
		"operations": res.Operations,
	})
}

func (s *server) cancelOperation(c *gin.Context) {
	res, err := s.service.CancelOperation(c.Request.Context(), s.header(c), c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}

	c.JSON(res.Status.HTTP(), res.Operation)
}
