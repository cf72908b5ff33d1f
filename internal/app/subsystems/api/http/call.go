package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/api/service"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
)

func (s *server) call(c *gin.Context) {
	var body service.CallBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.service.Call(c.Request.Context(), s.header(c), &body)
	if err != nil {
		s.error(c, err)
		return
	}

	for key, value := range res.Headers {
		c.Header(key, value)
	}

	c.JSON(res.Status.HTTP(), res)
}

// error renders a typed failure, the status code encodes the HTTP code.
func (s *server) error(c *gin.Context, err *t_api.Error) {
	c.JSON(err.Code().HTTP(), gin.H{
		"error": gin.H{
			"code":    int(err.Code()),
			"message": err.Error(),
		},
	})
}
