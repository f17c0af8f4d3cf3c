package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/greenledger/internal/notification/domain"
)

func (s *Server) ListNotifications(c *gin.Context) {
	var query notificationdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.notificationSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
