package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/greenledger/internal/analytics/domain"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
)

func (s *Server) Dashboard(c *gin.Context) {
	resp, err := s.analyticsSvc.Dashboard(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Trends(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.analyticsSvc.Trends(c.Request.Context(), analyticsdomain.TrendRequest{
		Status: carbondomain.Status(strings.TrimSpace(query.Status)),
		Limit:  query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Report(c *gin.Context) {
	doc, err := s.analyticsSvc.Report(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Data(http.StatusOK, doc.ContentType, doc.Content)
}

func (s *Server) Impact(c *gin.Context) {
	resp, err := s.analyticsSvc.Impact(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
