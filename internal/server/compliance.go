package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
)

func (s *Server) SearchDatapoints(c *gin.Context) {
	mandatory, err := parseOptionalBool(c.Query("mandatory"))
	if err != nil {
		AbortWithError(c, newValidationError("mandatory", "invalid_mandatory", "invalid mandatory"))
		return
	}

	resp, err := s.complianceSvc.Search(c.Request.Context(), compliancedomain.SearchRequest{
		Query:         strings.TrimSpace(c.Query("q")),
		Standard:      strings.TrimSpace(c.Query("standard")),
		MandatoryOnly: mandatory != nil && *mandatory,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDatapoint(c *gin.Context) {
	resp, err := s.complianceSvc.GetDatapoint(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Assess(c *gin.Context) {
	var req compliancedomain.AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.DatapointCode = strings.TrimSpace(req.DatapointCode)

	resp, err := s.complianceSvc.Assess(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAssessments(c *gin.Context) {
	resp, err := s.complianceSvc.ListAssessments(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ComplianceProgress(c *gin.Context) {
	resp, err := s.complianceSvc.Progress(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PublishRegulatoryUpdate(c *gin.Context) {
	var req compliancedomain.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Title = strings.TrimSpace(req.Title)

	resp, err := s.complianceSvc.Publish(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRegulatoryUpdates(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.complianceSvc.ListUpdates(c.Request.Context(), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkRegulatoryUpdateRead(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.complianceSvc.MarkRead(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "read": true}})
}
