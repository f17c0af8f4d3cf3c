package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	advisordomain "github.com/smallbiznis/greenledger/internal/advisor/domain"
)

func (s *Server) ValidateEmissions(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.advisorSvc.ValidateEmissions(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Benchmark(c *gin.Context) {
	resp, err := s.advisorSvc.Benchmark(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ActionPlan(c *gin.Context) {
	resp, err := s.advisorSvc.ActionPlan(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type suggestFactorsRequest struct {
	Description string `json:"description"`
	Industry    string `json:"industry"`
}

func (s *Server) SuggestFactors(c *gin.Context) {
	var req suggestFactorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.advisorSvc.SuggestFactors(c.Request.Context(), advisordomain.SuggestFactorsRequest{
		Description: strings.TrimSpace(req.Description),
		Industry:    strings.TrimSpace(req.Industry),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
