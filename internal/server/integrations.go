package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
)

func (s *Server) ListProviders(c *gin.Context) {
	resp, err := s.integrationSvc.ListProviders(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListConnections(c *gin.Context) {
	resp, err := s.integrationSvc.ListConnections(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetConnection(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.integrationSvc.GetConnection(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AuthorizeConnection(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("id")))
	resp, err := s.integrationSvc.Authorize(c.Request.Context(), provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type connectAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) ConnectAPIKey(c *gin.Context) {
	var req connectAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider := strings.ToLower(strings.TrimSpace(c.Param("id")))
	resp, err := s.integrationSvc.ConnectAPIKey(c.Request.Context(), provider, strings.TrimSpace(req.APIKey))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) OAuthCallback(c *gin.Context) {
	resp, err := s.integrationSvc.Callback(c.Request.Context(), integrationdomain.CallbackRequest{
		Provider: strings.ToLower(strings.TrimSpace(c.Query("provider"))),
		Code:     strings.TrimSpace(c.Query("code")),
		State:    strings.TrimSpace(c.Query("state")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RefreshConnection(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.integrationSvc.Refresh(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SyncConnection(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.integrationSvc.Sync(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}

func (s *Server) DisconnectConnection(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.integrationSvc.Disconnect(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
