package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/greenledger/internal/authorization"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.identitySvc.Register(c.Request.Context(), identitydomain.RegisterRequest{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.identitySvc.Login(c.Request.Context(), identitydomain.LoginRequest{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) Me(c *gin.Context) {
	user, err := s.identitySvc.Me(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) UpdatePreferences(c *gin.Context) {
	var prefs map[string]any
	if err := c.ShouldBindJSON(&prefs); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.identitySvc.UpdatePreferences(c.Request.Context(), prefs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) Capabilities(c *gin.Context) {
	caps, err := s.identitySvc.Capabilities(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": caps})
}

type onboardingRequest struct {
	CompanyName  string   `json:"company_name"`
	Industry     string   `json:"industry"`
	Employees    *int     `json:"employees"`
	Goals        []string `json:"goals"`
	Requirements []string `json:"requirements"`
	Challenges   []string `json:"challenges"`
}

func (s *Server) CompleteOnboarding(c *gin.Context) {
	var req onboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.identitySvc.CompleteOnboarding(c.Request.Context(), identitydomain.OnboardingRequest{
		CompanyName:  strings.TrimSpace(req.CompanyName),
		Industry:     strings.TrimSpace(req.Industry),
		Employees:    req.Employees,
		Goals:        req.Goals,
		Requirements: req.Requirements,
		Challenges:   req.Challenges,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) SetRole(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.identitySvc.SetRole(c.Request.Context(), userID, authorization.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) GetCompany(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	company, err := s.identitySvc.GetCompany(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": company})
}

func (s *Server) DeleteCompany(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.identitySvc.DeleteCompany(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
