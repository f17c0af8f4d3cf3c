package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
)

// scopeFields accepts both the short scope keys and the column names used
// in responses and import mappings.
type scopeFields struct {
	Scope1          *decimal.Decimal `json:"scope1"`
	Scope2          *decimal.Decimal `json:"scope2"`
	Scope3          *decimal.Decimal `json:"scope3"`
	Scope1Emissions *decimal.Decimal `json:"scope1_emissions"`
	Scope2Emissions *decimal.Decimal `json:"scope2_emissions"`
	Scope3Emissions *decimal.Decimal `json:"scope3_emissions"`
}

func (f scopeFields) scopes() (s1, s2, s3 *decimal.Decimal) {
	return firstDecimal(f.Scope1, f.Scope1Emissions),
		firstDecimal(f.Scope2, f.Scope2Emissions),
		firstDecimal(f.Scope3, f.Scope3Emissions)
}

func firstDecimal(values ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

type createFootprintRequest struct {
	scopeFields
	ReportingPeriod string `json:"reporting_period"`
	Notes           string `json:"notes"`
}

func (s *Server) CreateFootprint(c *gin.Context) {
	var req createFootprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	s1, s2, s3 := req.scopes()
	resp, err := s.carbonSvc.Create(c.Request.Context(), carbondomain.CreateFootprintRequest{
		ReportingPeriod: strings.TrimSpace(req.ReportingPeriod),
		Scope1:          valueOrZero(s1),
		Scope2:          valueOrZero(s2),
		Scope3:          valueOrZero(s3),
		Notes:           req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListFootprints(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
		Period string `form:"period"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.carbonSvc.List(c.Request.Context(), carbondomain.ListFootprintRequest{
		Status:    carbondomain.Status(strings.TrimSpace(query.Status)),
		Period:    strings.TrimSpace(query.Period),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) LatestFootprint(c *gin.Context) {
	resp, err := s.carbonSvc.Latest(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFootprint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.carbonSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateFootprintRequest struct {
	scopeFields
	Notes *string `json:"notes"`
}

func (s *Server) UpdateFootprint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateFootprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	s1, s2, s3 := req.scopes()
	resp, err := s.carbonSvc.Update(c.Request.Context(), id, carbondomain.UpdateFootprintRequest{
		Scope1: s1,
		Scope2: s2,
		Scope3: s3,
		Notes:  req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteFootprint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.carbonSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) SubmitFootprint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.carbonSvc.Submit(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) VerifyFootprint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.carbonSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reopenFootprintRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ReopenFootprint(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req reopenFootprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.carbonSvc.Reopen(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AggregateFootprints(c *gin.Context) {
	resp, err := s.carbonSvc.CompanyAggregate(c.Request.Context(), strings.TrimSpace(c.Query("period")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) NetBalance(c *gin.Context) {
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	var window *carbondomain.Window
	if from != nil || to != nil {
		if from == nil || to == nil {
			AbortWithError(c, carbondomain.ErrInvalidWindow)
			return
		}
		window = &carbondomain.Window{From: *from, To: *to}
	}

	resp, err := s.carbonSvc.NetBalance(c.Request.Context(), window)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type defaultsRequest struct {
	Industry  string `json:"industry"`
	Employees int    `json:"employees"`
}

func (s *Server) CalculateDefaults(c *gin.Context) {
	var req defaultsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.carbonSvc.CalculateDefaults(c.Request.Context(), carbondomain.DefaultsRequest{
		Industry:  strings.TrimSpace(req.Industry),
		Employees: req.Employees,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
