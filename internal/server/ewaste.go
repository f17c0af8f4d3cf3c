package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
)

type createEwasteRequest struct {
	DeviceType   string          `json:"device_type"`
	Quantity     int             `json:"quantity"`
	WeightKg     decimal.Decimal `json:"weight_kg"`
	DonationDate string          `json:"donation_date"`
	Recipient    string          `json:"recipient"`
	Notes        string          `json:"notes"`
}

func (s *Server) CreateEwaste(c *gin.Context) {
	var req createEwasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	donated, err := parseOptionalTime(req.DonationDate, false)
	if err != nil || donated == nil {
		AbortWithError(c, ewastedomain.ErrInvalidDate)
		return
	}

	resp, err := s.ewasteSvc.Create(c.Request.Context(), ewastedomain.CreateEntryRequest{
		DeviceType:   ewastedomain.DeviceType(strings.ToLower(strings.TrimSpace(req.DeviceType))),
		Quantity:     req.Quantity,
		WeightKg:     req.WeightKg,
		DonationDate: *donated,
		Recipient:    strings.TrimSpace(req.Recipient),
		Notes:        req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListEwaste(c *gin.Context) {
	var query struct {
		pagination.Pagination
		DeviceType string `form:"device_type"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ewasteSvc.List(c.Request.Context(), ewastedomain.ListEntryRequest{
		DeviceType: ewastedomain.DeviceType(strings.TrimSpace(query.DeviceType)),
		Status:     ewastedomain.Status(strings.TrimSpace(query.Status)),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetEwaste(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ewasteSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateEwasteRequest struct {
	DeviceType   *string          `json:"device_type"`
	Quantity     *int             `json:"quantity"`
	WeightKg     *decimal.Decimal `json:"weight_kg"`
	DonationDate *string          `json:"donation_date"`
	Recipient    *string          `json:"recipient"`
	Notes        *string          `json:"notes"`
}

func (s *Server) UpdateEwaste(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateEwasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := ewastedomain.UpdateEntryRequest{
		Quantity:  req.Quantity,
		WeightKg:  req.WeightKg,
		Recipient: req.Recipient,
		Notes:     req.Notes,
	}
	if req.DeviceType != nil {
		device := ewastedomain.DeviceType(strings.ToLower(strings.TrimSpace(*req.DeviceType)))
		update.DeviceType = &device
	}
	if req.DonationDate != nil {
		var donated *time.Time
		donated, err = parseOptionalTime(*req.DonationDate, false)
		if err != nil || donated == nil {
			AbortWithError(c, ewastedomain.ErrInvalidDate)
			return
		}
		update.DonationDate = donated
	}

	resp, err := s.ewasteSvc.Update(c.Request.Context(), id, update)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteEwaste(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.ewasteSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ewasteStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) SetEwasteStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req ewasteStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ewasteSvc.SetStatus(c.Request.Context(), id, ewastedomain.Status(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EwasteSummary(c *gin.Context) {
	resp, err := s.ewasteSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type ewasteImpactRequest struct {
	DeviceType string          `json:"device_type"`
	Quantity   int             `json:"quantity"`
	WeightKg   decimal.Decimal `json:"weight_kg"`
}

func (s *Server) CalculateEwasteImpact(c *gin.Context) {
	var req ewasteImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	device := ewastedomain.DeviceType(strings.ToLower(strings.TrimSpace(req.DeviceType)))
	resp, err := s.ewasteSvc.CalculateImpact(device, req.Quantity, req.WeightKg)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
