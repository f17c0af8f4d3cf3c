package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
)

func (s *Server) ListOffsets(c *gin.Context) {
	minPrice, err := parseOptionalDecimal(c.Query("min_price"))
	if err != nil {
		AbortWithError(c, newValidationError("min_price", "invalid_min_price", "invalid min_price"))
		return
	}
	maxPrice, err := parseOptionalDecimal(c.Query("max_price"))
	if err != nil {
		AbortWithError(c, newValidationError("max_price", "invalid_max_price", "invalid max_price"))
		return
	}
	inStock, err := parseOptionalBool(c.Query("in_stock"))
	if err != nil {
		AbortWithError(c, newValidationError("in_stock", "invalid_in_stock", "invalid in_stock"))
		return
	}

	filter := offsetdomain.OffsetFilter{
		Query:                strings.TrimSpace(c.Query("q")),
		Category:             strings.TrimSpace(c.Query("category")),
		VerificationStandard: strings.TrimSpace(c.Query("verification_standard")),
		MinPrice:             minPrice,
		MaxPrice:             maxPrice,
		InStock:              inStock != nil && *inStock,
	}

	resp, err := s.offsetSvc.ListOffsets(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOffset(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.offsetSvc.GetOffset(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createOffsetRequest struct {
	Name                 string           `json:"name"`
	OffsetType           string           `json:"offset_type"`
	Description          string           `json:"description"`
	Category             string           `json:"category"`
	VerificationStandard string           `json:"verification_standard"`
	PricePerTonne        decimal.Decimal  `json:"price_per_tonne"`
	CO2OffsetPerUnit     *decimal.Decimal `json:"co2_offset_per_unit"`
	AvailableQuantity    int64            `json:"available_quantity"`
}

func (s *Server) CreateOffset(c *gin.Context) {
	var req createOffsetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.offsetSvc.CreateOffset(c.Request.Context(), offsetdomain.OffsetInput{
		Name:                 strings.TrimSpace(req.Name),
		OffsetType:           strings.TrimSpace(req.OffsetType),
		Description:          req.Description,
		Category:             strings.TrimSpace(req.Category),
		VerificationStandard: strings.TrimSpace(req.VerificationStandard),
		PricePerTonne:        req.PricePerTonne,
		CO2OffsetPerUnit:     req.CO2OffsetPerUnit,
		AvailableQuantity:    req.AvailableQuantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type restockRequest struct {
	Delta int64 `json:"delta"`
}

func (s *Server) RestockOffset(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.offsetSvc.Restock(c.Request.Context(), id, req.Delta)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reserveRequest struct {
	OffsetID string `json:"offset_id"`
	Quantity int64  `json:"quantity"`
}

func (s *Server) ReserveOffset(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	offsetID, err := uuid.Parse(strings.TrimSpace(req.OffsetID))
	if err != nil {
		AbortWithError(c, newValidationError("offset_id", "invalid_offset_id", "invalid offset_id"))
		return
	}

	resp, err := s.offsetSvc.Reserve(c.Request.Context(), offsetID, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPurchases(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.offsetSvc.ListPurchases(c.Request.Context(), offsetdomain.ListPurchaseRequest{
		Status:    offsetdomain.PurchaseStatus(strings.TrimSpace(query.Status)),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPurchase(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.offsetSvc.GetPurchase(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompletePurchase(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.offsetSvc.Complete(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelPurchaseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelPurchase(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelPurchaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.offsetSvc.Cancel(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListReversals(c *gin.Context) {
	resp, err := s.offsetSvc.ListReversals(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
