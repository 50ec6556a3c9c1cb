package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taxmill/taxmill/internal/api/dto"
	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/logger"
	"github.com/taxmill/taxmill/internal/service"
)

type TaxHandler struct {
	service service.TaxService
	log     *logger.Logger
}

func NewTaxHandler(service service.TaxService, log *logger.Logger) *TaxHandler {
	return &TaxHandler{service: service, log: log}
}

// @Summary Compute taxes for a document
// @Description Runs the full tax pipeline on the document lines: per-line computation, rounding and the accounting tax lines diff
// @Tags taxes
// @Accept json
// @Produce json
// @Param request body dto.ComputeTaxesRequest true "Compute request"
// @Success 200 {object} dto.ComputeTaxesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /taxes/compute [post]
func (h *TaxHandler) ComputeTaxes(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.ComputeTaxesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ComputeTaxes(ctx, &req)
	if err != nil {
		h.log.Error("Failed to compute taxes", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Compute the totals summary of a document
// @Description Aggregates the document lines into per-tax-group subtotals with optional cash rounding
// @Tags taxes
// @Accept json
// @Produce json
// @Param request body dto.TaxTotalsRequest true "Totals request"
// @Success 200 {object} dto.TaxTotalsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /taxes/totals [post]
func (h *TaxHandler) ComputeTotals(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.TaxTotalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ComputeTotals(ctx, &req)
	if err != nil {
		h.log.Error("Failed to compute totals", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
