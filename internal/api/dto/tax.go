package dto

import (
	"github.com/shopspring/decimal"

	"github.com/taxmill/taxmill/internal/domain/tax"
	"github.com/taxmill/taxmill/internal/domain/taxengine"
	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// BaseLineRequest is one document line of a compute request.
type BaseLineRequest struct {
	ID        string          `json:"id" binding:"required" example:"line_1"`
	PriceUnit decimal.Decimal `json:"price_unit"`
	Quantity  decimal.Decimal `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`

	// Rate converts document currency amounts to company currency; defaults
	// to 1.
	Rate decimal.Decimal `json:"rate"`

	Taxes       []*tax.Tax        `json:"taxes"`
	IsRefund    bool              `json:"is_refund"`
	SpecialMode types.SpecialMode `json:"special_mode"`

	PartnerID            string                     `json:"partner_id"`
	AccountID            string                     `json:"account_id"`
	AnalyticDistribution map[string]decimal.Decimal `json:"analytic_distribution"`
	ManualTaxAmounts     map[string]decimal.Decimal `json:"manual_tax_amounts"`
}

// ExistingTaxLine carries a pre-existing accounting tax line to diff against.
type ExistingTaxLine struct {
	ID                   string                     `json:"id" binding:"required"`
	TaxID                string                     `json:"tax_id"`
	RepartitionLineID    string                     `json:"repartition_line_id"`
	PartnerID            string                     `json:"partner_id"`
	Currency             string                     `json:"currency"`
	AccountID            string                     `json:"account_id"`
	TagIDs               []string                   `json:"tag_ids"`
	AnalyticDistribution map[string]decimal.Decimal `json:"analytic_distribution"`
}

// ComputeTaxesRequest runs the full pipeline: computation, rounding and the
// accounting tax lines diff.
type ComputeTaxesRequest struct {
	Currency        string `json:"currency" binding:"required" example:"usd"`
	CompanyCurrency string `json:"company_currency" example:"usd"`

	RoundingMode types.RoundingMode  `json:"rounding_mode"`
	Anchor       types.ComputeAnchor `json:"anchor"`

	Lines            []*BaseLineRequest `json:"lines" binding:"required"`
	ExistingTaxLines []*ExistingTaxLine `json:"existing_tax_lines"`
}

func (r *ComputeTaxesRequest) Validate() error {
	if len(r.Lines) == 0 {
		return ierr.NewError("empty document").
			WithHint("A compute request requires at least one line").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToBaseLineInputs maps the request lines onto engine inputs.
func (r *ComputeTaxesRequest) ToBaseLineInputs() []taxengine.BaseLineInput {
	inputs := make([]taxengine.BaseLineInput, len(r.Lines))
	for i, l := range r.Lines {
		inputs[i] = taxengine.BaseLineInput{
			ID:                   l.ID,
			PriceUnit:            l.PriceUnit,
			Quantity:             l.Quantity,
			Discount:             l.Discount,
			Currency:             r.Currency,
			CompanyCurrency:      r.CompanyCurrency,
			Rate:                 l.Rate,
			Taxes:                l.Taxes,
			IsRefund:             l.IsRefund,
			SpecialMode:          l.SpecialMode,
			PartnerID:            l.PartnerID,
			AccountID:            l.AccountID,
			AnalyticDistribution: l.AnalyticDistribution,
			ManualTaxAmounts:     l.ManualTaxAmounts,
		}
	}
	return inputs
}

// ToTaxLines maps the pre-existing tax lines onto the engine structure.
func (r *ComputeTaxesRequest) ToTaxLines() []*taxengine.TaxLine {
	lines := make([]*taxengine.TaxLine, len(r.ExistingTaxLines))
	for i, l := range r.ExistingTaxLines {
		lines[i] = &taxengine.TaxLine{
			ID:                   l.ID,
			TaxID:                l.TaxID,
			RepartitionLineID:    l.RepartitionLineID,
			PartnerID:            l.PartnerID,
			Currency:             l.Currency,
			AccountID:            l.AccountID,
			TagIDs:               l.TagIDs,
			AnalyticDistribution: l.AnalyticDistribution,
		}
	}
	return lines
}

// TaxDataResponse is one applied tax on a computed line.
type TaxDataResponse struct {
	TaxID           string          `json:"tax_id"`
	TaxName         string          `json:"tax_name"`
	GroupTaxID      string          `json:"group_tax_id,omitempty"`
	PriceInclude    bool            `json:"price_include"`
	IsReverseCharge bool            `json:"is_reverse_charge,omitempty"`
	RateClamped     bool            `json:"rate_clamped,omitempty"`
	BaseAmount      decimal.Decimal `json:"base_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
}

// ComputedLineResponse is the per-line outcome of a compute request.
type ComputedLineResponse struct {
	ID                   string             `json:"id"`
	TotalExcluded        decimal.Decimal    `json:"total_excluded"`
	TotalIncluded        decimal.Decimal    `json:"total_included"`
	TotalExcludedCompany decimal.Decimal    `json:"total_excluded_company"`
	TotalIncludedCompany decimal.Decimal    `json:"total_included_company"`
	TaxData              []*TaxDataResponse `json:"tax_data"`
}

// TaxLineResponse is one aggregated accounting tax line.
type TaxLineResponse struct {
	ID                string          `json:"id,omitempty"`
	TaxID             string          `json:"tax_id"`
	RepartitionLineID string          `json:"repartition_line_id"`
	PartnerID         string          `json:"partner_id,omitempty"`
	Currency          string          `json:"currency"`
	AccountID         string          `json:"account_id,omitempty"`
	TagIDs            []string        `json:"tag_ids,omitempty"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	TaxAmountCompany  decimal.Decimal `json:"tax_amount_company"`
	BaseAmountCompany decimal.Decimal `json:"base_amount_company"`
	UseInTaxClosing   bool            `json:"use_in_tax_closing,omitempty"`
}

// BaseLineUpdateResponse carries the values to write back on a document line.
type BaseLineUpdateResponse struct {
	LineID        string          `json:"line_id"`
	TotalExcluded decimal.Decimal `json:"total_excluded"`
	TotalIncluded decimal.Decimal `json:"total_included"`
	TaxTagIDs     []string        `json:"tax_tag_ids,omitempty"`
}

// RoundingResidualResponse reports a rounding delta that could not be
// distributed back to any line.
type RoundingResidualResponse struct {
	TaxID    string          `json:"tax_id,omitempty"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// ComputeTaxesResponse is the outcome of the full pipeline.
type ComputeTaxesResponse struct {
	Lines             []*ComputedLineResponse     `json:"lines"`
	TaxLinesToCreate  []*TaxLineResponse          `json:"tax_lines_to_create"`
	TaxLinesToUpdate  []*TaxLineResponse          `json:"tax_lines_to_update"`
	TaxLinesToDelete  []*TaxLineResponse          `json:"tax_lines_to_delete"`
	BaseLineUpdates   []*BaseLineUpdateResponse   `json:"base_line_updates"`
	RoundingResiduals []*RoundingResidualResponse `json:"rounding_residuals,omitempty"`
}

// CashRoundingRequest parametrizes the optional document level cash rounding.
type CashRoundingRequest struct {
	Precision decimal.Decimal            `json:"precision" binding:"required"`
	Method    types.RoundingMethod       `json:"method" binding:"required"`
	Strategy  types.CashRoundingStrategy `json:"strategy" binding:"required"`
}

// TaxTotalsRequest computes the display totals summary of a document.
type TaxTotalsRequest struct {
	Currency        string `json:"currency" binding:"required" example:"usd"`
	CompanyCurrency string `json:"company_currency" example:"usd"`

	RoundingMode types.RoundingMode  `json:"rounding_mode"`
	Anchor       types.ComputeAnchor `json:"anchor"`

	Lines        []*BaseLineRequest   `json:"lines" binding:"required"`
	TaxGroups    []*tax.TaxGroup      `json:"tax_groups"`
	CashRounding *CashRoundingRequest `json:"cash_rounding"`
}

func (r *TaxTotalsRequest) Validate() error {
	if len(r.Lines) == 0 {
		return ierr.NewError("empty document").
			WithHint("A totals request requires at least one line").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TaxGroupSummaryResponse is one tax group bucket of the totals summary.
type TaxGroupSummaryResponse struct {
	GroupID           string           `json:"group_id"`
	GroupName         string           `json:"group_name"`
	BaseAmount        decimal.Decimal  `json:"base_amount"`
	TaxAmount         decimal.Decimal  `json:"tax_amount"`
	DisplayBaseAmount *decimal.Decimal `json:"display_base_amount,omitempty"`
}

// SubtotalResponse is one ordered subtotal of the totals summary.
type SubtotalResponse struct {
	Name       string                     `json:"name"`
	BaseAmount decimal.Decimal            `json:"base_amount"`
	TaxAmount  decimal.Decimal            `json:"tax_amount"`
	TaxGroups  []*TaxGroupSummaryResponse `json:"tax_groups"`
}

// TaxTotalsResponse is the document totals summary.
type TaxTotalsResponse struct {
	Currency               string              `json:"currency"`
	BaseAmount             decimal.Decimal     `json:"base_amount"`
	TaxAmount              decimal.Decimal     `json:"tax_amount"`
	TotalAmount            decimal.Decimal     `json:"total_amount"`
	CashRoundingBaseAmount decimal.Decimal     `json:"cash_rounding_base_amount"`
	Subtotals              []*SubtotalResponse `json:"subtotals"`
}

// ToComputedLineResponse maps one computed base line onto its DTO.
func ToComputedLineResponse(line *taxengine.BaseLine) *ComputedLineResponse {
	resp := &ComputedLineResponse{
		ID:                   line.ID,
		TotalExcluded:        line.TaxDetails.TotalExcluded,
		TotalIncluded:        line.TaxDetails.TotalIncluded,
		TotalExcludedCompany: line.TaxDetails.TotalExcludedCompany,
		TotalIncludedCompany: line.TaxDetails.TotalIncludedCompany,
	}
	for _, td := range line.TaxDetails.TaxData {
		data := &TaxDataResponse{
			TaxID:           td.Tax.ID,
			TaxName:         td.Tax.Name,
			PriceInclude:    td.PriceInclude,
			IsReverseCharge: td.IsReverseCharge,
			RateClamped:     td.RateClamped,
			BaseAmount:      td.BaseAmount,
			TaxAmount:       td.TaxAmount,
		}
		if td.Group != nil {
			data.GroupTaxID = td.Group.ID
		}
		resp.TaxData = append(resp.TaxData, data)
	}
	return resp
}

// ToTaxLineResponses maps engine tax lines onto their DTOs.
func ToTaxLineResponses(lines []*taxengine.TaxLine) []*TaxLineResponse {
	out := make([]*TaxLineResponse, len(lines))
	for i, tl := range lines {
		out[i] = &TaxLineResponse{
			ID:                tl.ID,
			TaxID:             tl.TaxID,
			RepartitionLineID: tl.RepartitionLineID,
			PartnerID:         tl.PartnerID,
			Currency:          tl.Currency,
			AccountID:         tl.AccountID,
			TagIDs:            tl.TagIDs,
			TaxAmount:         tl.TaxAmount,
			BaseAmount:        tl.BaseAmount,
			TaxAmountCompany:  tl.TaxAmountCompany,
			BaseAmountCompany: tl.BaseAmountCompany,
			UseInTaxClosing:   tl.UseInTaxClosing,
		}
	}
	return out
}

// ToTaxTotalsResponse maps the engine totals summary onto its DTO.
func ToTaxTotalsResponse(summary *taxengine.TaxTotalsSummary) *TaxTotalsResponse {
	resp := &TaxTotalsResponse{
		Currency:               summary.Currency,
		BaseAmount:             summary.BaseAmount,
		TaxAmount:              summary.TaxAmount,
		TotalAmount:            summary.TotalAmount,
		CashRoundingBaseAmount: summary.CashRoundingBaseAmount,
	}
	for _, sub := range summary.Subtotals {
		subResp := &SubtotalResponse{
			Name:       sub.Name,
			BaseAmount: sub.BaseAmount,
			TaxAmount:  sub.TaxAmount,
		}
		for _, g := range sub.TaxGroups {
			subResp.TaxGroups = append(subResp.TaxGroups, &TaxGroupSummaryResponse{
				GroupID:           g.GroupID,
				GroupName:         g.GroupName,
				BaseAmount:        g.BaseAmount,
				TaxAmount:         g.TaxAmount,
				DisplayBaseAmount: g.DisplayBaseAmount,
			})
		}
		resp.Subtotals = append(resp.Subtotals, subResp)
	}
	return resp
}
