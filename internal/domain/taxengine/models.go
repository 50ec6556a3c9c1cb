package taxengine

import (
	"github.com/shopspring/decimal"

	"github.com/taxmill/taxmill/internal/domain/tax"
	"github.com/taxmill/taxmill/internal/types"
)

// BaseLineInput carries the caller-supplied scalar fields used to construct
// a BaseLine. Nothing is inferred from a database: lookups the caller wants
// applied (currency rates, accounts, tags) must be resolved before building
// the input.
type BaseLineInput struct {
	ID              string
	PriceUnit       decimal.Decimal
	Quantity        decimal.Decimal
	Discount        decimal.Decimal
	Currency        string
	CompanyCurrency string

	// Rate converts document currency amounts into company currency amounts.
	// Zero defaults to 1.
	Rate decimal.Decimal

	Taxes       []*tax.Tax
	IsRefund    bool
	SpecialMode types.SpecialMode

	PartnerID            string
	AccountID            string
	AnalyticDistribution map[string]decimal.Decimal

	// ManualTaxAmounts forces the raw amount of specific taxes (keyed by tax
	// ID) instead of computing them, e.g. for imported documents.
	ManualTaxAmounts map[string]decimal.Decimal
}

// BaseLine is one taxable document line. It is never mutated in place by
// unrelated code: every transformation (split, merge, discount) yields a new
// line, and only the engine attaches TaxDetails.
type BaseLine struct {
	ID              string
	PriceUnit       decimal.Decimal
	Quantity        decimal.Decimal
	Discount        decimal.Decimal
	Currency        string
	CompanyCurrency string
	Rate            decimal.Decimal

	Taxes       []*tax.Tax
	IsRefund    bool
	SpecialMode types.SpecialMode

	PartnerID            string
	AccountID            string
	AnalyticDistribution map[string]decimal.Decimal
	ManualTaxAmounts     map[string]decimal.Decimal

	TaxDetails *TaxDetails
}

// DocumentType returns the repartition scheme this line uses.
func (l *BaseLine) DocumentType() types.DocumentType {
	if l.IsRefund {
		return types.DocumentTypeRefund
	}
	return types.DocumentTypeInvoice
}

// RawBase is the discounted, unrounded taxable amount of the line in
// document currency.
func (l *BaseLine) RawBase() decimal.Decimal {
	discountFactor := decimal.NewFromInt(1).Sub(l.Discount.Div(decimal.NewFromInt(100)))
	return l.PriceUnit.Mul(l.Quantity).Mul(discountFactor)
}

// TaxData holds the computed amounts of one tax actually applied to a line.
// A reverse charge tax produces two entries: the regular one and a mirrored
// negative one flagged IsReverseCharge.
type TaxData struct {
	Tax   *tax.Tax
	Group *tax.Tax

	BatchIndex      int
	PriceInclude    bool
	IsReverseCharge bool

	// RateClamped marks a division-by-zero guard: the batch rate reached
	// exactly +-100% and the divisor was clamped to 1. This usually means a
	// tax setup mistake.
	RateClamped bool

	RawBaseAmount        decimal.Decimal
	RawTaxAmount         decimal.Decimal
	RawBaseAmountCompany decimal.Decimal
	RawTaxAmountCompany  decimal.Decimal

	// Rounded amounts, filled by the rounding pass.
	BaseAmount        decimal.Decimal
	TaxAmount         decimal.Decimal
	BaseAmountCompany decimal.Decimal
	TaxAmountCompany  decimal.Decimal
}

// TaxDetails is attached to a BaseLine by the computation pass, refined in
// place by the rounding pass and consumed read-only afterwards.
type TaxDetails struct {
	RawTotalExcluded        decimal.Decimal
	RawTotalIncluded        decimal.Decimal
	RawTotalExcludedCompany decimal.Decimal
	RawTotalIncludedCompany decimal.Decimal

	TotalExcluded        decimal.Decimal
	TotalIncluded        decimal.Decimal
	TotalExcludedCompany decimal.Decimal
	TotalIncludedCompany decimal.Decimal

	TaxData []*TaxData

	// Rounded reports whether the rounding pass already ran on this line.
	Rounded bool
}

// netTaxAmount sums the rounded tax amounts of all entries, reverse charge
// mirrors included, so a +100/-100 pair nets to zero.
func (d *TaxDetails) netTaxAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, td := range d.TaxData {
		sum = sum.Add(td.TaxAmount)
	}
	return sum
}

func (d *TaxDetails) netTaxAmountCompany() decimal.Decimal {
	sum := decimal.Zero
	for _, td := range d.TaxData {
		sum = sum.Add(td.TaxAmountCompany)
	}
	return sum
}

// anyPriceInclude reports whether any tax applied to the line is effectively
// price included, which drives the default rounding anchor.
func (d *TaxDetails) anyPriceInclude() bool {
	for _, td := range d.TaxData {
		if td.PriceInclude {
			return true
		}
	}
	return false
}

// RoundingSummary reports what the global rounding pass could not reconcile.
// A non-zero residual means a delta had no contributing amounts to absorb it.
type RoundingSummary struct {
	Residuals []RoundingResidual
}

// RoundingResidual is a leftover rounding delta that could not be
// distributed back to any line.
type RoundingResidual struct {
	TaxID    string
	Currency string
	Amount   decimal.Decimal
}

// TaxLine is one aggregated accounting posting produced by the repartition
// mapping, keyed by (repartition line, partner, currency, account, tags,
// analytic distribution) across all base lines of the document.
type TaxLine struct {
	ID string

	TaxID                string
	RepartitionLineID    string
	PartnerID            string
	Currency             string
	AccountID            string
	TagIDs               []string
	AnalyticDistribution map[string]decimal.Decimal

	TaxAmount         decimal.Decimal
	BaseAmount        decimal.Decimal
	TaxAmountCompany  decimal.Decimal
	BaseAmountCompany decimal.Decimal

	UseInTaxClosing bool
}

// BaseLineUpdate carries the per-line values the caller must write back on
// its own document line once tax lines are prepared.
type BaseLineUpdate struct {
	LineID        string
	TotalExcluded decimal.Decimal
	TotalIncluded decimal.Decimal
	TaxTagIDs     []string
}

// TaxLinesResult is the three way diff of computed tax lines against any
// pre-existing ones.
type TaxLinesResult struct {
	ToCreate        []*TaxLine
	ToUpdate        []*TaxLine
	ToDelete        []*TaxLine
	BaseLineUpdates []*BaseLineUpdate
}

// CashRoundingOptions describes an optional document-level adjustment to a
// coarser rounding precision than the currency's native one.
type CashRoundingOptions struct {
	Precision decimal.Decimal
	Method    types.RoundingMethod
	Strategy  types.CashRoundingStrategy
}

// TotalsOptions parametrizes the totals summary aggregation.
type TotalsOptions struct {
	// TaxGroups resolves tax group ids to their display metadata. It is a
	// read-only lookup supplied by the caller.
	TaxGroups map[string]*tax.TaxGroup

	CashRounding *CashRoundingOptions
}

// TaxGroupSummary is one tax group subtotal in the totals summary.
type TaxGroupSummary struct {
	GroupID   string
	GroupName string

	BaseAmount decimal.Decimal
	TaxAmount  decimal.Decimal

	// DisplayBaseAmount differs from BaseAmount for all-fixed groups (nil:
	// nothing meaningful to display) and for all price-included division
	// groups (reconstructed tax-included base).
	DisplayBaseAmount *decimal.Decimal
}

// Subtotal is one ordered subtotal bucket of the totals summary.
type Subtotal struct {
	Name       string
	BaseAmount decimal.Decimal
	TaxAmount  decimal.Decimal
	TaxGroups  []*TaxGroupSummary
}

// TaxTotalsSummary aggregates all lines of a document for display.
type TaxTotalsSummary struct {
	Currency string

	BaseAmount  decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal

	Subtotals []*Subtotal

	// CashRoundingBaseAmount is the synthetic base adjustment added by the
	// add_invoice_line cash rounding strategy, zero otherwise.
	CashRoundingBaseAmount decimal.Decimal
}
