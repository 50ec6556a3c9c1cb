package taxengine

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/taxmill/taxmill/internal/domain/tax"
	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// PrepareBaseLine builds a BaseLine from caller supplied fields, validating
// the tax configuration up front so computation never starts on an invalid
// setup. Nothing is looked up from a database; rate defaults to 1 and the
// company currency defaults to the document currency.
func (e *Engine) PrepareBaseLine(in BaseLineInput) (*BaseLine, error) {
	if in.Currency == "" {
		return nil, ierr.NewError("missing currency").
			WithHint("A base line requires a document currency").
			Mark(ierr.ErrValidation)
	}
	if err := in.SpecialMode.Validate(); err != nil {
		return nil, err
	}
	for _, t := range in.Taxes {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	rate := in.Rate
	if rate.IsZero() {
		rate = one
	}
	companyCurrency := in.CompanyCurrency
	if companyCurrency == "" {
		companyCurrency = in.Currency
	}

	return &BaseLine{
		ID:                   in.ID,
		PriceUnit:            in.PriceUnit,
		Quantity:             in.Quantity,
		Discount:             in.Discount,
		Currency:             in.Currency,
		CompanyCurrency:      companyCurrency,
		Rate:                 rate,
		Taxes:                in.Taxes,
		IsRefund:             in.IsRefund,
		SpecialMode:          in.SpecialMode,
		PartnerID:            in.PartnerID,
		AccountID:            in.AccountID,
		AnalyticDistribution: copyDecimalMap(in.AnalyticDistribution),
		ManualTaxAmounts:     copyDecimalMap(in.ManualTaxAmounts),
	}, nil
}

// SplitBaseLine splits one line into parts carrying the given quantities.
// The quantities must sum to the line's quantity so the document total is
// preserved. The parts start without tax details.
func (e *Engine) SplitBaseLine(line *BaseLine, quantities []decimal.Decimal) ([]*BaseLine, error) {
	if len(quantities) == 0 {
		return nil, ierr.NewError("empty split").
			WithHint("Splitting a base line requires at least one quantity").
			Mark(ierr.ErrInvalidOperation)
	}
	total := decimal.Zero
	for _, q := range quantities {
		total = total.Add(q)
	}
	if !total.Equal(line.Quantity) {
		return nil, ierr.NewError("split quantities do not preserve the line total").
			WithHintf("The quantities sum to %s but base line '%s' has quantity %s", total, line.ID, line.Quantity).
			Mark(ierr.ErrInvalidOperation)
	}

	parts := make([]*BaseLine, len(quantities))
	for i, q := range quantities {
		part := cloneBaseLine(line)
		part.ID = fmt.Sprintf("%s-%d", line.ID, i+1)
		part.Quantity = q
		parts[i] = part
	}
	return parts, nil
}

// MergeBaseLines folds lines sharing every field but quantity into a single
// line carrying the summed quantity. Lines that differ in price, discount,
// taxes or document flags cannot be merged.
func (e *Engine) MergeBaseLines(lines []*BaseLine) (*BaseLine, error) {
	if len(lines) == 0 {
		return nil, ierr.NewError("empty merge").
			WithHint("Merging requires at least one base line").
			Mark(ierr.ErrInvalidOperation)
	}

	first := lines[0]
	merged := cloneBaseLine(first)
	for _, line := range lines[1:] {
		if !mergeable(first, line) {
			return nil, ierr.NewError("base lines cannot be merged").
				WithHintf("Base lines '%s' and '%s' differ in more than quantity", first.ID, line.ID).
				Mark(ierr.ErrInvalidOperation)
		}
		merged.Quantity = merged.Quantity.Add(line.Quantity)
	}
	return merged, nil
}

// ApplyDiscount returns a copy of the line carrying the given discount
// percentage. The input line is never touched.
func (e *Engine) ApplyDiscount(line *BaseLine, discount decimal.Decimal) *BaseLine {
	updated := cloneBaseLine(line)
	updated.Discount = discount
	return updated
}

// RemovePriceIncludedTaxes converts a tax-included unit price into its
// tax-excluded equivalent under the given taxes, rounded to the currency
// precision. Prices without price-included taxes come back unchanged apart
// from the rounding.
func (e *Engine) RemovePriceIncludedTaxes(ctx context.Context, price decimal.Decimal, taxes []*tax.Tax, currency string) (decimal.Decimal, error) {
	probe := &BaseLine{
		ID:        "price-probe",
		PriceUnit: price,
		Quantity:  one,
		Currency:  currency,
		Taxes:     taxes,
	}
	if err := e.AddTaxDetails(ctx, []*BaseLine{probe}, types.RoundGlobally); err != nil {
		return decimal.Zero, err
	}
	return types.RoundToCurrencyPrecision(probe.TaxDetails.RawTotalExcluded, currency), nil
}

func mergeable(a, b *BaseLine) bool {
	sameTaxes := len(a.Taxes) == len(b.Taxes) && lo.EveryBy(lo.Range(len(a.Taxes)), func(i int) bool {
		return a.Taxes[i].ID == b.Taxes[i].ID
	})
	return sameTaxes &&
		a.PriceUnit.Equal(b.PriceUnit) &&
		a.Discount.Equal(b.Discount) &&
		a.Currency == b.Currency &&
		a.CompanyCurrency == b.CompanyCurrency &&
		a.Rate.Equal(b.Rate) &&
		a.IsRefund == b.IsRefund &&
		a.SpecialMode == b.SpecialMode &&
		a.PartnerID == b.PartnerID &&
		a.AccountID == b.AccountID &&
		analyticKey(a.AnalyticDistribution) == analyticKey(b.AnalyticDistribution)
}

func cloneBaseLine(line *BaseLine) *BaseLine {
	clone := *line
	clone.AnalyticDistribution = copyDecimalMap(line.AnalyticDistribution)
	clone.ManualTaxAmounts = copyDecimalMap(line.ManualTaxAmounts)
	clone.TaxDetails = nil
	return &clone
}

func copyDecimalMap(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
