package taxengine

import (
	"sort"

	"github.com/shopspring/decimal"

	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// RoundTaxDetails runs the rounding pass in place over lines that already
// carry TaxDetails. The document currency and company currency are rounded
// independently since their roundings are not proportional to each other.
//
// With round_per_line every amount is rounded to currency precision and no
// cross-line reconciliation happens. With round_globally the raw amounts are
// aggregated per tax across all lines, rounded once, and the delta against
// the per-line rounded amounts is distributed back smoothly.
//
// The anchor selects whether the line total to round first is the
// tax-included or the tax-excluded one; the other is derived from it so the
// round-trip identity holds exactly. Mixed (the default) picks included for
// lines carrying a price-included tax and excluded otherwise.
//
// The returned summary carries any residual delta that had no contributing
// amounts to absorb it.
func (e *Engine) RoundTaxDetails(lines []*BaseLine, mode types.RoundingMode, anchor types.ComputeAnchor) (*RoundingSummary, error) {
	if mode == "" {
		mode = types.RoundPerLine
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if anchor == "" {
		anchor = types.ComputeAnchorMixed
	}
	if err := anchor.Validate(); err != nil {
		return nil, err
	}
	for _, line := range lines {
		if line.TaxDetails == nil {
			return nil, ierr.NewError("rounding requested before tax computation").
				WithHintf("Base line '%s' has no tax details; call AddTaxDetails first", line.ID).
				Mark(ierr.ErrInvalidOperation)
		}
	}

	// Per-line pass: round every amount and derive the line totals from the
	// anchored side.
	for _, line := range lines {
		roundLineDetails(line, anchor)
	}

	summary := &RoundingSummary{}
	if mode == types.RoundGlobally {
		e.reconcileTaxAmounts(lines, summary, false)
		e.reconcileTaxAmounts(lines, summary, true)
		e.reconcileBaseTotals(lines, summary, false)
		e.reconcileBaseTotals(lines, summary, true)

		// Distribution may have moved tax amounts; restore the round-trip
		// identity per line from the anchored total.
		for _, line := range lines {
			d := line.TaxDetails
			d.TotalIncluded = d.TotalExcluded.Add(d.netTaxAmount())
			d.TotalIncludedCompany = d.TotalExcludedCompany.Add(d.netTaxAmountCompany())
		}
	}

	for _, line := range lines {
		line.TaxDetails.Rounded = true
	}
	return summary, nil
}

func roundLineDetails(line *BaseLine, anchor types.ComputeAnchor) {
	d := line.TaxDetails
	precision := types.GetCurrencyPrecision(line.Currency)
	companyPrecision := types.GetCurrencyPrecision(line.CompanyCurrency)

	for _, td := range d.TaxData {
		td.TaxAmount = td.RawTaxAmount.Round(precision)
		td.BaseAmount = td.RawBaseAmount.Round(precision)
		td.TaxAmountCompany = td.RawTaxAmountCompany.Round(companyPrecision)
		td.BaseAmountCompany = td.RawBaseAmountCompany.Round(companyPrecision)
	}

	useIncluded := anchor == types.ComputeAnchorIncluded ||
		(anchor == types.ComputeAnchorMixed && d.anyPriceInclude())
	if useIncluded {
		d.TotalIncluded = d.RawTotalIncluded.Round(precision)
		d.TotalExcluded = d.TotalIncluded.Sub(d.netTaxAmount())
		d.TotalIncludedCompany = d.RawTotalIncludedCompany.Round(companyPrecision)
		d.TotalExcludedCompany = d.TotalIncludedCompany.Sub(d.netTaxAmountCompany())
	} else {
		d.TotalExcluded = d.RawTotalExcluded.Round(precision)
		d.TotalIncluded = d.TotalExcluded.Add(d.netTaxAmount())
		d.TotalExcludedCompany = d.RawTotalExcludedCompany.Round(companyPrecision)
		d.TotalIncludedCompany = d.TotalExcludedCompany.Add(d.netTaxAmountCompany())
	}
}

// taxGroupKey identifies one global-rounding aggregation bucket.
type taxGroupKey struct {
	TaxID           string
	IsReverseCharge bool
	IsRefund        bool
	Currency        string
}

// reconcileTaxAmounts makes the sum of per-line rounded tax amounts of every
// tax match the rounding of its raw aggregate, distributing the delta back to
// the lines proportionally to their raw amounts.
func (e *Engine) reconcileTaxAmounts(lines []*BaseLine, summary *RoundingSummary, company bool) {
	var order []taxGroupKey
	groups := map[taxGroupKey][]*TaxData{}

	for _, line := range lines {
		currency := line.Currency
		if company {
			currency = line.CompanyCurrency
		}
		for _, td := range line.TaxDetails.TaxData {
			key := taxGroupKey{
				TaxID:           td.Tax.ID,
				IsReverseCharge: td.IsReverseCharge,
				IsRefund:        line.IsRefund,
				Currency:        currency,
			}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], td)
		}
	}

	for _, key := range order {
		members := groups[key]
		precision := types.GetCurrencyPrecision(key.Currency)
		step := types.GetCurrencyRoundingStep(key.Currency)

		rawSum := decimal.Zero
		roundedSum := decimal.Zero
		weights := make([]decimal.Decimal, len(members))
		for i, td := range members {
			raw, rounded := td.RawTaxAmount, td.TaxAmount
			if company {
				raw, rounded = td.RawTaxAmountCompany, td.TaxAmountCompany
			}
			rawSum = rawSum.Add(raw)
			roundedSum = roundedSum.Add(rounded)
			weights[i] = raw
		}

		delta := rawSum.Round(precision).Sub(roundedSum)
		if delta.IsZero() {
			continue
		}

		allocations, residual := DistributeDelta(delta, step, weights)
		for i, td := range members {
			if company {
				td.TaxAmountCompany = td.TaxAmountCompany.Add(allocations[i])
			} else {
				td.TaxAmount = td.TaxAmount.Add(allocations[i])
			}
		}
		if !residual.IsZero() {
			summary.Residuals = append(summary.Residuals, RoundingResidual{
				TaxID:    key.TaxID,
				Currency: key.Currency,
				Amount:   residual,
			})
		}
	}
}

// reconcileBaseTotals does the same for the tax-excluded line totals, keyed
// by currency and refund flag, weighting each line by its raw total.
func (e *Engine) reconcileBaseTotals(lines []*BaseLine, summary *RoundingSummary, company bool) {
	type baseKey struct {
		IsRefund bool
		Currency string
	}
	var order []baseKey
	groups := map[baseKey][]*BaseLine{}

	for _, line := range lines {
		currency := line.Currency
		if company {
			currency = line.CompanyCurrency
		}
		key := baseKey{IsRefund: line.IsRefund, Currency: currency}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], line)
	}

	for _, key := range order {
		members := groups[key]
		precision := types.GetCurrencyPrecision(key.Currency)
		step := types.GetCurrencyRoundingStep(key.Currency)

		rawSum := decimal.Zero
		roundedSum := decimal.Zero
		weights := make([]decimal.Decimal, len(members))
		for i, line := range members {
			raw, rounded := line.TaxDetails.RawTotalExcluded, line.TaxDetails.TotalExcluded
			if company {
				raw, rounded = line.TaxDetails.RawTotalExcludedCompany, line.TaxDetails.TotalExcludedCompany
			}
			rawSum = rawSum.Add(raw)
			roundedSum = roundedSum.Add(rounded)
			weights[i] = raw
		}

		delta := rawSum.Round(precision).Sub(roundedSum)
		if delta.IsZero() {
			continue
		}

		allocations, residual := DistributeDelta(delta, step, weights)
		for i, line := range members {
			if company {
				line.TaxDetails.TotalExcludedCompany = line.TaxDetails.TotalExcludedCompany.Add(allocations[i])
			} else {
				line.TaxDetails.TotalExcluded = line.TaxDetails.TotalExcluded.Add(allocations[i])
			}
		}
		if !residual.IsZero() {
			summary.Residuals = append(summary.Residuals, RoundingResidual{
				Currency: key.Currency,
				Amount:   residual,
			})
		}
	}
}

// DistributeDelta splits a rounding delta across targets proportionally to
// the absolute value of their weights, in whole precision steps. The returned
// allocations are aligned with the weights, sum to the distributed part of
// the delta, and never disagree with the delta's sign. Whatever could not be
// distributed (no targets, all-zero weights, a delta finer than one step) is
// returned as residual.
//
// The distribution is deterministic: targets are ranked by descending weight
// with ties kept in input order, each gets round(fraction x steps) capped by
// the remaining budget, and leftover single steps land on the highest ranked
// targets first.
func DistributeDelta(delta, precision decimal.Decimal, weights []decimal.Decimal) ([]decimal.Decimal, decimal.Decimal) {
	allocations := make([]decimal.Decimal, len(weights))
	for i := range allocations {
		allocations[i] = decimal.Zero
	}
	if delta.IsZero() {
		return allocations, decimal.Zero
	}

	units := delta.Abs().DivRound(precision, 0)
	if units.IsZero() {
		return allocations, delta
	}

	weightSum := decimal.Zero
	absWeights := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		absWeights[i] = w.Abs()
		weightSum = weightSum.Add(absWeights[i])
	}
	if len(weights) == 0 || weightSum.IsZero() {
		return allocations, delta
	}

	ranked := make([]int, len(weights))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return absWeights[ranked[a]].GreaterThan(absWeights[ranked[b]])
	})

	unitCounts := make([]decimal.Decimal, len(weights))
	remaining := units
	for _, idx := range ranked {
		if remaining.IsZero() {
			break
		}
		share := absWeights[idx].Div(weightSum).Mul(units).Round(0)
		if share.GreaterThan(remaining) {
			share = remaining
		}
		unitCounts[idx] = share
		remaining = remaining.Sub(share)
	}
	for !remaining.IsZero() {
		progressed := false
		for _, idx := range ranked {
			if remaining.IsZero() {
				break
			}
			if absWeights[idx].IsZero() {
				continue
			}
			unitCounts[idx] = unitCounts[idx].Add(one)
			remaining = remaining.Sub(one)
			progressed = true
		}
		if !progressed {
			break
		}
	}

	sign := decimal.NewFromInt(1)
	if delta.IsNegative() {
		sign = decimal.NewFromInt(-1)
	}
	for i := range weights {
		allocations[i] = unitCounts[i].Mul(precision).Mul(sign)
	}
	return allocations, decimal.Zero
}
