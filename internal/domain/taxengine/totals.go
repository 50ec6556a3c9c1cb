package taxengine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/taxmill/taxmill/internal/domain/tax"
	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// UntaxedAmountLabel is the default subtotal bucket shown before tax groups
// that configure no preceding subtotal of their own.
const UntaxedAmountLabel = "Untaxed Amount"

// GetTaxTotalsSummary aggregates the rounded details of all lines into the
// document totals: global base/tax/total, per tax group subtotals ordered by
// group sequence, and the optional cash rounding adjustment.
func (e *Engine) GetTaxTotalsSummary(lines []*BaseLine, currency string, opts TotalsOptions) (*TaxTotalsSummary, error) {
	for _, line := range lines {
		if line.TaxDetails == nil || !line.TaxDetails.Rounded {
			return nil, ierr.NewError("totals requested before rounding").
				WithHintf("Base line '%s' has no rounded tax details; call AddTaxDetails and RoundTaxDetails first", line.ID).
				Mark(ierr.ErrInvalidOperation)
		}
		if line.Currency != currency {
			return nil, ierr.NewError("mixed currencies in totals summary").
				WithHintf("Base line '%s' is in %s but the summary was requested in %s", line.ID, line.Currency, currency).
				Mark(ierr.ErrInvalidOperation)
		}
	}

	summary := &TaxTotalsSummary{Currency: currency}
	for _, line := range lines {
		summary.BaseAmount = summary.BaseAmount.Add(line.TaxDetails.TotalExcluded)
		summary.TaxAmount = summary.TaxAmount.Add(line.TaxDetails.netTaxAmount())
	}
	summary.TotalAmount = summary.BaseAmount.Add(summary.TaxAmount)

	groups := e.aggregateTaxGroups(lines, opts.TaxGroups)
	summary.Subtotals = buildSubtotals(summary.BaseAmount, groups, opts.TaxGroups)

	if opts.CashRounding != nil {
		if err := e.applyCashRounding(summary, opts.CashRounding); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

type groupAggregate struct {
	summary *TaxGroupSummary

	sequence int

	allFixed            bool
	allIncludedDivision bool
}

// aggregateTaxGroups folds every tax data entry into its tax group bucket.
// A line's base counts once per group regardless of how many taxes of that
// group apply to it.
func (e *Engine) aggregateTaxGroups(lines []*BaseLine, lookup map[string]*tax.TaxGroup) []*groupAggregate {
	var order []string
	byID := map[string]*groupAggregate{}

	for _, line := range lines {
		seenOnLine := map[string]bool{}
		for _, td := range line.TaxDetails.TaxData {
			groupID := td.Tax.TaxGroupID
			agg, ok := byID[groupID]
			if !ok {
				agg = &groupAggregate{
					summary:             &TaxGroupSummary{GroupID: groupID, GroupName: groupID},
					allFixed:            true,
					allIncludedDivision: true,
				}
				if g, found := lookup[groupID]; found {
					agg.summary.GroupName = g.Name
					agg.sequence = g.Sequence
				}
				byID[groupID] = agg
				order = append(order, groupID)
			}

			agg.summary.TaxAmount = agg.summary.TaxAmount.Add(td.TaxAmount)
			if !seenOnLine[groupID] {
				seenOnLine[groupID] = true
				agg.summary.BaseAmount = agg.summary.BaseAmount.Add(td.BaseAmount)
			}
			if td.Tax.AmountType != types.AmountTypeFixed {
				agg.allFixed = false
			}
			if td.Tax.AmountType != types.AmountTypeDivision || !td.PriceInclude {
				agg.allIncludedDivision = false
			}
		}
	}

	aggregates := make([]*groupAggregate, 0, len(byID))
	for _, id := range order {
		agg := byID[id]
		switch {
		case agg.allFixed:
			agg.summary.DisplayBaseAmount = nil
		case agg.allIncludedDivision:
			// Division taxes quote their rate against the tax-included price,
			// so the meaningful display base is the included one.
			included := agg.summary.BaseAmount.Add(agg.summary.TaxAmount)
			agg.summary.DisplayBaseAmount = &included
		default:
			base := agg.summary.BaseAmount
			agg.summary.DisplayBaseAmount = &base
		}
		aggregates = append(aggregates, agg)
	}
	sort.SliceStable(aggregates, func(i, j int) bool {
		if aggregates[i].sequence != aggregates[j].sequence {
			return aggregates[i].sequence < aggregates[j].sequence
		}
		return aggregates[i].summary.GroupID < aggregates[j].summary.GroupID
	})
	return aggregates
}

// buildSubtotals assigns tax groups to their preceding-subtotal bucket in
// group order. Each bucket's base carries the document untaxed amount plus
// the tax amounts of all groups listed before it.
func buildSubtotals(untaxed decimal.Decimal, groups []*groupAggregate, lookup map[string]*tax.TaxGroup) []*Subtotal {
	var subtotals []*Subtotal
	byName := map[string]*Subtotal{}

	runningBase := untaxed
	for _, agg := range groups {
		name := UntaxedAmountLabel
		if g, ok := lookup[agg.summary.GroupID]; ok && g.PrecedingSubtotal != "" {
			name = g.PrecedingSubtotal
		}
		sub, ok := byName[name]
		if !ok {
			sub = &Subtotal{Name: name, BaseAmount: runningBase}
			byName[name] = sub
			subtotals = append(subtotals, sub)
		}
		sub.TaxGroups = append(sub.TaxGroups, agg.summary)
		sub.TaxAmount = sub.TaxAmount.Add(agg.summary.TaxAmount)
		runningBase = runningBase.Add(agg.summary.TaxAmount)
	}
	return subtotals
}

// applyCashRounding nudges the summary so the grand total lands on the cash
// rounding precision. With add_invoice_line the delta becomes a synthetic
// base amount; with biggest_tax it moves the tax amount of the largest tax
// group, and is dropped when the document carries no tax group at all.
func (e *Engine) applyCashRounding(summary *TaxTotalsSummary, opts *CashRoundingOptions) error {
	if opts.Precision.Sign() <= 0 {
		return ierr.NewError("invalid cash rounding precision").
			WithHint("Cash rounding precision must be strictly positive").
			Mark(ierr.ErrValidation)
	}
	if err := opts.Method.Validate(); err != nil {
		return err
	}
	if err := opts.Strategy.Validate(); err != nil {
		return err
	}

	expected := types.RoundToPrecision(summary.TotalAmount, opts.Precision, opts.Method)
	delta := expected.Sub(summary.TotalAmount)
	if delta.IsZero() {
		return nil
	}

	switch opts.Strategy {
	case types.CashRoundingAddInvoiceLine:
		summary.CashRoundingBaseAmount = delta
		summary.BaseAmount = summary.BaseAmount.Add(delta)
		for _, sub := range summary.Subtotals {
			sub.BaseAmount = sub.BaseAmount.Add(delta)
		}
		summary.TotalAmount = expected

	case types.CashRoundingBiggestTax:
		var biggest *TaxGroupSummary
		var owner *Subtotal
		for _, sub := range summary.Subtotals {
			for _, g := range sub.TaxGroups {
				if biggest == nil || g.TaxAmount.Abs().GreaterThan(biggest.TaxAmount.Abs()) {
					biggest = g
					owner = sub
				}
			}
		}
		if biggest == nil {
			e.logger.Warnf("cash rounding strategy biggest_tax with no tax group; adjustment of %s dropped", delta)
			return nil
		}
		biggest.TaxAmount = biggest.TaxAmount.Add(delta)
		owner.TaxAmount = owner.TaxAmount.Add(delta)
		summary.TaxAmount = summary.TaxAmount.Add(delta)
		summary.TotalAmount = expected
	}
	return nil
}
