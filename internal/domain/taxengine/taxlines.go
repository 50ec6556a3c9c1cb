package taxengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/taxmill/taxmill/internal/domain/tax"
	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// PrepareTaxLines expands the rounded tax details of every line across the
// matching repartition lines and aggregates the results into accounting tax
// lines, diffed against any pre-existing ones.
//
// Each tax data entry is split over the tax repartition lines of its
// document type; the split amounts are reconciled against the entry's
// rounded amount so no rounding leaks. A regular entry consumes the positive
// factors, a reverse charge mirror the negative ones.
func (e *Engine) PrepareTaxLines(lines []*BaseLine, existing []*TaxLine) (*TaxLinesResult, error) {
	for _, line := range lines {
		if line.TaxDetails == nil || !line.TaxDetails.Rounded {
			return nil, ierr.NewError("tax lines requested before rounding").
				WithHintf("Base line '%s' has no rounded tax details; call AddTaxDetails and RoundTaxDetails first", line.ID).
				Mark(ierr.ErrInvalidOperation)
		}
	}

	var order []string
	aggregated := map[string]*TaxLine{}
	keepZero := map[string]bool{}

	for _, line := range lines {
		docType := line.DocumentType()
		for _, td := range line.TaxDetails.TaxData {
			repLines := repartitionLinesForEntry(td, docType)
			if len(repLines) == 0 {
				continue
			}
			shares := splitOverRepartition(td.TaxAmount, repLines, line.Currency)
			sharesCompany := splitOverRepartition(td.TaxAmountCompany, repLines, line.CompanyCurrency)

			for i, rep := range repLines {
				key := taxLineKey(td.Tax.ID, rep, line)
				agg, ok := aggregated[key]
				if !ok {
					agg = &TaxLine{
						TaxID:                td.Tax.ID,
						RepartitionLineID:    rep.ID,
						PartnerID:            line.PartnerID,
						Currency:             line.Currency,
						AccountID:            rep.AccountID,
						TagIDs:               rep.TagIDs,
						AnalyticDistribution: line.AnalyticDistribution,
						UseInTaxClosing:      rep.UseInTaxClosing,
					}
					aggregated[key] = agg
					order = append(order, key)
				}
				agg.TaxAmount = agg.TaxAmount.Add(shares[i])
				agg.TaxAmountCompany = agg.TaxAmountCompany.Add(sharesCompany[i])
				agg.BaseAmount = agg.BaseAmount.Add(td.BaseAmount)
				agg.BaseAmountCompany = agg.BaseAmountCompany.Add(td.BaseAmountCompany)
				if rep.KeepZeroLine {
					keepZero[key] = true
				}
			}
		}
	}

	result := &TaxLinesResult{}

	existingByKey := map[string]*TaxLine{}
	for _, tl := range existing {
		existingByKey[existingTaxLineKey(tl)] = tl
	}
	matched := map[string]bool{}

	for _, key := range order {
		agg := aggregated[key]
		if agg.TaxAmount.IsZero() && agg.BaseAmount.IsZero() && !keepZero[key] {
			continue
		}
		if prev, ok := existingByKey[key]; ok {
			matched[key] = true
			agg.ID = prev.ID
			result.ToUpdate = append(result.ToUpdate, agg)
		} else {
			result.ToCreate = append(result.ToCreate, agg)
		}
	}
	for _, tl := range existing {
		if !matched[existingTaxLineKey(tl)] {
			result.ToDelete = append(result.ToDelete, tl)
		}
	}

	for _, line := range lines {
		result.BaseLineUpdates = append(result.BaseLineUpdates, &BaseLineUpdate{
			LineID:        line.ID,
			TotalExcluded: line.TaxDetails.TotalExcluded,
			TotalIncluded: line.TaxDetails.TotalIncluded,
			TaxTagIDs:     baseTagIDs(line),
		})
	}
	return result, nil
}

// repartitionLinesForEntry picks the tax repartition lines feeding one tax
// data entry: the positive factors for the regular entry, the negative ones
// for its reverse charge mirror.
func repartitionLinesForEntry(td *TaxData, docType types.DocumentType) []*tax.RepartitionLine {
	return lo.Filter(td.Tax.RepartitionLinesFor(docType, types.RepartitionTypeTax), func(l *tax.RepartitionLine, _ int) bool {
		if td.IsReverseCharge {
			return l.Factor.IsNegative()
		}
		return !l.Factor.IsNegative()
	})
}

// splitOverRepartition splits a rounded amount across repartition lines by
// their factors, rounding each share and pushing the remaining delta back so
// the shares sum to the amount exactly.
func splitOverRepartition(amount decimal.Decimal, repLines []*tax.RepartitionLine, currency string) []decimal.Decimal {
	precision := types.GetCurrencyPrecision(currency)
	step := types.GetCurrencyRoundingStep(currency)

	shares := make([]decimal.Decimal, len(repLines))
	weights := make([]decimal.Decimal, len(repLines))
	roundedSum := decimal.Zero
	for i, rep := range repLines {
		raw := amount.Mul(rep.Factor.Abs())
		weights[i] = raw
		shares[i] = raw.Round(precision)
		roundedSum = roundedSum.Add(shares[i])
	}

	delta := amount.Sub(roundedSum)
	if !delta.IsZero() {
		allocations, _ := DistributeDelta(delta, step, weights)
		for i := range shares {
			shares[i] = shares[i].Add(allocations[i])
		}
	}
	return shares
}

// baseTagIDs collects the report tags of the base repartition lines of every
// tax applied to the line, in tax order without duplicates.
func baseTagIDs(line *BaseLine) []string {
	docType := line.DocumentType()
	var tags []string
	seen := map[string]bool{}
	for _, td := range line.TaxDetails.TaxData {
		if td.IsReverseCharge {
			continue
		}
		for _, rep := range td.Tax.RepartitionLinesFor(docType, types.RepartitionTypeBase) {
			for _, tag := range rep.TagIDs {
				if !seen[tag] {
					seen[tag] = true
					tags = append(tags, tag)
				}
			}
		}
	}
	return tags
}

func taxLineKey(taxID string, rep *tax.RepartitionLine, line *BaseLine) string {
	return strings.Join([]string{
		taxID,
		rep.ID,
		line.PartnerID,
		line.Currency,
		rep.AccountID,
		strings.Join(rep.TagIDs, ","),
		analyticKey(line.AnalyticDistribution),
	}, "|")
}

func existingTaxLineKey(tl *TaxLine) string {
	return strings.Join([]string{
		tl.TaxID,
		tl.RepartitionLineID,
		tl.PartnerID,
		tl.Currency,
		tl.AccountID,
		strings.Join(tl.TagIDs, ","),
		analyticKey(tl.AnalyticDistribution),
	}, "|")
}

func analyticKey(distribution map[string]decimal.Decimal) string {
	if len(distribution) == 0 {
		return ""
	}
	keys := lo.Keys(distribution)
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, distribution[k].String())
	}
	return strings.Join(parts, ";")
}
