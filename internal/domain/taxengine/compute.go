package taxengine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/taxmill/taxmill/internal/domain/tax"
	"github.com/taxmill/taxmill/internal/logger"
	"github.com/taxmill/taxmill/internal/types"
)

var (
	oneHundred = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
)

// divisionPrecision bounds the number of decimals kept when dividing by a
// batch rate, well above any currency precision.
const divisionPrecision = 12

// Engine computes tax details, roundings, accounting tax lines and totals
// summaries over in-memory base lines. It holds no mutable state across
// calls and performs no I/O.
type Engine struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.L
	}
	return &Engine{logger: log}
}

// AddTaxDetails runs flattening, batching, base propagation and the per-line
// tax computation on every base line, attaching raw TaxDetails to each. With
// round_per_line the tax amounts are rounded to currency precision at the
// moment they resolve, so base propagation sees rounded amounts; with
// round_globally they stay raw until RoundTaxDetails.
//
// The call is atomic per line: on error the line's TaxDetails is left unset.
func (e *Engine) AddTaxDetails(ctx context.Context, lines []*BaseLine, mode types.RoundingMode) error {
	if mode == "" {
		mode = types.RoundPerLine
	}
	if err := mode.Validate(); err != nil {
		return err
	}

	for _, line := range lines {
		details, err := e.computeLine(line, mode)
		if err != nil {
			return err
		}
		line.TaxDetails = details
	}
	return nil
}

func (e *Engine) computeLine(line *BaseLine, mode types.RoundingMode) (*TaxDetails, error) {
	if err := line.SpecialMode.Validate(); err != nil {
		return nil, err
	}

	docType := line.DocumentType()
	flat, err := tax.FlattenTaxes(line.Taxes)
	if err != nil {
		return nil, err
	}
	batches := tax.ComputeBatches(flat.Taxes, line.SpecialMode)

	n := len(flat.Taxes)
	indexOf := make(map[string]int, n)
	batchOf := make([]*tax.Batch, n)
	for i, t := range flat.Taxes {
		indexOf[t.ID] = i
	}
	for _, b := range batches {
		for _, t := range b.Taxes {
			batchOf[indexOf[t.ID]] = b
		}
	}

	rate := line.Rate
	if rate.IsZero() {
		rate = one
	}
	rawBase := line.RawBase()
	precision := types.GetCurrencyPrecision(line.Currency)

	extraForTax := make([]decimal.Decimal, n)
	extraForBase := make([]decimal.Decimal, n)
	rawAmount := make([]decimal.Decimal, n)
	netAmount := make([]decimal.Decimal, n)
	clamped := make([]bool, n)

	resolveBatch := func(b *tax.Batch) {
		// Members of a batch are evaluated jointly against the same extra
		// base: one member's amount never feeds another member's base.
		for _, t := range b.Taxes {
			i := indexOf[t.ID]
			base := rawBase.Add(extraForTax[i])

			var amount decimal.Decimal
			var wasClamped bool
			if manual, ok := line.ManualTaxAmounts[t.ID]; ok {
				amount = manual
			} else {
				amount, wasClamped = e.evalTaxAmount(line, t, b, docType, base, rawBase)
			}
			if mode == types.RoundPerLine {
				amount = amount.Round(precision)
			}

			rawAmount[i] = amount
			netAmount[i] = amount.Mul(t.NetFactor(docType))
			clamped[i] = wasClamped
			if wasClamped {
				e.logger.Warnf("tax %s: batch rate reached 100%%, divisor clamped to 1; check the tax setup", t.ID)
			}
		}

		for _, t := range b.Taxes {
			i := indexOf[t.ID]
			e.propagateExtraBase(flat.Taxes, batchOf, b, t, i, netAmount[i], extraForTax, extraForBase)
		}
	}

	// Fixed taxes resolve first: their amounts may be needed by the base
	// propagation of price-included batches before or after them.
	for _, b := range batches {
		if b.AmountType == types.AmountTypeFixed {
			resolveBatch(b)
		}
	}
	// Then price-included batches, walking the sequence in reverse.
	for bi := len(batches) - 1; bi >= 0; bi-- {
		if b := batches[bi]; b.AmountType != types.AmountTypeFixed && b.PriceInclude {
			resolveBatch(b)
		}
	}
	// Finally price-excluded batches, walking forward.
	for _, b := range batches {
		if b.AmountType != types.AmountTypeFixed && !b.PriceInclude {
			resolveBatch(b)
		}
	}

	// Base pass, in reverse: a tax's own base excludes the price-included
	// amounts of its own batch and of every later batch.
	baseOf := make([]decimal.Decimal, n)
	includedSoFar := decimal.Zero
	for bi := len(batches) - 1; bi >= 0; bi-- {
		b := batches[bi]
		if b.PriceInclude {
			for _, t := range b.Taxes {
				includedSoFar = includedSoFar.Add(netAmount[indexOf[t.ID]])
			}
		}
		for _, t := range b.Taxes {
			i := indexOf[t.ID]
			baseOf[i] = rawBase.Add(extraForBase[i]).Sub(includedSoFar)
		}
	}

	rawTotalExcluded := rawBase
	if n > 0 {
		rawTotalExcluded = baseOf[0]
	}
	netSum := decimal.Zero
	for i := 0; i < n; i++ {
		netSum = netSum.Add(netAmount[i])
	}
	rawTotalIncluded := rawTotalExcluded.Add(netSum)

	details := &TaxDetails{
		RawTotalExcluded:        rawTotalExcluded,
		RawTotalIncluded:        rawTotalIncluded,
		RawTotalExcludedCompany: rawTotalExcluded.Mul(rate),
		RawTotalIncludedCompany: rawTotalIncluded.Mul(rate),
	}

	for i, t := range flat.Taxes {
		entry := &TaxData{
			Tax:                  t,
			Group:                flat.GroupOf[t.ID],
			BatchIndex:           batchOf[i].Index,
			PriceInclude:         batchOf[i].PriceInclude,
			RateClamped:          clamped[i],
			RawBaseAmount:        baseOf[i],
			RawTaxAmount:         rawAmount[i],
			RawBaseAmountCompany: baseOf[i].Mul(rate),
			RawTaxAmountCompany:  rawAmount[i].Mul(rate),
		}
		details.TaxData = append(details.TaxData, entry)

		if t.HasNegativeFactor(docType) {
			mirror := &TaxData{
				Tax:                  t,
				Group:                flat.GroupOf[t.ID],
				BatchIndex:           batchOf[i].Index,
				PriceInclude:         batchOf[i].PriceInclude,
				IsReverseCharge:      true,
				RateClamped:          clamped[i],
				RawBaseAmount:        baseOf[i],
				RawTaxAmount:         rawAmount[i].Neg(),
				RawBaseAmountCompany: baseOf[i].Mul(rate),
				RawTaxAmountCompany:  rawAmount[i].Neg().Mul(rate),
			}
			details.TaxData = append(details.TaxData, mirror)
		}
	}
	return details, nil
}

// evalTaxAmount computes the raw amount of one tax given the base it applies
// to. The second return value reports a clamped divisor.
func (e *Engine) evalTaxAmount(line *BaseLine, t *tax.Tax, b *tax.Batch, docType types.DocumentType, base, rawBase decimal.Decimal) (decimal.Decimal, bool) {
	switch b.AmountType {
	case types.AmountTypeFixed:
		// The fixed amount follows the sign of the base, which carries the
		// sign of both quantity and price unit. With a zero base the sign of
		// the quantity is used directly.
		if rawBase.IsZero() {
			return line.Quantity.Mul(t.Amount), false
		}
		amount := line.Quantity.Abs().Mul(t.Amount)
		if rawBase.IsNegative() {
			amount = amount.Neg()
		}
		return amount, false

	case types.AmountTypePercent:
		if b.PriceInclude {
			divisor := oneHundred.Add(b.RateSum(docType))
			if divisor.IsZero() {
				return base.Mul(t.Amount).Div(oneHundred), true
			}
			return base.Mul(t.Amount).DivRound(divisor, divisionPrecision), false
		}
		return base.Mul(t.Amount).Div(oneHundred), false

	case types.AmountTypeDivision:
		if b.PriceInclude {
			return base.Mul(t.Amount).Div(oneHundred), false
		}
		divisor := oneHundred.Sub(b.RateSum(docType))
		if divisor.IsZero() {
			return base.Mul(t.Amount).Div(oneHundred), true
		}
		return base.Mul(t.Amount).DivRound(divisor, divisionPrecision), false
	}
	return decimal.Zero, false
}

// propagateExtraBase applies the resolved net amount of one tax to the extra
// bases of the taxes outside its batch, depending on evaluation order and
// price inclusion.
func (e *Engine) propagateExtraBase(flat []*tax.Tax, batchOf []*tax.Batch, b *tax.Batch, t *tax.Tax, i int, net decimal.Decimal, extraForTax, extraForBase []decimal.Decimal) {
	if net.IsZero() {
		return
	}

	if b.PriceInclude {
		// The amount sits inside the quoted price: every other tax must see
		// it removed from its base, except subsequent base-affected taxes
		// when this tax feeds the base of later ones. The reported bases of
		// earlier taxes are handled by the reverse base pass.
		for j := range flat {
			if batchOf[j] == b {
				continue
			}
			if j > i {
				if t.IncludeBaseAmount && flat[j].IsBaseAffected {
					continue
				}
				extraForTax[j] = extraForTax[j].Sub(net)
				extraForBase[j] = extraForBase[j].Sub(net)
			} else {
				extraForTax[j] = extraForTax[j].Sub(net)
			}
		}
		return
	}

	// Effectively price-excluded: the amount joins the base of subsequent
	// base-affected taxes when the tax is flagged to do so. In
	// total_excluded mode this also re-adds amounts the caller already
	// removed from the passed-in price.
	if !t.IncludeBaseAmount {
		return
	}
	for j := i + 1; j < len(flat); j++ {
		if batchOf[j] == b || !flat[j].IsBaseAffected {
			continue
		}
		extraForTax[j] = extraForTax[j].Add(net)
		extraForBase[j] = extraForBase[j].Add(net)
	}
}
