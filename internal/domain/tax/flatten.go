package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// FlatTaxes is the result of flattening a set of taxes: a sequence ordered by
// (sequence, id) where group taxes are replaced by their children, plus a
// lookup from child tax to its owning group.
type FlatTaxes struct {
	Taxes   []*Tax
	GroupOf map[string]*Tax
}

// FlattenTaxes sorts the given taxes by (sequence, id) and expands groups in
// place of their parent, children sorted the same way. The group's own
// sequence position is preserved: [G, B([A, D, F]), E, C] with alphabetic
// sequences flattens to [A, D, F, C, E, G].
func FlattenTaxes(taxes []*Tax) (*FlatTaxes, error) {
	sorted := sortTaxes(taxes)

	result := &FlatTaxes{
		GroupOf: map[string]*Tax{},
	}
	for _, t := range sorted {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if !t.IsGroup() {
			result.Taxes = append(result.Taxes, t)
			continue
		}
		for _, child := range sortTaxes(t.Children) {
			if child.IsGroup() {
				return nil, ierr.NewError("nested group of taxes").
					WithHintf("Tax '%s' contains the group tax '%s'; groups cannot be nested", t.Name, child.Name).
					Mark(ierr.ErrValidation)
			}
			result.GroupOf[child.ID] = t
			result.Taxes = append(result.Taxes, child)
		}
	}
	return result, nil
}

func sortTaxes(taxes []*Tax) []*Tax {
	sorted := make([]*Tax, len(taxes))
	copy(sorted, taxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Sequence != sorted[j].Sequence {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Batch is a maximal run of taxes that must be evaluated jointly: each
// member's amount depends on the combined rate of the whole batch, not on
// itself alone.
type Batch struct {
	Index             int
	Taxes             []*Tax
	AmountType        types.AmountType
	PriceInclude      bool
	IncludeBaseAmount bool
}

// EffectivePriceInclude returns the price inclusion flag used for
// computation. The special modes override the taxes' own flags: with
// total_excluded the caller passes an already tax-excluded amount, with
// total_included a fully tax-included one.
func EffectivePriceInclude(t *Tax, mode types.SpecialMode) bool {
	switch mode {
	case types.SpecialModeTotalExcluded:
		return false
	case types.SpecialModeTotalIncluded:
		return true
	default:
		return t.PriceInclude
	}
}

// ComputeBatches partitions a flattened tax sequence into batches. The scan
// runs in reverse, growing the current batch while the taxes share amount
// type, effective price inclusion and include_base_amount, and flushing as
// soon as an intervening base-affecting tax shows up.
func ComputeBatches(flat []*Tax, mode types.SpecialMode) []*Batch {
	var batches []*Batch
	var current *Batch
	lastBaseAffected := false

	for i := len(flat) - 1; i >= 0; i-- {
		t := flat[i]
		priceInclude := EffectivePriceInclude(t, mode)

		if current != nil {
			sameBatch := t.AmountType == current.AmountType &&
				priceInclude == current.PriceInclude &&
				t.IncludeBaseAmount == current.IncludeBaseAmount &&
				(!t.IncludeBaseAmount || !lastBaseAffected)
			if !sameBatch {
				batches = append(batches, current)
				current = nil
			}
		}
		if current == nil {
			current = &Batch{
				AmountType:        t.AmountType,
				PriceInclude:      priceInclude,
				IncludeBaseAmount: t.IncludeBaseAmount,
			}
		}
		current.Taxes = append(current.Taxes, t)
		lastBaseAffected = t.IsBaseAffected
	}
	if current != nil {
		batches = append(batches, current)
	}

	// The scan appended everything backwards; restore sequence order.
	for i, j := 0, len(batches)-1; i < j; i, j = i+1, j-1 {
		batches[i], batches[j] = batches[j], batches[i]
	}
	for idx, batch := range batches {
		batch.Index = idx
		for i, j := 0, len(batch.Taxes)-1; i < j; i, j = i+1, j-1 {
			batch.Taxes[i], batch.Taxes[j] = batch.Taxes[j], batch.Taxes[i]
		}
	}
	return batches
}

// RateSum returns the combined percentage rate of the batch, weighting each
// member by its net repartition factor so a reverse charge tax contributes
// nothing.
func (b *Batch) RateSum(docType types.DocumentType) decimal.Decimal {
	rate := decimal.Zero
	for _, t := range b.Taxes {
		rate = rate.Add(t.Amount.Mul(t.NetFactor(docType)))
	}
	return rate
}
