package taxengine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/taxmill/taxmill/internal/domain/tax"
	"github.com/taxmill/taxmill/internal/logger"
	"github.com/taxmill/taxmill/internal/types"
)

func newTestEngine() *Engine {
	return New(logger.L)
}

func repLines(taxID string, factors ...string) []*tax.RepartitionLine {
	lines := []*tax.RepartitionLine{
		{ID: taxID + "_base", Factor: decimal.NewFromInt(1), RepartitionType: types.RepartitionTypeBase, TagIDs: []string{taxID + "_base_tag"}},
	}
	for i, f := range factors {
		lines = append(lines, &tax.RepartitionLine{
			ID:              taxID + "_tax_" + string(rune('a'+i)),
			Factor:          decimal.RequireFromString(f),
			RepartitionType: types.RepartitionTypeTax,
			AccountID:       "acc_" + taxID,
			TagIDs:          []string{taxID + "_tax_tag"},
			UseInTaxClosing: true,
		})
	}
	return lines
}

func newTax(id string, sequence int, amountType types.AmountType, amount string, opts ...func(*tax.Tax)) *tax.Tax {
	t := &tax.Tax{
		ID:                      id,
		Name:                    id,
		AmountType:              amountType,
		Amount:                  decimal.RequireFromString(amount),
		Sequence:                sequence,
		IsBaseAffected:          true,
		InvoiceRepartitionLines: repLines(id, "1"),
		RefundRepartitionLines:  repLines(id, "1"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func percent(id string, sequence int, amount string, opts ...func(*tax.Tax)) *tax.Tax {
	return newTax(id, sequence, types.AmountTypePercent, amount, opts...)
}

func priceIncluded(t *tax.Tax)   { t.PriceInclude = true }
func includeBase(t *tax.Tax)     { t.IncludeBaseAmount = true }
func notBaseAffected(t *tax.Tax) { t.IsBaseAffected = false }

func reverseCharge(t *tax.Tax) {
	t.InvoiceRepartitionLines = repLines(t.ID, "1", "-1")
	t.RefundRepartitionLines = repLines(t.ID, "1", "-1")
}

func withGroup(groupID string) func(*tax.Tax) {
	return func(t *tax.Tax) { t.TaxGroupID = groupID }
}

func newLine(t *testing.T, id, priceUnit, quantity string, taxes ...*tax.Tax) *BaseLine {
	t.Helper()
	line, err := newTestEngine().PrepareBaseLine(BaseLineInput{
		ID:        id,
		PriceUnit: decimal.RequireFromString(priceUnit),
		Quantity:  decimal.RequireFromString(quantity),
		Currency:  "usd",
		Taxes:     taxes,
	})
	if err != nil {
		t.Fatalf("prepare base line: %v", err)
	}
	return line
}

func assertDecimal(t *testing.T, expected string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	want := decimal.RequireFromString(expected)
	assert.True(t, want.Equal(got), "expected %s, got %s %v", want, got, msgAndArgs)
}
