package taxengine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxmill/taxmill/internal/domain/tax"
	"github.com/taxmill/taxmill/internal/types"
)

func computeOne(t *testing.T, line *BaseLine, mode types.RoundingMode) *TaxDetails {
	t.Helper()
	err := newTestEngine().AddTaxDetails(context.Background(), []*BaseLine{line}, mode)
	require.NoError(t, err)
	require.NotNil(t, line.TaxDetails)
	return line.TaxDetails
}

func TestAddTaxDetails_PriceIncludeEquivalence(t *testing.T) {
	included := newLine(t, "incl", "121", "1", percent("vat", 1, "21", priceIncluded))
	d := computeOne(t, included, types.RoundPerLine)

	assertDecimal(t, "100", d.RawTotalExcluded)
	assertDecimal(t, "121", d.RawTotalIncluded)
	require.Len(t, d.TaxData, 1)
	assertDecimal(t, "21", d.TaxData[0].RawTaxAmount)
	assertDecimal(t, "100", d.TaxData[0].RawBaseAmount)
	assert.True(t, d.TaxData[0].PriceInclude)

	excluded := newLine(t, "excl", "100", "1", percent("vat", 1, "21"))
	d = computeOne(t, excluded, types.RoundPerLine)

	assertDecimal(t, "100", d.RawTotalExcluded)
	assertDecimal(t, "121", d.RawTotalIncluded)
	assertDecimal(t, "21", d.TaxData[0].RawTaxAmount)
	assert.False(t, d.TaxData[0].PriceInclude)
}

func TestAddTaxDetails_BatchSymmetry(t *testing.T) {
	line := newLine(t, "l1", "120", "1",
		percent("t1", 1, "10", priceIncluded),
		percent("t2", 2, "10", priceIncluded),
	)
	d := computeOne(t, line, types.RoundPerLine)

	require.Len(t, d.TaxData, 2)
	assertDecimal(t, "10", d.TaxData[0].RawTaxAmount, "t1")
	assertDecimal(t, "10", d.TaxData[1].RawTaxAmount, "t2")
	assertDecimal(t, "100", d.TaxData[0].RawBaseAmount)
	assertDecimal(t, "100", d.TaxData[1].RawBaseAmount)
	assertDecimal(t, "100", d.RawTotalExcluded)
	assertDecimal(t, "120", d.RawTotalIncluded)
}

func TestAddTaxDetails_IncludedAffectsBaseChain(t *testing.T) {
	line := newLine(t, "l1", "121", "1",
		percent("t1", 1, "10", priceIncluded, includeBase),
		percent("t2", 2, "10", priceIncluded),
	)
	d := computeOne(t, line, types.RoundPerLine)

	require.Len(t, d.TaxData, 2)
	assertDecimal(t, "10", d.TaxData[0].RawTaxAmount, "t1")
	assertDecimal(t, "100", d.TaxData[0].RawBaseAmount, "t1")
	assertDecimal(t, "11", d.TaxData[1].RawTaxAmount, "t2")
	assertDecimal(t, "110", d.TaxData[1].RawBaseAmount, "t2")
	assertDecimal(t, "100", d.RawTotalExcluded)
	assertDecimal(t, "121", d.RawTotalIncluded)
}

func TestAddTaxDetails_ExcludedAffectsBaseChain(t *testing.T) {
	t.Run("affected_tax_sees_the_enlarged_base", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1",
			percent("t1", 1, "10", includeBase),
			percent("t2", 2, "10"),
		)
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "10", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "100", d.TaxData[0].RawBaseAmount)
		assertDecimal(t, "11", d.TaxData[1].RawTaxAmount)
		assertDecimal(t, "110", d.TaxData[1].RawBaseAmount)
		assertDecimal(t, "100", d.RawTotalExcluded)
		assertDecimal(t, "121", d.RawTotalIncluded)
	})

	t.Run("unaffected_tax_keeps_the_original_base", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1",
			percent("t1", 1, "10", includeBase),
			percent("t2", 2, "10", notBaseAffected),
		)
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "10", d.TaxData[1].RawTaxAmount)
		assertDecimal(t, "100", d.TaxData[1].RawBaseAmount)
		assertDecimal(t, "120", d.RawTotalIncluded)
	})
}

func TestAddTaxDetails_FixedTaxes(t *testing.T) {
	t.Run("amount_per_unit", func(t *testing.T) {
		line := newLine(t, "l1", "10", "3", newTax("fx", 1, types.AmountTypeFixed, "2"))
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "6", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "30", d.RawTotalExcluded)
		assertDecimal(t, "36", d.RawTotalIncluded)
	})

	t.Run("follows_the_sign_of_the_base", func(t *testing.T) {
		line := newLine(t, "l1", "-10", "3", newTax("fx", 1, types.AmountTypeFixed, "2"))
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "-6", d.TaxData[0].RawTaxAmount)
	})

	t.Run("feeds_the_base_of_later_taxes", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1",
			newTax("fx", 1, types.AmountTypeFixed, "5", includeBase),
			percent("vat", 2, "10"),
		)
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "5", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "10.5", d.TaxData[1].RawTaxAmount)
		assertDecimal(t, "105", d.TaxData[1].RawBaseAmount)
	})
}

func TestAddTaxDetails_DivisionTaxes(t *testing.T) {
	t.Run("included_division_rates_the_included_price", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1", newTax("div", 1, types.AmountTypeDivision, "20", priceIncluded))
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "20", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "80", d.TaxData[0].RawBaseAmount)
		assertDecimal(t, "80", d.RawTotalExcluded)
		assertDecimal(t, "100", d.RawTotalIncluded)
	})

	t.Run("excluded_division_grosses_up", func(t *testing.T) {
		line := newLine(t, "l1", "80", "1", newTax("div", 1, types.AmountTypeDivision, "20"))
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "20", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "100", d.RawTotalIncluded)
		assert.False(t, d.TaxData[0].RateClamped)
	})

	t.Run("full_rate_clamps_the_divisor", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1", newTax("div", 1, types.AmountTypeDivision, "100"))
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "100", d.TaxData[0].RawTaxAmount)
		assert.True(t, d.TaxData[0].RateClamped)
	})
}

func TestAddTaxDetails_ReverseCharge(t *testing.T) {
	line := newLine(t, "l1", "100", "1", percent("rc", 1, "21", reverseCharge))
	d := computeOne(t, line, types.RoundPerLine)

	require.Len(t, d.TaxData, 2)
	assertDecimal(t, "21", d.TaxData[0].RawTaxAmount)
	assert.False(t, d.TaxData[0].IsReverseCharge)
	assertDecimal(t, "-21", d.TaxData[1].RawTaxAmount)
	assert.True(t, d.TaxData[1].IsReverseCharge)
	assertDecimal(t, "100", d.TaxData[1].RawBaseAmount)

	// nets to zero in the included total
	assertDecimal(t, "100", d.RawTotalIncluded)
	assertDecimal(t, "100", d.RawTotalExcluded)
}

func TestAddTaxDetails_ZeroQuantityStillEmitsTaxData(t *testing.T) {
	line := newLine(t, "l1", "100", "0", percent("vat", 1, "21"))
	d := computeOne(t, line, types.RoundPerLine)

	require.Len(t, d.TaxData, 1)
	assert.True(t, d.TaxData[0].RawTaxAmount.IsZero())
	assert.True(t, d.RawTotalIncluded.IsZero())
}

func TestAddTaxDetails_SpecialModes(t *testing.T) {
	t.Run("total_included_treats_all_taxes_as_included", func(t *testing.T) {
		line := newLine(t, "l1", "120", "1", percent("vat", 1, "20"))
		line.SpecialMode = types.SpecialModeTotalIncluded
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "20", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "100", d.TaxData[0].RawBaseAmount)
		assertDecimal(t, "100", d.RawTotalExcluded)
		assertDecimal(t, "120", d.RawTotalIncluded)
	})

	t.Run("total_excluded_treats_all_taxes_as_excluded", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1", percent("vat", 1, "21", priceIncluded))
		line.SpecialMode = types.SpecialModeTotalExcluded
		d := computeOne(t, line, types.RoundPerLine)

		assertDecimal(t, "21", d.TaxData[0].RawTaxAmount)
		assertDecimal(t, "100", d.TaxData[0].RawBaseAmount)
		assertDecimal(t, "121", d.RawTotalIncluded)
	})

	t.Run("invalid_mode_rejected", func(t *testing.T) {
		line := newLine(t, "l1", "100", "1", percent("vat", 1, "21"))
		line.SpecialMode = types.SpecialMode("bogus")

		err := newTestEngine().AddTaxDetails(context.Background(), []*BaseLine{line}, types.RoundPerLine)
		assert.Error(t, err)
		assert.Nil(t, line.TaxDetails)
	})
}

func TestAddTaxDetails_ManualTaxAmounts(t *testing.T) {
	line := newLine(t, "l1", "100", "1", percent("vat", 1, "21"))
	line.ManualTaxAmounts = map[string]decimal.Decimal{"vat": decimal.RequireFromString("20.5")}
	d := computeOne(t, line, types.RoundPerLine)

	assertDecimal(t, "20.5", d.TaxData[0].RawTaxAmount)
	assertDecimal(t, "120.5", d.RawTotalIncluded)
}

func TestAddTaxDetails_CompanyCurrency(t *testing.T) {
	engine := newTestEngine()
	line, err := engine.PrepareBaseLine(BaseLineInput{
		ID:              "l1",
		PriceUnit:       decimal.RequireFromString("100"),
		Quantity:        decimal.NewFromInt(1),
		Currency:        "usd",
		CompanyCurrency: "eur",
		Rate:            decimal.RequireFromString("2"),
		Taxes:           []*tax.Tax{percent("vat", 1, "21")},
	})
	require.NoError(t, err)

	d := computeOne(t, line, types.RoundPerLine)
	assertDecimal(t, "42", d.TaxData[0].RawTaxAmountCompany)
	assertDecimal(t, "200", d.TaxData[0].RawBaseAmountCompany)
	assertDecimal(t, "200", d.RawTotalExcludedCompany)
	assertDecimal(t, "242", d.RawTotalIncludedCompany)
}

func TestAddTaxDetails_Idempotent(t *testing.T) {
	build := func() *BaseLine {
		return newLine(t, "l1", "121", "2",
			percent("t1", 1, "10", priceIncluded, includeBase),
			percent("t2", 2, "10", priceIncluded),
		)
	}

	first := build()
	second := build()
	d1 := computeOne(t, first, types.RoundPerLine)
	d2 := computeOne(t, second, types.RoundPerLine)

	require.Len(t, d2.TaxData, len(d1.TaxData))
	assert.True(t, d1.RawTotalExcluded.Equal(d2.RawTotalExcluded))
	assert.True(t, d1.RawTotalIncluded.Equal(d2.RawTotalIncluded))
	for i := range d1.TaxData {
		assert.True(t, d1.TaxData[i].RawTaxAmount.Equal(d2.TaxData[i].RawTaxAmount))
		assert.True(t, d1.TaxData[i].RawBaseAmount.Equal(d2.TaxData[i].RawBaseAmount))
	}
}

func TestAddTaxDetails_RoundTrip(t *testing.T) {
	lines := []*BaseLine{
		newLine(t, "l1", "121", "1", percent("t1", 1, "21", priceIncluded)),
		newLine(t, "l2", "33.33", "3", percent("t2", 1, "10")),
		newLine(t, "l3", "50", "2",
			percent("t3", 1, "10", includeBase),
			percent("t4", 2, "5"),
		),
	}
	err := newTestEngine().AddTaxDetails(context.Background(), lines, types.RoundPerLine)
	require.NoError(t, err)

	for _, line := range lines {
		d := line.TaxDetails
		sum := d.RawTotalExcluded
		for _, td := range d.TaxData {
			sum = sum.Add(td.RawTaxAmount)
		}
		assert.True(t, d.RawTotalIncluded.Equal(sum), "line %s: %s != %s", line.ID, d.RawTotalIncluded, sum)
	}
}
