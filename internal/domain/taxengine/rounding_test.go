package taxengine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxmill/taxmill/internal/types"
)

func TestRoundTaxDetails_PerLine(t *testing.T) {
	engine := newTestEngine()
	line := newLine(t, "l1", "121", "1", percent("vat", 1, "21", priceIncluded))

	require.NoError(t, engine.AddTaxDetails(context.Background(), []*BaseLine{line}, types.RoundPerLine))
	summary, err := engine.RoundTaxDetails([]*BaseLine{line}, types.RoundPerLine, types.ComputeAnchorMixed)
	require.NoError(t, err)
	assert.Empty(t, summary.Residuals)

	d := line.TaxDetails
	assert.True(t, d.Rounded)
	assertDecimal(t, "100", d.TotalExcluded)
	assertDecimal(t, "121", d.TotalIncluded)
	assertDecimal(t, "21", d.TaxData[0].TaxAmount)
	assertDecimal(t, "100", d.TaxData[0].BaseAmount)
}

func TestRoundTaxDetails_RequiresTaxDetails(t *testing.T) {
	engine := newTestEngine()
	line := newLine(t, "l1", "100", "1", percent("vat", 1, "21"))

	_, err := engine.RoundTaxDetails([]*BaseLine{line}, types.RoundPerLine, types.ComputeAnchorMixed)
	assert.Error(t, err)
}

func TestRoundTaxDetails_GlobalReconciliation(t *testing.T) {
	engine := newTestEngine()
	vat := percent("vat", 1, "10")
	lines := []*BaseLine{
		newLine(t, "l1", "3.33", "1", vat),
		newLine(t, "l2", "3.33", "1", vat),
		newLine(t, "l3", "3.33", "1", vat),
	}

	require.NoError(t, engine.AddTaxDetails(context.Background(), lines, types.RoundGlobally))
	summary, err := engine.RoundTaxDetails(lines, types.RoundGlobally, types.ComputeAnchorMixed)
	require.NoError(t, err)
	assert.Empty(t, summary.Residuals)

	// Per line the tax rounds to 0.33, but the document-wide raw sum 0.999
	// rounds to 1.00: one line absorbs the missing cent.
	taxSum := decimal.Zero
	for _, line := range lines {
		taxSum = taxSum.Add(line.TaxDetails.TaxData[0].TaxAmount)
	}
	assertDecimal(t, "1.00", taxSum)

	for _, line := range lines {
		d := line.TaxDetails
		assert.True(t, d.TotalIncluded.Equal(d.TotalExcluded.Add(d.TaxData[0].TaxAmount)), "line %s", line.ID)
	}
}

func TestRoundTaxDetails_Anchor(t *testing.T) {
	build := func() *BaseLine {
		return newLine(t, "l1", "100.005", "1", percent("vat", 1, "10", priceIncluded))
	}
	engine := newTestEngine()

	t.Run("included_anchor_rounds_the_included_total", func(t *testing.T) {
		line := build()
		require.NoError(t, engine.AddTaxDetails(context.Background(), []*BaseLine{line}, types.RoundGlobally))
		_, err := engine.RoundTaxDetails([]*BaseLine{line}, types.RoundPerLine, types.ComputeAnchorIncluded)
		require.NoError(t, err)

		assertDecimal(t, "100.01", line.TaxDetails.TotalIncluded)
		assertDecimal(t, "90.92", line.TaxDetails.TotalExcluded)
	})

	t.Run("excluded_anchor_rounds_the_excluded_total", func(t *testing.T) {
		line := build()
		require.NoError(t, engine.AddTaxDetails(context.Background(), []*BaseLine{line}, types.RoundGlobally))
		_, err := engine.RoundTaxDetails([]*BaseLine{line}, types.RoundPerLine, types.ComputeAnchorExcluded)
		require.NoError(t, err)

		assertDecimal(t, "90.91", line.TaxDetails.TotalExcluded)
		assertDecimal(t, "100.00", line.TaxDetails.TotalIncluded)
	})

	t.Run("mixed_anchor_follows_price_inclusion", func(t *testing.T) {
		line := build()
		require.NoError(t, engine.AddTaxDetails(context.Background(), []*BaseLine{line}, types.RoundGlobally))
		_, err := engine.RoundTaxDetails([]*BaseLine{line}, types.RoundPerLine, types.ComputeAnchorMixed)
		require.NoError(t, err)

		assertDecimal(t, "100.01", line.TaxDetails.TotalIncluded)
	})
}

func TestDistributeDelta(t *testing.T) {
	dec := decimal.RequireFromString

	tests := []struct {
		name      string
		delta     string
		precision string
		weights   []string
		expected  []string
		residual  string
	}{
		{
			name:      "proportional_allocation",
			delta:     "0.03",
			precision: "0.01",
			weights:   []string{"5", "3", "2"},
			expected:  []string{"0.02", "0.01", "0"},
			residual:  "0",
		},
		{
			name:      "negative_delta_keeps_sign",
			delta:     "-0.03",
			precision: "0.01",
			weights:   []string{"5", "3", "2"},
			expected:  []string{"-0.02", "-0.01", "0"},
			residual:  "0",
		},
		{
			name:      "single_target_takes_everything",
			delta:     "0.05",
			precision: "0.01",
			weights:   []string{"1"},
			expected:  []string{"0.05"},
			residual:  "0",
		},
		{
			name:      "equal_weights_favor_input_order",
			delta:     "0.01",
			precision: "0.01",
			weights:   []string{"1", "1"},
			expected:  []string{"0.01", "0"},
			residual:  "0",
		},
		{
			name:      "negative_weights_count_by_magnitude",
			delta:     "0.02",
			precision: "0.01",
			weights:   []string{"-5", "1"},
			expected:  []string{"0.02", "0"},
			residual:  "0",
		},
		{
			name:      "zero_weights_leave_a_residual",
			delta:     "0.02",
			precision: "0.01",
			weights:   []string{"0", "0"},
			expected:  []string{"0", "0"},
			residual:  "0.02",
		},
		{
			name:      "no_targets_leave_a_residual",
			delta:     "0.02",
			precision: "0.01",
			weights:   nil,
			expected:  nil,
			residual:  "0.02",
		},
		{
			name:      "delta_below_one_step_is_residual",
			delta:     "0.004",
			precision: "0.01",
			weights:   []string{"1"},
			expected:  []string{"0"},
			residual:  "0.004",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			weights := make([]decimal.Decimal, len(tt.weights))
			for i, w := range tt.weights {
				weights[i] = dec(w)
			}

			allocations, residual := DistributeDelta(dec(tt.delta), dec(tt.precision), weights)

			require.Len(t, allocations, len(tt.expected))
			for i, want := range tt.expected {
				assert.True(t, dec(want).Equal(allocations[i]), "allocation %d: expected %s, got %s", i, want, allocations[i])
			}
			assert.True(t, dec(tt.residual).Equal(residual), "residual: expected %s, got %s", tt.residual, residual)

			distributed := decimal.Zero
			for _, a := range allocations {
				distributed = distributed.Add(a)
			}
			assert.True(t, distributed.Add(residual).Equal(dec(tt.delta)), "allocations plus residual must equal the delta")
		})
	}
}

func TestDistributeDelta_Deterministic(t *testing.T) {
	dec := decimal.RequireFromString
	weights := []decimal.Decimal{dec("2.5"), dec("2.5"), dec("5")}

	first, _ := DistributeDelta(dec("0.07"), dec("0.01"), weights)
	second, _ := DistributeDelta(dec("0.07"), dec("0.01"), weights)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]))
	}
}
