package taxengine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxmill/taxmill/internal/types"
)

func computeAndRound(t *testing.T, engine *Engine, lines []*BaseLine, mode types.RoundingMode) {
	t.Helper()
	require.NoError(t, engine.AddTaxDetails(context.Background(), lines, mode))
	_, err := engine.RoundTaxDetails(lines, mode, types.ComputeAnchorMixed)
	require.NoError(t, err)
}

func TestPrepareTaxLines_AggregatesAcrossLines(t *testing.T) {
	engine := newTestEngine()
	vat := percent("vat", 1, "21")
	lines := []*BaseLine{
		newLine(t, "l1", "100", "1", vat),
		newLine(t, "l2", "100", "1", vat),
	}
	computeAndRound(t, engine, lines, types.RoundPerLine)

	result, err := engine.PrepareTaxLines(lines, nil)
	require.NoError(t, err)

	require.Len(t, result.ToCreate, 1)
	tl := result.ToCreate[0]
	assert.Equal(t, "vat", tl.TaxID)
	assert.Equal(t, "vat_tax_a", tl.RepartitionLineID)
	assert.Equal(t, "acc_vat", tl.AccountID)
	assert.Equal(t, []string{"vat_tax_tag"}, tl.TagIDs)
	assert.True(t, tl.UseInTaxClosing)
	assertDecimal(t, "42", tl.TaxAmount)
	assertDecimal(t, "200", tl.BaseAmount)

	require.Len(t, result.BaseLineUpdates, 2)
	upd := result.BaseLineUpdates[0]
	assert.Equal(t, "l1", upd.LineID)
	assertDecimal(t, "100", upd.TotalExcluded)
	assertDecimal(t, "121", upd.TotalIncluded)
	assert.Equal(t, []string{"vat_base_tag"}, upd.TaxTagIDs)
}

func TestPrepareTaxLines_SplitRepartitionReconciles(t *testing.T) {
	engine := newTestEngine()
	vat := percent("vat", 1, "21")
	vat.InvoiceRepartitionLines = repLines("vat", "0.5", "0.5")
	vat.RefundRepartitionLines = repLines("vat", "0.5", "0.5")

	// rounded tax amount is 0.05: an even split cannot round both halves up
	line := newLine(t, "l1", "0.24", "1", vat)
	computeAndRound(t, engine, []*BaseLine{line}, types.RoundPerLine)

	result, err := engine.PrepareTaxLines([]*BaseLine{line}, nil)
	require.NoError(t, err)

	require.Len(t, result.ToCreate, 2)
	sum := result.ToCreate[0].TaxAmount.Add(result.ToCreate[1].TaxAmount)
	assertDecimal(t, "0.05", sum)
	assertDecimal(t, "0.02", result.ToCreate[0].TaxAmount)
	assertDecimal(t, "0.03", result.ToCreate[1].TaxAmount)
}

func TestPrepareTaxLines_ReverseChargeEmitsBothSides(t *testing.T) {
	engine := newTestEngine()
	line := newLine(t, "l1", "100", "1", percent("rc", 1, "21", reverseCharge))
	computeAndRound(t, engine, []*BaseLine{line}, types.RoundPerLine)

	result, err := engine.PrepareTaxLines([]*BaseLine{line}, nil)
	require.NoError(t, err)

	require.Len(t, result.ToCreate, 2)
	assertDecimal(t, "21", result.ToCreate[0].TaxAmount)
	assertDecimal(t, "-21", result.ToCreate[1].TaxAmount)
	assert.NotEqual(t, result.ToCreate[0].RepartitionLineID, result.ToCreate[1].RepartitionLineID)
}

func TestPrepareTaxLines_ZeroAmounts(t *testing.T) {
	t.Run("dropped_by_default", func(t *testing.T) {
		engine := newTestEngine()
		line := newLine(t, "l1", "100", "0", percent("vat", 1, "21"))
		computeAndRound(t, engine, []*BaseLine{line}, types.RoundPerLine)

		result, err := engine.PrepareTaxLines([]*BaseLine{line}, nil)
		require.NoError(t, err)
		assert.Empty(t, result.ToCreate)
	})

	t.Run("kept_with_keep_zero_line", func(t *testing.T) {
		engine := newTestEngine()
		vat := percent("vat", 1, "21")
		for _, rep := range vat.InvoiceRepartitionLines {
			rep.KeepZeroLine = true
		}
		line := newLine(t, "l1", "100", "0", vat)
		computeAndRound(t, engine, []*BaseLine{line}, types.RoundPerLine)

		result, err := engine.PrepareTaxLines([]*BaseLine{line}, nil)
		require.NoError(t, err)
		require.Len(t, result.ToCreate, 1)
		assert.True(t, result.ToCreate[0].TaxAmount.IsZero())
	})
}

func TestPrepareTaxLines_DiffAgainstExisting(t *testing.T) {
	engine := newTestEngine()
	vat := percent("vat", 1, "21")
	line := newLine(t, "l1", "100", "1", vat)
	computeAndRound(t, engine, []*BaseLine{line}, types.RoundPerLine)

	matching := &TaxLine{
		ID:                "existing_1",
		TaxID:             "vat",
		RepartitionLineID: "vat_tax_a",
		Currency:          "usd",
		AccountID:         "acc_vat",
		TagIDs:            []string{"vat_tax_tag"},
		TaxAmount:         decimal.RequireFromString("19"),
	}
	stale := &TaxLine{
		ID:                "existing_2",
		TaxID:             "old_vat",
		RepartitionLineID: "old_vat_tax_a",
		Currency:          "usd",
	}

	result, err := engine.PrepareTaxLines([]*BaseLine{line}, []*TaxLine{matching, stale})
	require.NoError(t, err)

	assert.Empty(t, result.ToCreate)
	require.Len(t, result.ToUpdate, 1)
	assert.Equal(t, "existing_1", result.ToUpdate[0].ID)
	assertDecimal(t, "21", result.ToUpdate[0].TaxAmount)
	require.Len(t, result.ToDelete, 1)
	assert.Equal(t, "existing_2", result.ToDelete[0].ID)
}

func TestPrepareTaxLines_RequiresRoundedDetails(t *testing.T) {
	engine := newTestEngine()
	line := newLine(t, "l1", "100", "1", percent("vat", 1, "21"))
	require.NoError(t, engine.AddTaxDetails(context.Background(), []*BaseLine{line}, types.RoundPerLine))

	_, err := engine.PrepareTaxLines([]*BaseLine{line}, nil)
	assert.Error(t, err)
}

func TestPrepareTaxLines_RepartitionCompleteness(t *testing.T) {
	engine := newTestEngine()
	vat := percent("vat", 1, "19")
	vat.InvoiceRepartitionLines = repLines("vat", "0.3", "0.3", "0.4")
	vat.RefundRepartitionLines = repLines("vat", "0.3", "0.3", "0.4")

	lines := []*BaseLine{
		newLine(t, "l1", "13.37", "1", vat),
		newLine(t, "l2", "7.11", "3", vat),
	}
	computeAndRound(t, engine, lines, types.RoundGlobally)

	result, err := engine.PrepareTaxLines(lines, nil)
	require.NoError(t, err)

	expected := decimal.Zero
	for _, line := range lines {
		for _, td := range line.TaxDetails.TaxData {
			expected = expected.Add(td.TaxAmount)
		}
	}
	total := decimal.Zero
	for _, tl := range result.ToCreate {
		total = total.Add(tl.TaxAmount)
	}
	assert.True(t, expected.Equal(total), "repartition must not leak: %s != %s", expected, total)
}
