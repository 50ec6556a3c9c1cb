package types

import (
	"slices"

	ierr "github.com/taxmill/taxmill/internal/errors"
)

// AmountType determines how a tax amount is computed from its base.
type AmountType string

const (
	AmountTypeFixed    AmountType = "fixed"
	AmountTypePercent  AmountType = "percent"
	AmountTypeDivision AmountType = "division"
	AmountTypeGroup    AmountType = "group"
)

func (t AmountType) String() string {
	return string(t)
}

func (t AmountType) Validate() error {
	allowedValues := []string{
		AmountTypeFixed.String(),
		AmountTypePercent.String(),
		AmountTypeDivision.String(),
		AmountTypeGroup.String(),
	}
	if !slices.Contains(allowedValues, string(t)) {
		return ierr.NewError("invalid amount type").
			WithHint("Amount type must be one of fixed, percent, division or group").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DocumentType selects which repartition scheme of a tax applies.
type DocumentType string

const (
	DocumentTypeInvoice DocumentType = "invoice"
	DocumentTypeRefund  DocumentType = "refund"
)

func (t DocumentType) String() string {
	return string(t)
}

func (t DocumentType) Validate() error {
	allowedValues := []string{
		DocumentTypeInvoice.String(),
		DocumentTypeRefund.String(),
	}
	if !slices.Contains(allowedValues, string(t)) {
		return ierr.NewError("invalid document type").
			WithHint("Document type must be either invoice or refund").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RepartitionType defines what a repartition line distributes: the taxable
// base or the computed tax amount.
type RepartitionType string

const (
	RepartitionTypeBase RepartitionType = "base"
	RepartitionTypeTax  RepartitionType = "tax"
)

func (t RepartitionType) String() string {
	return string(t)
}

func (t RepartitionType) Validate() error {
	allowedValues := []string{
		RepartitionTypeBase.String(),
		RepartitionTypeTax.String(),
	}
	if !slices.Contains(allowedValues, string(t)) {
		return ierr.NewError("invalid repartition type").
			WithHint("Repartition type must be either base or tax").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RoundingMode selects how per-line amounts are reconciled with document
// totals.
type RoundingMode string

const (
	// RoundPerLine rounds every amount to currency precision as soon as it is
	// computed. No cross-line reconciliation happens.
	RoundPerLine RoundingMode = "round_per_line"

	// RoundGlobally keeps raw amounts per line, rounds the document-level
	// aggregate once and redistributes the rounding delta back to the
	// contributing lines.
	RoundGlobally RoundingMode = "round_globally"
)

func (m RoundingMode) String() string {
	return string(m)
}

func (m RoundingMode) Validate() error {
	allowedValues := []string{
		RoundPerLine.String(),
		RoundGlobally.String(),
	}
	if !slices.Contains(allowedValues, string(m)) {
		return ierr.NewError("invalid rounding mode").
			WithHint("Rounding mode must be either round_per_line or round_globally").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RoundingMethod controls how a value halfway between two rounding steps is
// resolved.
type RoundingMethod string

const (
	RoundingMethodHalfUp   RoundingMethod = "half_up"
	RoundingMethodHalfDown RoundingMethod = "half_down"
	RoundingMethodHalfEven RoundingMethod = "half_even"
	RoundingMethodUp       RoundingMethod = "up"
	RoundingMethodDown     RoundingMethod = "down"
)

func (m RoundingMethod) String() string {
	return string(m)
}

func (m RoundingMethod) Validate() error {
	allowedValues := []string{
		RoundingMethodHalfUp.String(),
		RoundingMethodHalfDown.String(),
		RoundingMethodHalfEven.String(),
		RoundingMethodUp.String(),
		RoundingMethodDown.String(),
	}
	if !slices.Contains(allowedValues, string(m)) {
		return ierr.NewError("invalid rounding method").
			WithHint("Rounding method must be one of half_up, half_down, half_even, up or down").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SpecialMode alters how price-included taxes are interpreted on a base line.
// The zero value is the normal mode.
type SpecialMode string

const (
	SpecialModeNone          SpecialMode = ""
	SpecialModeTotalExcluded SpecialMode = "total_excluded"
	SpecialModeTotalIncluded SpecialMode = "total_included"
)

func (m SpecialMode) String() string {
	return string(m)
}

func (m SpecialMode) Validate() error {
	allowedValues := []string{
		SpecialModeNone.String(),
		SpecialModeTotalExcluded.String(),
		SpecialModeTotalIncluded.String(),
	}
	if !slices.Contains(allowedValues, string(m)) {
		return ierr.NewError("invalid special mode").
			WithHint("Special mode must be empty, total_excluded or total_included").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ComputeAnchor selects which per-line quantity global rounding anchors on.
type ComputeAnchor string

const (
	// ComputeAnchorMixed picks total_included when any tax on the line is
	// price included and total_excluded otherwise.
	ComputeAnchorMixed    ComputeAnchor = "mixed"
	ComputeAnchorExcluded ComputeAnchor = "excluded"
	ComputeAnchorIncluded ComputeAnchor = "included"
)

func (a ComputeAnchor) String() string {
	return string(a)
}

func (a ComputeAnchor) Validate() error {
	allowedValues := []string{
		ComputeAnchorMixed.String(),
		ComputeAnchorExcluded.String(),
		ComputeAnchorIncluded.String(),
	}
	if !slices.Contains(allowedValues, string(a)) {
		return ierr.NewError("invalid compute anchor").
			WithHint("Compute anchor must be one of mixed, excluded or included").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CashRoundingStrategy defines how a document total reaches a coarser cash
// rounding precision.
type CashRoundingStrategy string

const (
	// CashRoundingAddInvoiceLine adds a synthetic base amount line carrying
	// the adjustment.
	CashRoundingAddInvoiceLine CashRoundingStrategy = "add_invoice_line"

	// CashRoundingBiggestTax nudges the tax amount of the largest tax group.
	CashRoundingBiggestTax CashRoundingStrategy = "biggest_tax"
)

func (s CashRoundingStrategy) String() string {
	return string(s)
}

func (s CashRoundingStrategy) Validate() error {
	allowedValues := []string{
		CashRoundingAddInvoiceLine.String(),
		CashRoundingBiggestTax.String(),
	}
	if !slices.Contains(allowedValues, string(s)) {
		return ierr.NewError("invalid cash rounding strategy").
			WithHint("Cash rounding strategy must be either add_invoice_line or biggest_tax").
			Mark(ierr.ErrValidation)
	}
	return nil
}
