package tax

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	ierr "github.com/taxmill/taxmill/internal/errors"
	"github.com/taxmill/taxmill/internal/types"
)

// RepartitionLine splits a computed tax amount (or its base) into one
// accounting posting with a target account and report tags. A negative
// factor models the reverse charge mechanism.
type RepartitionLine struct {
	ID              string                `json:"id"`
	Factor          decimal.Decimal       `json:"factor"`
	RepartitionType types.RepartitionType `json:"repartition_type"`
	AccountID       string                `json:"account_id,omitempty"`
	TagIDs          []string              `json:"tag_ids,omitempty"`
	UseInTaxClosing bool                  `json:"use_in_tax_closing,omitempty"`

	// KeepZeroLine keeps the resulting accounting line even when its amount
	// rounds to zero, so tax report tags stay visible.
	KeepZeroLine bool `json:"keep_zero_line,omitempty"`
}

// TaxGroup is a reporting bucket combining one or more taxes for subtotal
// display purposes.
type TaxGroup struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`

	// PrecedingSubtotal is the label of the subtotal shown before this
	// group's taxes in the totals summary. Empty means the default
	// "Untaxed Amount" bucket.
	PrecedingSubtotal string `json:"preceding_subtotal,omitempty"`
}

// Tax is the immutable description of a tax. A group tax only carries
// children; every other kind carries its own repartition scheme.
type Tax struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	AmountType types.AmountType `json:"amount_type"`

	// Amount is the percentage for percent/division taxes and the monetary
	// value per unit for fixed taxes.
	Amount decimal.Decimal `json:"amount"`

	PriceInclude bool `json:"price_include,omitempty"`

	// IncludeBaseAmount makes this tax part of the base of subsequent taxes.
	IncludeBaseAmount bool `json:"include_base_amount,omitempty"`

	// IsBaseAffected lets earlier base-affecting taxes alter this tax's base.
	IsBaseAffected bool `json:"is_base_affected,omitempty"`

	// Sequence orders taxes within a document; ties are broken by ID.
	Sequence int `json:"sequence"`

	Children []*Tax `json:"children,omitempty"`

	InvoiceRepartitionLines []*RepartitionLine `json:"invoice_repartition_lines,omitempty"`
	RefundRepartitionLines  []*RepartitionLine `json:"refund_repartition_lines,omitempty"`

	TaxGroupID string `json:"tax_group_id,omitempty"`
}

// IsGroup reports whether this tax is a group of taxes.
func (t *Tax) IsGroup() bool {
	return t.AmountType == types.AmountTypeGroup
}

// RepartitionLinesFor returns the repartition lines for the given document
// type, filtered by repartition type and preserving their order.
func (t *Tax) RepartitionLinesFor(docType types.DocumentType, repType types.RepartitionType) []*RepartitionLine {
	lines := t.InvoiceRepartitionLines
	if docType == types.DocumentTypeRefund {
		lines = t.RefundRepartitionLines
	}
	return lo.Filter(lines, func(l *RepartitionLine, _ int) bool {
		return l.RepartitionType == repType
	})
}

// HasNegativeFactor reports whether any tax repartition line carries a
// negative factor, which marks the tax as reverse charge.
func (t *Tax) HasNegativeFactor(docType types.DocumentType) bool {
	return lo.SomeBy(t.RepartitionLinesFor(docType, types.RepartitionTypeTax), func(l *RepartitionLine) bool {
		return l.Factor.IsNegative()
	})
}

// NetFactor returns the sum of all tax repartition factors for the given
// document type. It is 1 for a regular tax and 0 for a full reverse charge
// (+100/-100) pair: the amount the tax contributes to the document total.
func (t *Tax) NetFactor(docType types.DocumentType) decimal.Decimal {
	net := decimal.Zero
	for _, l := range t.RepartitionLinesFor(docType, types.RepartitionTypeTax) {
		net = net.Add(l.Factor)
	}
	return net
}

// PositiveFactor returns the sum of the positive tax repartition factors for
// the given document type.
func (t *Tax) PositiveFactor(docType types.DocumentType) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range t.RepartitionLinesFor(docType, types.RepartitionTypeTax) {
		if l.Factor.IsPositive() {
			sum = sum.Add(l.Factor)
		}
	}
	return sum
}

// NegativeFactor returns the sum of the negative tax repartition factors for
// the given document type.
func (t *Tax) NegativeFactor(docType types.DocumentType) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range t.RepartitionLinesFor(docType, types.RepartitionTypeTax) {
		if l.Factor.IsNegative() {
			sum = sum.Add(l.Factor)
		}
	}
	return sum
}

// Validate checks the configuration invariants of a tax. Invalid
// configurations are rejected before any computation starts.
func (t *Tax) Validate() error {
	if err := t.AmountType.Validate(); err != nil {
		return err
	}

	if t.IsGroup() {
		if len(t.InvoiceRepartitionLines) > 0 || len(t.RefundRepartitionLines) > 0 {
			return ierr.NewError("group tax carries repartition lines").
				WithHintf("Tax '%s' is a group of taxes and must not define its own distribution", t.Name).
				Mark(ierr.ErrValidation)
		}
		if len(t.Children) == 0 {
			return ierr.NewError("empty group tax").
				WithHintf("Tax '%s' is a group of taxes and must contain at least one child tax", t.Name).
				Mark(ierr.ErrValidation)
		}
		for _, child := range t.Children {
			if child.IsGroup() {
				return ierr.NewError("nested group of taxes").
					WithHintf("Tax '%s' contains the group tax '%s'; groups cannot be nested", t.Name, child.Name).
					Mark(ierr.ErrValidation)
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	}

	if err := t.validateRepartitionLines(types.DocumentTypeInvoice); err != nil {
		return err
	}
	if err := t.validateRepartitionLines(types.DocumentTypeRefund); err != nil {
		return err
	}
	return t.validateRepartitionSymmetry()
}

func (t *Tax) validateRepartitionLines(docType types.DocumentType) error {
	baseLines := t.RepartitionLinesFor(docType, types.RepartitionTypeBase)
	if len(baseLines) != 1 {
		return ierr.NewError("invalid base distribution").
			WithHintf("Tax '%s' must have exactly one base repartition line per document type", t.Name).
			Mark(ierr.ErrValidation)
	}

	taxLines := t.RepartitionLinesFor(docType, types.RepartitionTypeTax)
	if len(taxLines) == 0 {
		return ierr.NewError("missing tax distribution").
			WithHintf("Tax '%s' must have at least one tax repartition line per document type", t.Name).
			Mark(ierr.ErrValidation)
	}

	one := decimal.NewFromInt(1)
	if !t.PositiveFactor(docType).Equal(one) {
		return ierr.NewError("tax distribution does not sum to 100%").
			WithHintf("The positive factors of tax '%s' must sum to +100%%", t.Name).
			Mark(ierr.ErrValidation)
	}
	if t.HasNegativeFactor(docType) && !t.NegativeFactor(docType).Equal(one.Neg()) {
		return ierr.NewError("tax distribution does not sum to -100%").
			WithHintf("The negative factors of tax '%s' must sum to -100%%", t.Name).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// validateRepartitionSymmetry ensures the invoice and refund distributions
// match line by line, so refunds mirror invoices exactly.
func (t *Tax) validateRepartitionSymmetry() error {
	invoice := t.InvoiceRepartitionLines
	refund := t.RefundRepartitionLines
	if len(invoice) != len(refund) {
		return ierr.NewError("asymmetric tax distribution").
			WithHintf("Tax '%s' must have the same number of invoice and refund repartition lines", t.Name).
			Mark(ierr.ErrValidation)
	}
	for i := range invoice {
		if invoice[i].RepartitionType != refund[i].RepartitionType || !invoice[i].Factor.Equal(refund[i].Factor) {
			return ierr.NewError("asymmetric tax distribution").
				WithHintf("Invoice and refund distributions of tax '%s' must match (same factors, in the same order)", t.Name).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
