package types

import (
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InvoiceStatus is the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusWaiting InvoiceStatus = "waiting"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusUnpaid, InvoiceStatusWaiting,
		InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusFailed:
		return nil
	}
	return ierr.NewError("invalid invoice status").
		WithHintf("invoice status %s is not supported", s).
		Mark(ierr.ErrValidation)
}

// Terminal reports whether no further collection activity applies
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusVoid
}

// InvoiceItemKind classifies invoice line items
type InvoiceItemKind string

const (
	InvoiceItemKindPeriod   InvoiceItemKind = "period"
	InvoiceItemKindTrial    InvoiceItemKind = "trial"
	InvoiceItemKindCredit   InvoiceItemKind = "credit"
	InvoiceItemKindDiscount InvoiceItemKind = "discount"
)

// Billable reports whether the item participates in finalization pricing
func (k InvoiceItemKind) Billable() bool {
	return k == InvoiceItemKindPeriod || k == InvoiceItemKindTrial
}

// PaymentAttemptStatus records the outcome of one collection attempt
type PaymentAttemptStatus string

const (
	PaymentAttemptSucceeded PaymentAttemptStatus = "succeeded"
	PaymentAttemptPending   PaymentAttemptStatus = "pending"
	PaymentAttemptFailed    PaymentAttemptStatus = "failed"
)

// MaxPaymentAttempts bounds the number of collection attempts before an
// invoice is marked failed
const MaxPaymentAttempts = 10
