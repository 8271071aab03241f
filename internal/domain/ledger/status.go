package ledger

import "github.com/erp/ledger/internal/domain/shared/valueobject"

// DeriveStatus returns the status an invoice should have given its current
// status and freshly computed totals.
//
// draft and void only change through ReceiveInvoice and VoidInvoice. Every
// other status follows the totals: settled means paid, any payment means
// partially_paid, otherwise received.
func DeriveStatus(current InvoiceStatus, currency valueobject.Currency, t InvoiceTotals) InvoiceStatus {
	switch current {
	case InvoiceStatusDraft, InvoiceStatusVoid:
		return current
	}
	if t.IsSettled(currency) {
		return InvoiceStatusPaid
	}
	if !currency.ApproxZero(t.AmountPaid) && t.AmountPaid.IsPositive() {
		return InvoiceStatusPartiallyPaid
	}
	return InvoiceStatusReceived
}

// CanTransition reports whether an explicit transition is allowed. Derived
// transitions between received, partially_paid and paid are not explicit.
func CanTransition(from, to InvoiceStatus) bool {
	switch to {
	case InvoiceStatusReceived:
		return from == InvoiceStatusDraft
	case InvoiceStatusVoid:
		return !from.IsTerminal()
	}
	return false
}
