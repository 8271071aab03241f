package ledger

import (
	"fmt"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// Sentinel errors. Every ValidationError unwraps to exactly one of them, so
// callers match with errors.Is(err, ledger.ErrAmountExceedsCapacity).
var (
	ErrAmountNotPositive     = shared.NewDomainError("AMOUNT_NOT_POSITIVE", "Allocation amount must be positive")
	ErrAmountPrecision       = shared.NewDomainError("AMOUNT_PRECISION", "Allocation amount is finer than the currency minor unit")
	ErrAmountExceedsCapacity = shared.NewDomainError("AMOUNT_EXCEEDS_CAPACITY", "Allocation amount exceeds remaining capacity")
	ErrCurrencyMismatch      = shared.NewDomainError("CURRENCY_MISMATCH", "Source and target currencies differ")
	ErrEntityNotFound        = shared.NewDomainError("ENTITY_NOT_FOUND", "Entity not found")
	ErrInvalidState          = shared.NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrDirectionMismatch     = shared.NewDomainError("DIRECTION_MISMATCH", "Payment and invoice directions differ")
	ErrDuplicateAllocation   = shared.NewDomainError("ALREADY_ALLOCATED", "Payment is already allocated to this invoice")
	ErrEntityInUse           = shared.NewDomainError("ENTITY_IN_USE", "Entity still has allocations or linked credit notes")
	ErrRemoteWriteFailed     = shared.NewDomainError("REMOTE_WRITE_FAILED", "Remote write failed, local change was rolled back")
)

// CapacitySide tells which end of an allocation ran out of room
type CapacitySide string

const (
	SideSource CapacitySide = "source"
	SideTarget CapacitySide = "target"
)

// ValidationError is returned when a command is rejected before anything is
// applied. Store and caches are untouched.
type ValidationError struct {
	Kind      *shared.DomainError `json:"-"`
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Entity    EntityKey           `json:"entity"`
	Side      CapacitySide        `json:"side,omitempty"`
	Attempted decimal.Decimal     `json:"attempted"`
	Capacity  decimal.Decimal     `json:"capacity"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel kind
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func newValidationError(kind *shared.DomainError, key EntityKey, msg string) *ValidationError {
	return &ValidationError{
		Kind:    kind,
		Code:    kind.Code,
		Message: msg,
		Entity:  key,
	}
}

func amountNotPositive(key EntityKey, amount decimal.Decimal) *ValidationError {
	e := newValidationError(ErrAmountNotPositive, key,
		fmt.Sprintf("Allocation amount %s must be positive", amount.String()))
	e.Attempted = amount
	return e
}

// checkAmount rejects non-positive amounts and amounts below the minor unit
// of currency.
func checkAmount(key EntityKey, currency valueobject.Currency, amount decimal.Decimal) *ValidationError {
	if !amount.IsPositive() {
		return amountNotPositive(key, amount)
	}
	if !currency.OnMinorGrid(amount) {
		e := newValidationError(ErrAmountPrecision, key, fmt.Sprintf(
			"Allocation amount %s has more than %d decimals for %s", amount.String(), currency.MinorUnits(), currency))
		e.Attempted = amount
		return e
	}
	return nil
}

func exceedsCapacity(key EntityKey, side CapacitySide, attempted, capacity decimal.Decimal) *ValidationError {
	e := newValidationError(ErrAmountExceedsCapacity, key, fmt.Sprintf(
		"Allocation amount %s exceeds remaining %s capacity %s of %s",
		attempted.StringFixed(2), side, capacity.StringFixed(2), key))
	e.Side = side
	e.Attempted = attempted
	e.Capacity = capacity
	return e
}

func entityNotFound(key EntityKey) *ValidationError {
	return newValidationError(ErrEntityNotFound, key, fmt.Sprintf("%s not found", key))
}

func invalidState(key EntityKey, msg string) *ValidationError {
	return newValidationError(ErrInvalidState, key, msg)
}

// RemoteWriteFailedError reports that the remote persistence call failed
// after the diff was applied locally. By the time it is returned the inverse
// diff has already been applied.
type RemoteWriteFailedError struct {
	Op    string
	Diff  *LedgerDiff
	Cause error
}

// Error implements the error interface
func (e *RemoteWriteFailedError) Error() string {
	return fmt.Sprintf("remote write failed for %s: %v", e.Op, e.Cause)
}

// Unwrap returns both the sentinel and the underlying cause
func (e *RemoteWriteFailedError) Unwrap() []error {
	return []error{ErrRemoteWriteFailed, e.Cause}
}
