package dto

import "net/http"

// Error codes produced by the HTTP layer itself. Domain errors keep their
// own codes (AMOUNT_EXCEEDS_CAPACITY, REMOTE_WRITE_FAILED, ...).
const (
	ErrCodeInternal        = "ERR_INTERNAL"
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Lookups
	"NOT_FOUND":            http.StatusNotFound,
	"ENTITY_NOT_FOUND":     http.StatusNotFound,
	"ATTACHMENT_NOT_FOUND": http.StatusNotFound,
	"CACHE_NOT_FOUND":      http.StatusNotFound,

	// Rejected ledger commands
	"AMOUNT_NOT_POSITIVE":     http.StatusUnprocessableEntity,
	"AMOUNT_PRECISION":        http.StatusUnprocessableEntity,
	"AMOUNT_EXCEEDS_CAPACITY": http.StatusUnprocessableEntity,
	"CURRENCY_MISMATCH":       http.StatusUnprocessableEntity,
	"DIRECTION_MISMATCH":      http.StatusUnprocessableEntity,
	"INVALID_STATE":           http.StatusUnprocessableEntity,
	"ALREADY_ALLOCATED":       http.StatusConflict,
	"ENTITY_IN_USE":           http.StatusConflict,

	// Document construction
	"INVALID_INVOICE_NUMBER":     http.StatusBadRequest,
	"INVALID_PAYMENT_NUMBER":     http.StatusBadRequest,
	"INVALID_CREDIT_NOTE_NUMBER": http.StatusBadRequest,
	"INVALID_DIRECTION":          http.StatusBadRequest,
	"INVALID_CURRENCY":           http.StatusBadRequest,
	"INVALID_AMOUNT":             http.StatusBadRequest,
	"INVALID_STATUS":             http.StatusBadRequest,
	"INVALID_REFERENCE":          http.StatusBadRequest,
	"TOTAL_MISMATCH":             http.StatusBadRequest,
	"CACHE_NOT_VIEW":             http.StatusBadRequest,

	// Attachments
	"EMPTY_ATTACHMENT":        http.StatusBadRequest,
	"ATTACHMENT_TOO_LARGE":    http.StatusRequestEntityTooLarge,
	"DISALLOWED_CONTENT_TYPE": http.StatusUnsupportedMediaType,

	// The local change was rolled back; the upstream store is at fault
	"REMOTE_WRITE_FAILED": http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
