package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{"NOT_FOUND", http.StatusNotFound},
		{"ENTITY_NOT_FOUND", http.StatusNotFound},
		{"AMOUNT_EXCEEDS_CAPACITY", http.StatusUnprocessableEntity},
		{"CURRENCY_MISMATCH", http.StatusUnprocessableEntity},
		{"ALREADY_ALLOCATED", http.StatusConflict},
		{"REMOTE_WRITE_FAILED", http.StatusBadGateway},
		{"DISALLOWED_CONTENT_TYPE", http.StatusUnsupportedMediaType},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID("ENTITY_NOT_FOUND", "invoice/1 not found", "req-123")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ENTITY_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "req-123", resp.Error.RequestID)
	assert.NotZero(t, resp.Error.Timestamp)
}

func TestNewValidationErrorResponse(t *testing.T) {
	details := []ValidationDetail{
		{Field: "amount", Message: "Must be greater than 0"},
		{Field: "payment_id", Message: "Invalid UUID format"},
	}
	resp := NewValidationErrorResponse("Request validation failed", "req-789", details)

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 2)
	assert.Equal(t, "amount", resp.Error.Details[0].Field)
}

func TestResponseJSON(t *testing.T) {
	t.Run("success omits error", func(t *testing.T) {
		data, err := json.Marshal(NewListResponse([]int{1, 2}, Meta{Total: 2, Cache: "invoices"}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"data":[1,2],"meta":{"total":2,"cache":"invoices"}}`, string(data))
	})

	t.Run("error omits data", func(t *testing.T) {
		data, err := json.Marshal(NewErrorResponse(ErrCodeBadRequest, "bad"))
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, false, decoded["success"])
		assert.NotContains(t, decoded, "data")
		assert.Equal(t, ErrCodeBadRequest, decoded["error"].(map[string]any)["code"])
	})
}
