package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// echoLength answers with the number of bytes it could read, or 413 once the
// capped reader gives up
func echoLength(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.String(http.StatusRequestEntityTooLarge, "capped at %d", tooLarge.Limit)
		return
	}
	c.String(http.StatusOK, "%d", len(data))
}

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name          string
		limit         int64
		body          string
		contentLength int64
		wantStatus    int
		wantBody      string
	}{
		{name: "allocation payload within limit", limit: 1024, body: `{"amount":"250.00"}`, contentLength: 19, wantStatus: http.StatusOK, wantBody: "19"},
		{name: "declared length over limit", limit: 16, body: strings.Repeat("x", 64), contentLength: 64, wantStatus: http.StatusRequestEntityTooLarge, wantBody: "REQUEST_TOO_LARGE"},
		{name: "streamed body over limit", limit: 16, body: strings.Repeat("x", 64), contentLength: -1, wantStatus: http.StatusRequestEntityTooLarge, wantBody: "capped at 16"},
		{name: "limit disabled", limit: 0, body: strings.Repeat("x", 64), contentLength: 64, wantStatus: http.StatusOK, wantBody: "64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID())
			r.Use(BodyLimit(tt.limit))
			r.POST("/ledger/allocations", echoLength)

			req := httptest.NewRequest(http.MethodPost, "/ledger/allocations", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}

	t.Run("reads without body pass", func(t *testing.T) {
		r := gin.New()
		r.Use(BodyLimit(1))
		r.GET("/ledger/summary", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ledger/summary", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
