package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (f *handlerFixture) upload(t *testing.T, path, fileName, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.TeamHeader, f.team.String())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAttachmentHandler_Lifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "100")
	path := "/api/v1/ledger/invoices/" + inv.ID.String() + "/attachment"
	expectedKey := ledgerapp.AttachmentKey(f.team, uuid.UUID(inv.ID), "scan 1.pdf")

	f.repo.On("UpdateInvoiceAttachment", mock.Anything, inv.ID, expectedKey).Return(nil).Once()
	f.repo.On("UpdateInvoiceAttachment", mock.Anything, inv.ID, "").Return(nil).Once()

	w := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ATTACHMENT_NOT_FOUND", errorCode(t, w))

	w = f.upload(t, path, "scan 1.pdf", "application/pdf", []byte("%PDF-1.7 test"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp ledgerapp.AttachmentResponse
	decodeData(t, w, &resp)
	assert.Equal(t, expectedKey, resp.Key)
	assert.NotEmpty(t, resp.DownloadURL)

	data, contentType, ok := f.objects.Get(expectedKey)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.7 test", string(data))
	assert.Equal(t, "application/pdf", contentType)

	stored, _ := f.engine.Store().Invoice(inv.ID)
	assert.Equal(t, expectedKey, stored.AttachmentKey)

	w = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = ledgerapp.AttachmentResponse{}
	decodeData(t, w, &resp)
	assert.True(t, strings.Contains(resp.DownloadURL, "scan_1.pdf"))

	w = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, f.objects.Len())
	f.repo.AssertExpectations(t)
}

func TestAttachmentHandler_Rejections(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "100")
	path := "/api/v1/ledger/invoices/" + inv.ID.String() + "/attachment"

	t.Run("content type is sniffed when missing", func(t *testing.T) {
		w := f.upload(t, path, "notes.txt", "", []byte("plain words"))
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		assert.Equal(t, "DISALLOWED_CONTENT_TYPE", errorCode(t, w))
	})

	t.Run("pdf without declared type is detected", func(t *testing.T) {
		key := ledgerapp.AttachmentKey(f.team, uuid.UUID(inv.ID), "upload.pdf")
		f.repo.On("UpdateInvoiceAttachment", mock.Anything, inv.ID, key).Return(nil).Once()
		f.repo.On("UpdateInvoiceAttachment", mock.Anything, inv.ID, "").Return(nil).Once()

		w := f.upload(t, path, "upload.pdf", "application/octet-stream", []byte("%PDF-1.4\n%test"))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		_, contentType, ok := f.objects.Get(key)
		require.True(t, ok)
		assert.Equal(t, "application/pdf", contentType)

		w = f.do(t, http.MethodDelete, path, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("empty file", func(t *testing.T) {
		w := f.upload(t, path, "scan.pdf", "application/pdf", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		w := f.upload(t, path, "scan.pdf", "application/pdf", bytes.Repeat([]byte("x"), 2<<20))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		w := f.do(t, http.MethodPost, path, map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Zero(t, f.objects.Len())
	f.repo.AssertExpectations(t)
}
