package handler

import (
	"io"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// AttachmentHandler serves the scanned copy attached to an invoice
type AttachmentHandler struct {
	ledgerHandler
	attachments *ledgerapp.AttachmentService
	maxFileSize int64
}

// NewAttachmentHandler creates a new AttachmentHandler. Uploads larger than
// maxFileSize are cut off while reading; the service rejects them.
func NewAttachmentHandler(service *ledgerapp.LedgerService, attachments *ledgerapp.AttachmentService, maxFileSize int64) *AttachmentHandler {
	return &AttachmentHandler{
		ledgerHandler: ledgerHandler{service: service},
		attachments:   attachments,
		maxFileSize:   maxFileSize,
	}
}

// RegisterRoutes registers the attachment routes on rg
func (h *AttachmentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/invoices/:id/attachment", h.Upload)
	rg.GET("/invoices/:id/attachment", h.Download)
	rg.DELETE("/invoices/:id/attachment", h.Delete)
}

// Upload stores the multipart "file" as the invoice attachment, replacing
// any previous one
//
// POST /api/v1/ledger/invoices/:id/attachment
func (h *AttachmentHandler) Upload(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		h.BadRequest(c, "Multipart field 'file' is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.BadRequest(c, "Failed to read uploaded file")
		return
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxFileSize > 0 {
		r = io.LimitReader(f, h.maxFileSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		h.BadRequest(c, "Failed to read uploaded file")
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	resp, err := h.attachments.Upload(c.Request.Context(), id, ledgerapp.AttachmentUpload{
		FileName:    fh.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// Download returns a presigned URL for the invoice attachment
//
// GET /api/v1/ledger/invoices/:id/attachment
func (h *AttachmentHandler) Download(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	resp, err := h.attachments.DownloadURL(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Delete removes the invoice attachment
//
// DELETE /api/v1/ledger/invoices/:id/attachment
func (h *AttachmentHandler) Delete(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	if err := h.attachments.Delete(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

func (h *AttachmentHandler) invoiceID(c *gin.Context) (ledger.InvoiceID, bool) {
	raw, ok := h.pathID(c, "id")
	if !ok {
		return ledger.InvoiceID{}, false
	}
	id := ledger.InvoiceID(raw)
	return id, h.owned(c, id.Key())
}
