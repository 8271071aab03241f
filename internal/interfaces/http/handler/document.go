package handler

import (
	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/gin-gonic/gin"
)

// DocumentHandler serves document lifecycle commands: creation with
// allocations, status transitions, credit note links, cascading deletes
// and loading a team ledger.
type DocumentHandler struct {
	ledgerHandler
	defaultCurrency valueobject.Currency
}

// NewDocumentHandler creates a new DocumentHandler. Requests without a
// currency use defaultCurrency.
func NewDocumentHandler(service *ledgerapp.LedgerService, defaultCurrency valueobject.Currency) *DocumentHandler {
	return &DocumentHandler{
		ledgerHandler:   ledgerHandler{service: service},
		defaultCurrency: defaultCurrency,
	}
}

// RegisterRoutes registers the document routes on rg
func (h *DocumentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/load", h.Load)

	invoices := rg.Group("/invoices")
	invoices.POST("", h.CreateInvoice)
	invoices.POST("/:id/receive", h.ReceiveInvoice)
	invoices.POST("/:id/void", h.VoidInvoice)
	invoices.POST("/:id/credit-notes", h.LinkCreditNote)
	invoices.DELETE("/:id", h.DeleteInvoice)

	payments := rg.Group("/payments")
	payments.POST("", h.CreatePayment)
	payments.DELETE("/:id", h.DeletePayment)

	creditNotes := rg.Group("/credit-notes")
	creditNotes.POST("", h.CreateCreditNote)
	creditNotes.DELETE("/:id/link", h.UnlinkCreditNote)
	creditNotes.DELETE("/:id", h.DeleteCreditNote)
}

// Load seeds the ledger of the request team from the database
//
// POST /api/v1/ledger/load
func (h *DocumentHandler) Load(c *gin.Context) {
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	d, err := h.service.Load(c.Request.Context(), teamID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// CreateInvoice creates an invoice together with the payments allocated to it
//
// POST /api/v1/ledger/invoices
func (h *DocumentHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	inv, allocations, err := req.toDomain(teamID, h.defaultCurrency)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	for _, a := range allocations {
		if !h.owned(c, a.PaymentID.Key()) {
			return
		}
	}
	res, err := h.service.CreateInvoiceWithAllocations(c.Request.Context(), inv, allocations)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, res)
}

// CreatePayment creates a payment together with the invoices it settles
//
// POST /api/v1/ledger/payments
func (h *DocumentHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	p, allocations, err := req.toDomain(teamID, h.defaultCurrency)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	for _, a := range allocations {
		if !h.owned(c, a.InvoiceID.Key()) {
			return
		}
	}
	res, err := h.service.CreatePaymentWithAllocations(c.Request.Context(), p, allocations)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, res)
}

// CreateCreditNote creates a credit note, linked when invoice_id is set
//
// POST /api/v1/ledger/credit-notes
func (h *DocumentHandler) CreateCreditNote(c *gin.Context) {
	var req CreateCreditNoteRequest
	if !h.bindJSON(c, &req) {
		return
	}
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	cn, err := req.toDomain(teamID, h.defaultCurrency)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if cn.InvoiceID != nil && !h.owned(c, cn.InvoiceID.Key()) {
		return
	}
	d, err := h.service.CreateCreditNote(c.Request.Context(), cn)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, d)
}

// ReceiveInvoice moves a draft invoice to received
//
// POST /api/v1/ledger/invoices/:id/receive
func (h *DocumentHandler) ReceiveInvoice(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	d, err := h.service.ReceiveInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// VoidInvoice voids an invoice
//
// POST /api/v1/ledger/invoices/:id/void
func (h *DocumentHandler) VoidInvoice(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	d, err := h.service.VoidInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// LinkCreditNote attaches a credit note to the invoice
//
// POST /api/v1/ledger/invoices/:id/credit-notes
func (h *DocumentHandler) LinkCreditNote(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	var req LinkCreditNoteRequest
	if !h.bindJSON(c, &req) {
		return
	}
	cnID, _ := ledger.ParseCreditNoteID(req.CreditNoteID)
	if !h.owned(c, cnID.Key()) {
		return
	}
	d, err := h.service.LinkCreditNote(c.Request.Context(), id, cnID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// UnlinkCreditNote detaches a credit note from its invoice
//
// DELETE /api/v1/ledger/credit-notes/:id/link
func (h *DocumentHandler) UnlinkCreditNote(c *gin.Context) {
	id, ok := h.creditNoteID(c)
	if !ok {
		return
	}
	d, err := h.service.UnlinkCreditNote(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// DeleteInvoice deletes an invoice after its allocations and credit note
// links. The answer lists every diff applied, in order.
//
// DELETE /api/v1/ledger/invoices/:id
func (h *DocumentHandler) DeleteInvoice(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	diffs, err := h.service.DeleteInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, diffs)
}

// DeletePayment deletes a payment after its allocations
//
// DELETE /api/v1/ledger/payments/:id
func (h *DocumentHandler) DeletePayment(c *gin.Context) {
	raw, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	id := ledger.PaymentID(raw)
	if !h.owned(c, id.Key()) {
		return
	}
	diffs, err := h.service.DeletePayment(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, diffs)
}

// DeleteCreditNote deletes a credit note, unlinking it first
//
// DELETE /api/v1/ledger/credit-notes/:id
func (h *DocumentHandler) DeleteCreditNote(c *gin.Context) {
	id, ok := h.creditNoteID(c)
	if !ok {
		return
	}
	diffs, err := h.service.DeleteCreditNote(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, diffs)
}

func (h *DocumentHandler) invoiceID(c *gin.Context) (ledger.InvoiceID, bool) {
	raw, ok := h.pathID(c, "id")
	if !ok {
		return ledger.InvoiceID{}, false
	}
	id := ledger.InvoiceID(raw)
	return id, h.owned(c, id.Key())
}

func (h *DocumentHandler) creditNoteID(c *gin.Context) (ledger.CreditNoteID, bool) {
	raw, ok := h.pathID(c, "id")
	if !ok {
		return ledger.CreditNoteID{}, false
	}
	id := ledger.CreditNoteID(raw)
	return id, h.owned(c, id.Key())
}
