package handler

import (
	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/gin-gonic/gin"
)

// AllocationHandler serves allocation commands. Every command answers the
// LedgerDiff it produced.
type AllocationHandler struct {
	ledgerHandler
}

// NewAllocationHandler creates a new AllocationHandler
func NewAllocationHandler(service *ledgerapp.LedgerService) *AllocationHandler {
	return &AllocationHandler{ledgerHandler{service: service}}
}

// RegisterRoutes registers the allocation routes on rg
func (h *AllocationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	allocations := rg.Group("/allocations")
	allocations.POST("", h.Create)
	allocations.PUT("/:id", h.Update)
	allocations.DELETE("/:id", h.Remove)

	orders := rg.Group("/production-order-allocations")
	orders.POST("", h.CreateProductionOrder)
	orders.PUT("/:id", h.UpdateProductionOrder)
	orders.DELETE("/:id", h.RemoveProductionOrder)
}

// Create applies part of a payment to an invoice
//
// POST /api/v1/ledger/allocations
func (h *AllocationHandler) Create(c *gin.Context) {
	var req CreateAllocationRequest
	if !h.bindJSON(c, &req) {
		return
	}
	r := req.toDomain()
	if !h.owned(c, r.PaymentID.Key()) || !h.owned(c, r.InvoiceID.Key()) {
		return
	}
	d, err := h.service.CreateAllocation(c.Request.Context(), r)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, d)
}

// Update sets a new allocation amount
//
// PUT /api/v1/ledger/allocations/:id
func (h *AllocationHandler) Update(c *gin.Context) {
	id, req, ok := h.updateInput(c)
	if !ok {
		return
	}
	d, err := h.service.UpdateAllocation(c.Request.Context(), id, req.Amount)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// Remove deletes an allocation
//
// DELETE /api/v1/ledger/allocations/:id
func (h *AllocationHandler) Remove(c *gin.Context) {
	id, ok := h.allocationID(c)
	if !ok {
		return
	}
	d, err := h.service.RemoveAllocation(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// CreateProductionOrder applies part of an invoice subtotal to a production order
//
// POST /api/v1/ledger/production-order-allocations
func (h *AllocationHandler) CreateProductionOrder(c *gin.Context) {
	var req CreateProductionOrderAllocationRequest
	if !h.bindJSON(c, &req) {
		return
	}
	r := req.toDomain()
	if !h.owned(c, r.InvoiceID.Key()) {
		return
	}
	d, err := h.service.CreateProductionOrderAllocation(c.Request.Context(), r)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, d)
}

// UpdateProductionOrder sets a new production order allocation amount
//
// PUT /api/v1/ledger/production-order-allocations/:id
func (h *AllocationHandler) UpdateProductionOrder(c *gin.Context) {
	id, req, ok := h.updateInput(c)
	if !ok {
		return
	}
	d, err := h.service.UpdateProductionOrderAllocation(c.Request.Context(), id, req.Amount)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// RemoveProductionOrder deletes a production order allocation
//
// DELETE /api/v1/ledger/production-order-allocations/:id
func (h *AllocationHandler) RemoveProductionOrder(c *gin.Context) {
	id, ok := h.allocationID(c)
	if !ok {
		return
	}
	d, err := h.service.RemoveProductionOrderAllocation(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, d)
}

// allocationID parses the path id and checks the allocation belongs to the team
func (h *AllocationHandler) allocationID(c *gin.Context) (ledger.AllocationID, bool) {
	raw, ok := h.pathID(c, "id")
	if !ok {
		return ledger.AllocationID{}, false
	}
	id := ledger.AllocationID(raw)
	if !h.owned(c, id.Key()) {
		return ledger.AllocationID{}, false
	}
	return id, true
}

func (h *AllocationHandler) updateInput(c *gin.Context) (ledger.AllocationID, UpdateAllocationRequest, bool) {
	var req UpdateAllocationRequest
	id, ok := h.allocationID(c)
	if !ok || !h.bindJSON(c, &req) {
		return id, req, false
	}
	return id, req, true
}
