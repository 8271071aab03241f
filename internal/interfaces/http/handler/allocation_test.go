package handler

import (
	"errors"
	"net/http"
	"testing"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAllocationHandler_Create(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "1000")
	p := f.payment(t, "PAY-1", "400")
	f.repo.On("SaveAllocation", mock.Anything, mock.AnythingOfType("*ledger.Allocation")).Return(nil).Once()

	w := f.do(t, http.MethodPost, "/api/v1/ledger/allocations", map[string]any{
		"payment_id": p.ID.String(),
		"invoice_id": inv.ID.String(),
		"amount":     "150.00",
		"remark":     "first instalment",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var diff ledger.LedgerDiff
	decodeData(t, w, &diff)
	assert.Equal(t, ledger.OpCreateAllocation, diff.Op)
	assert.Equal(t, f.team, diff.TeamID)
	require.NotNil(t, diff.Allocation)
	assert.Equal(t, ledger.ChangeAdded, diff.Allocation.Type)
	assert.True(t, diff.Allocation.After.Amount.Equal(dec("150")))
	assert.Len(t, diff.Affected, 2)

	row, ok := f.list.Get(inv.Key())
	require.True(t, ok)
	assert.True(t, row.BalanceDue.Equal(dec("850")))
	assert.Equal(t, string(ledger.InvoiceStatusPartiallyPaid), row.Status)
	f.repo.AssertExpectations(t)
}

func TestAllocationHandler_CreateRejected(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "100")
	p := f.payment(t, "PAY-1", "500")

	t.Run("amount above invoice balance", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/ledger/allocations", map[string]any{
			"payment_id": p.ID.String(),
			"invoice_id": inv.ID.String(),
			"amount":     "100.02",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		env := decode(t, w)
		require.NotNil(t, env.Error)
		assert.Equal(t, ledger.ErrAmountExceedsCapacity.Code, env.Error.Code)
		violation, ok := env.Error.Violation.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "100.02", violation["attempted"])
		assert.NotEmpty(t, violation["capacity"])
	})

	t.Run("zero amount fails validation", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/ledger/allocations", map[string]any{
			"payment_id": p.ID.String(),
			"invoice_id": inv.ID.String(),
			"amount":     "0",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w)
		assert.Equal(t, dto.ErrCodeValidation, env.Error.Code)
		require.NotEmpty(t, env.Error.Details)
		assert.Equal(t, "amount", env.Error.Details[0].Field)
	})

	t.Run("malformed ids fail validation", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/ledger/allocations", map[string]any{
			"payment_id": "nope",
			"invoice_id": inv.ID.String(),
			"amount":     "10",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("documents of another team are not found", func(t *testing.T) {
		w := f.doAs(t, uuid.New(), http.MethodPost, "/api/v1/ledger/allocations", map[string]any{
			"payment_id": p.ID.String(),
			"invoice_id": inv.ID.String(),
			"amount":     "10",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, ledger.ErrEntityNotFound.Code, errorCode(t, w))
	})

	t.Run("missing team header", func(t *testing.T) {
		w := f.doAs(t, uuid.Nil, http.MethodPost, "/api/v1/ledger/allocations", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "TEAM_REQUIRED", errorCode(t, w))
	})

	assert.Empty(t, f.engine.Store().InvoiceAllocations(inv.ID))
	f.repo.AssertNotCalled(t, "SaveAllocation", mock.Anything, mock.Anything)
}

func TestAllocationHandler_RemoteFailureRollsBack(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "1000")
	p := f.payment(t, "PAY-1", "400")
	f.repo.On("SaveAllocation", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

	w := f.do(t, http.MethodPost, "/api/v1/ledger/allocations", map[string]any{
		"payment_id": p.ID.String(),
		"invoice_id": inv.ID.String(),
		"amount":     "400",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, ledger.ErrRemoteWriteFailed.Code, errorCode(t, w))

	assert.Empty(t, f.engine.Store().InvoiceAllocations(inv.ID))
	row, _ := f.list.Get(inv.Key())
	assert.True(t, row.BalanceDue.Equal(dec("1000")))
	assert.Equal(t, string(ledger.InvoiceStatusReceived), row.Status)
}

func TestAllocationHandler_UpdateAndRemove(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "1000")
	p := f.payment(t, "PAY-1", "400")
	f.repo.On("SaveAllocation", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("DeleteAllocation", mock.Anything, mock.Anything).Return(nil)

	d, err := f.service.CreateAllocation(t.Context(), ledger.AllocationRequest{
		PaymentID: p.ID, InvoiceID: inv.ID, Amount: dec("100"),
	})
	require.NoError(t, err)
	id := d.Allocation.After.ID
	path := "/api/v1/ledger/allocations/" + id.String()

	w := f.do(t, http.MethodPut, path, map[string]any{"amount": "400"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated ledger.LedgerDiff
	decodeData(t, w, &updated)
	assert.Equal(t, ledger.OpUpdateAllocation, updated.Op)
	assert.True(t, updated.Allocation.Before.Amount.Equal(dec("100")))
	assert.True(t, updated.Allocation.After.Amount.Equal(dec("400")))

	w = f.do(t, http.MethodPut, path, map[string]any{"amount": "400.01"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPut, path, map[string]any{"amount": "0"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, ledger.ErrAmountNotPositive.Code, errorCode(t, w))

	w = f.doAs(t, uuid.New(), http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var removed ledger.LedgerDiff
	decodeData(t, w, &removed)
	assert.Equal(t, ledger.ChangeRemoved, removed.Allocation.Type)

	row, _ := f.list.Get(inv.Key())
	assert.True(t, row.BalanceDue.Equal(dec("1000")))

	w = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/ledger/allocations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllocationHandler_ProductionOrder(t *testing.T) {
	f := newHandlerFixture(t)
	inv := f.invoice(t, "INV-1", "1000")
	order := ledger.NewProductionOrderID()
	f.repo.On("SaveAllocation", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("DeleteAllocation", mock.Anything, mock.Anything).Return(nil)

	body := map[string]any{
		"invoice_id":          inv.ID.String(),
		"production_order_id": order.String(),
		"amount":              "600",
	}
	w := f.do(t, http.MethodPost, "/api/v1/ledger/production-order-allocations", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created ledger.LedgerDiff
	decodeData(t, w, &created)
	assert.Equal(t, ledger.OpCreateProductionOrderAllocation, created.Op)
	id := created.Allocation.After.ID

	w = f.do(t, http.MethodPost, "/api/v1/ledger/production-order-allocations", map[string]any{
		"invoice_id":          inv.ID.String(),
		"production_order_id": ledger.NewProductionOrderID().String(),
		"amount":              "400.01",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "subtotal is the capacity")

	path := "/api/v1/ledger/production-order-allocations/" + id.String()
	w = f.do(t, http.MethodPut, path, map[string]any{"amount": "1000"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	v, err := f.service.View(inv.Key(), ledgerapp.ShapeDetail)
	require.NoError(t, err)
	assert.True(t, v.Detail.AllocatedSubtotal.IsZero())
}
