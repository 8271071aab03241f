// Package handler holds the gin handlers of the ledger HTTP API.
package handler

import (
	"errors"
	"net/http"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// List sends a list response with meta
func (h *BaseHandler) List(c *gin.Context, data any, meta dto.Meta) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, meta))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with an explicit status
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// HandleError converts service errors to HTTP responses. Rejected ledger
// commands carry their violation, failed remote writes answer 502 and
// anything without a domain code is a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	requestID := middleware.GetRequestID(c)

	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp := dto.NewErrorResponseWithRequestID(ve.Code, ve.Message, requestID)
		resp.Error.Violation = ve
		c.JSON(dto.GetHTTPStatus(ve.Code), resp)
		return
	}

	var rwe *ledger.RemoteWriteFailedError
	if errors.As(err, &rwe) {
		logger.GetGinLogger(c).Warn("Ledger write rolled back",
			zap.String("op", rwe.Op),
			zap.Error(rwe.Cause),
		)
		c.JSON(http.StatusBadGateway, dto.NewErrorResponseWithRequestID(
			ledger.ErrRemoteWriteFailed.Code, ledger.ErrRemoteWriteFailed.Message, requestID))
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		c.JSON(dto.GetHTTPStatus(domainErr.Code),
			dto.NewErrorResponseWithRequestID(domainErr.Code, domainErr.Message, requestID))
		return
	}

	logger.GetGinLogger(c).Error("Unhandled ledger error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal, "An unexpected error occurred", requestID))
}

// bindJSON binds and validates the body, writing the 400 itself on failure
func (h *BaseHandler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// team returns the request team, writing a 400 when the route was served
// without one
func (h *BaseHandler) team(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.GetTeamID(c)
	if !ok {
		h.Error(c, http.StatusBadRequest, "TEAM_REQUIRED", "X-Team-ID header is required")
		return uuid.Nil, false
	}
	return id, true
}

// pathID parses a uuid path parameter, writing a 400 when it is malformed
func (h *BaseHandler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// ledgerHandler is embedded by every handler that touches ledger documents
type ledgerHandler struct {
	BaseHandler
	service *ledgerapp.LedgerService
}

// owned checks that key exists and belongs to the request team. Documents of
// other teams answer 404 so their existence does not leak.
func (h *ledgerHandler) owned(c *gin.Context, key ledger.EntityKey) bool {
	teamID, ok := h.team(c)
	if !ok {
		return false
	}
	owner, found := ownerTeam(h.service.Engine().Store(), key)
	if !found || owner != teamID {
		h.Error(c, http.StatusNotFound, ledger.ErrEntityNotFound.Code, key.String()+" not found")
		return false
	}
	return true
}

func ownerTeam(store *ledger.Store, key ledger.EntityKey) (uuid.UUID, bool) {
	switch key.Kind {
	case ledger.KindInvoice:
		if inv, ok := store.Invoice(ledger.InvoiceID(key.ID)); ok {
			return inv.TeamID, true
		}
	case ledger.KindPayment:
		if p, ok := store.Payment(ledger.PaymentID(key.ID)); ok {
			return p.TeamID, true
		}
	case ledger.KindCreditNote:
		if cn, ok := store.CreditNote(ledger.CreditNoteID(key.ID)); ok {
			return cn.TeamID, true
		}
	case ledger.KindAllocation:
		if a, ok := store.Allocation(ledger.AllocationID(key.ID)); ok {
			return a.TeamID, true
		}
	}
	return uuid.Nil, false
}
