package handler

import (
	"net/http"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ViewHandler serves read views of ledger documents and the registered caches
type ViewHandler struct {
	ledgerHandler
}

// NewViewHandler creates a new ViewHandler
func NewViewHandler(service *ledgerapp.LedgerService) *ViewHandler {
	return &ViewHandler{ledgerHandler{service: service}}
}

// RegisterRoutes registers the read routes on rg
func (h *ViewHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/invoices/:id", h.GetInvoice)
	rg.GET("/payments/:id", h.GetPayment)
	rg.GET("/credit-notes/:id", h.GetCreditNote)
	rg.GET("/summary", h.GetSummary)

	caches := rg.Group("/caches")
	caches.GET("", h.ListCaches)
	caches.GET("/:name", h.GetCache)
	caches.POST("/:name/entries", h.OpenDetail)
	caches.DELETE("/:name/entries/:kind/:id", h.CloseDetail)
}

// CacheInfo describes one registered cache
type CacheInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Shape   string `json:"shape,omitempty"`
	SortKey string `json:"sort_key,omitempty"`
	Entries int    `json:"entries"`
}

// OpenDetailRequest names the document to follow in a view cache
type OpenDetailRequest struct {
	Kind string `json:"kind" binding:"required,oneof=invoice payment credit_note"`
	ID   string `json:"id" binding:"required,uuid"`
}

// GetInvoice returns the view of an invoice. ?shape=list_row|detail, detail by default.
//
// GET /api/v1/ledger/invoices/:id
func (h *ViewHandler) GetInvoice(c *gin.Context) {
	h.view(c, ledger.KindInvoice)
}

// GetPayment returns the view of a payment
//
// GET /api/v1/ledger/payments/:id
func (h *ViewHandler) GetPayment(c *gin.Context) {
	h.view(c, ledger.KindPayment)
}

// GetCreditNote returns the view of a credit note
//
// GET /api/v1/ledger/credit-notes/:id
func (h *ViewHandler) GetCreditNote(c *gin.Context) {
	h.view(c, ledger.KindCreditNote)
}

func (h *ViewHandler) view(c *gin.Context, kind ledger.EntityKind) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	shape, ok := h.shape(c)
	if !ok {
		return
	}
	key := ledger.EntityKey{Kind: kind, ID: id}
	if !h.owned(c, key) {
		return
	}
	v, err := h.service.View(key, shape)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, v)
}

func (h *ViewHandler) shape(c *gin.Context) (ledgerapp.Shape, bool) {
	switch s := ledgerapp.Shape(c.DefaultQuery("shape", string(ledgerapp.ShapeDetail))); s {
	case ledgerapp.ShapeListRow, ledgerapp.ShapeDetail:
		return s, true
	default:
		h.BadRequest(c, "shape must be list_row or detail")
		return "", false
	}
}

// ListCaches lists the caches visible to the request team. Summary caches
// of other teams are hidden.
//
// GET /api/v1/ledger/caches
func (h *ViewHandler) ListCaches(c *gin.Context) {
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	sync := h.service.Synchronizer()
	infos := make([]CacheInfo, 0)
	for _, name := range sync.Names() {
		cache, ok := sync.Cache(name)
		if !ok {
			continue
		}
		switch cc := cache.(type) {
		case *ledgerapp.ViewCache:
			infos = append(infos, CacheInfo{
				Name:    name,
				Type:    "view",
				Shape:   string(cc.Shape()),
				SortKey: string(cc.SortKey()),
				Entries: len(teamEntries(cc, teamID)),
			})
		case *ledgerapp.SummaryCache:
			if cc.TeamID() != teamID {
				continue
			}
			infos = append(infos, CacheInfo{Name: name, Type: "summary", Entries: len(cc.Rows())})
		default:
			infos = append(infos, CacheInfo{Name: name, Type: "other"})
		}
	}
	h.List(c, infos, dto.Meta{Total: len(infos)})
}

// GetCache returns the entries of a cache that belong to the request team
//
// GET /api/v1/ledger/caches/:name
func (h *ViewHandler) GetCache(c *gin.Context) {
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	name := c.Param("name")
	cache, found := h.service.Synchronizer().Cache(name)
	switch cc := cache.(type) {
	case *ledgerapp.ViewCache:
		entries := teamEntries(cc, teamID)
		h.List(c, entries, dto.Meta{Total: len(entries), Cache: name, Sort: string(cc.SortKey())})
		return
	case *ledgerapp.SummaryCache:
		if cc.TeamID() == teamID {
			rows := cc.Rows()
			h.List(c, rows, dto.Meta{Total: len(rows), Cache: name})
			return
		}
	default:
		if found {
			h.Error(c, dto.GetHTTPStatus("CACHE_NOT_VIEW"), "CACHE_NOT_VIEW", "Cache "+name+" has no readable entries")
			return
		}
	}
	h.Error(c, http.StatusNotFound, "CACHE_NOT_FOUND", "Cache "+name+" is not registered")
}

// OpenDetail starts following a document in a view cache
//
// POST /api/v1/ledger/caches/:name/entries
func (h *ViewHandler) OpenDetail(c *gin.Context) {
	var req OpenDetailRequest
	if !h.bindJSON(c, &req) {
		return
	}
	key := ledger.EntityKey{Kind: ledger.EntityKind(req.Kind), ID: uuid.MustParse(req.ID)}
	if !h.owned(c, key) {
		return
	}
	v, err := h.service.OpenDetail(c.Param("name"), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, v)
}

// CloseDetail stops following a document in a view cache
//
// DELETE /api/v1/ledger/caches/:name/entries/:kind/:id
func (h *ViewHandler) CloseDetail(c *gin.Context) {
	kind := ledger.EntityKind(c.Param("kind"))
	switch kind {
	case ledger.KindInvoice, ledger.KindPayment, ledger.KindCreditNote:
	default:
		h.BadRequest(c, "kind must be invoice, payment or credit_note")
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	key := ledger.EntityKey{Kind: kind, ID: id}
	if !h.owned(c, key) {
		return
	}
	if err := h.service.CloseDetail(c.Param("name"), key); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// GetSummary returns the outstanding balances of the request team per
// direction and currency. The team ledger must have been loaded.
//
// GET /api/v1/ledger/summary
func (h *ViewHandler) GetSummary(c *gin.Context) {
	teamID, ok := h.team(c)
	if !ok {
		return
	}
	name := ledgerapp.SummaryCacheName(teamID)
	cache, found := h.service.Synchronizer().Cache(name)
	summary, isSummary := cache.(*ledgerapp.SummaryCache)
	if !found || !isSummary {
		h.Error(c, http.StatusNotFound, "CACHE_NOT_FOUND", "Ledger of the team is not loaded")
		return
	}
	rows := summary.Rows()
	h.List(c, rows, dto.Meta{Total: len(rows), Cache: name})
}

// teamEntries filters a possibly shared view cache down to one team
func teamEntries(vc *ledgerapp.ViewCache, teamID uuid.UUID) []*ledgerapp.LedgerView {
	all := vc.Entries()
	out := make([]*ledgerapp.LedgerView, 0, len(all))
	for _, v := range all {
		if v.TeamID == teamID {
			out = append(out, v)
		}
	}
	return out
}
