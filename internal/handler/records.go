package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
	mid "github.com/hwalton/brickstock/internal/middleware"
	"github.com/hwalton/brickstock/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// page reads limit/offset, capping limit at 500.
func page(r *http.Request, def int) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", def); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if limit < 1 || limit > 500 || offset < 0 {
		return 0, 0, fmt.Errorf("limit must be 1-500 and offset non-negative")
	}
	return limit, offset, nil
}

// commonFilter holds the platform and date range shared by order and
// transaction listings.
type commonFilter struct {
	platform      domain.Platform
	from, to      time.Time
	limit, offset int
}

func (h *Handler) parseCommonFilter(r *http.Request) (commonFilter, error) {
	var (
		f   commonFilter
		err error
	)
	if v := r.URL.Query().Get("platform"); v != "" {
		if f.platform, err = domain.ParsePlatform(v); err != nil {
			return f, err
		}
	}
	if f.from, err = queryTime(r, "from"); err != nil {
		return f, err
	}
	if f.to, err = queryTime(r, "to"); err != nil {
		return f, err
	}
	if !f.from.IsZero() && !f.to.IsZero() && f.to.Before(f.from) {
		return f, fmt.Errorf("to must not be before from")
	}
	f.limit, f.offset, err = page(r, 100)
	return f, err
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	cf, err := h.parseCommonFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" {
		if err := h.validate.Var(status, "oneof=pending paid shipped completed cancelled refunded"); err != nil {
			writeError(w, http.StatusBadRequest, "unknown order status "+status)
			return
		}
	}
	orders, err := h.Records.ListOrders(r.Context(), mid.UserID(r.Context()), store.OrderFilter{
		Platform: cf.platform,
		Status:   domain.OrderStatus(status),
		From:     cf.from,
		To:       cf.to,
		Limit:    cf.limit,
		Offset:   cf.offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Records.GetOrder(r.Context(), mid.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	cf, err := h.parseCommonFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typ := r.URL.Query().Get("type")
	if typ != "" {
		if err := h.validate.Var(typ, "oneof=sale refund fee shipping_label payout adjustment"); err != nil {
			writeError(w, http.StatusBadRequest, "unknown transaction type "+typ)
			return
		}
	}
	txs, err := h.Records.ListTransactions(r.Context(), mid.UserID(r.Context()), store.TransactionFilter{
		Platform: cf.platform,
		Type:     domain.TransactionType(typ),
		From:     cf.from,
		To:       cf.to,
		Limit:    cf.limit,
		Offset:   cf.offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" {
		if err := h.validate.Var(status, "oneof=not_listed listed sold returned"); err != nil {
			writeError(w, http.StatusBadRequest, "unknown inventory status "+status)
			return
		}
	}
	limit, offset, err := page(r, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.Records.ListInventory(r.Context(), mid.UserID(r.Context()), store.InventoryFilter{
		Status:    domain.InventoryStatus(status),
		SetNumber: q.Get("set_number"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type createInventoryRequest struct {
	SKU             string           `json:"sku" validate:"max=100"`
	SetNumber       string           `json:"set_number" validate:"required,max=32"`
	Name            string           `json:"name" validate:"max=255"`
	Condition       string           `json:"condition" validate:"omitempty,oneof=new used"`
	Status          string           `json:"status" validate:"omitempty,oneof=not_listed listed"`
	Cost            decimal.Decimal  `json:"cost"`
	ListingPrice    *decimal.Decimal `json:"listing_price"`
	ListingPlatform string           `json:"listing_platform" validate:"omitempty,oneof=ebay amazon bricklink brickowl bricqer vinted"`
	PurchasedAt     *time.Time       `json:"purchased_at"`
}

func (h *Handler) createInventory(w http.ResponseWriter, r *http.Request) {
	var req createInventoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Cost.IsNegative() || (req.ListingPrice != nil && req.ListingPrice.IsNegative()) {
		writeError(w, http.StatusBadRequest, "prices must not be negative")
		return
	}
	it := domain.InventoryItem{
		SKU:             req.SKU,
		SetNumber:       req.SetNumber,
		Name:            req.Name,
		Condition:       req.Condition,
		Status:          domain.InventoryStatus(req.Status),
		Cost:            req.Cost,
		ListingPlatform: req.ListingPlatform,
		PurchasedAt:     req.PurchasedAt,
	}
	if req.ListingPrice != nil {
		it.ListingPrice = decimal.NewNullDecimal(*req.ListingPrice)
	}
	created, err := h.Records.CreateInventoryItem(r.Context(), mid.UserID(r.Context()), it)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// updateInventoryRequest is a partial update; absent fields stay unchanged.
// Sold state is owned by order sync and cannot be set here.
type updateInventoryRequest struct {
	SKU             *string          `json:"sku" validate:"omitempty,max=100"`
	SetNumber       *string          `json:"set_number" validate:"omitempty,min=1,max=32"`
	Name            *string          `json:"name" validate:"omitempty,max=255"`
	Condition       *string          `json:"condition" validate:"omitempty,oneof=new used"`
	Status          *string          `json:"status" validate:"omitempty,oneof=not_listed listed returned"`
	Cost            *decimal.Decimal `json:"cost"`
	ListingPrice    *decimal.Decimal `json:"listing_price"`
	ListingPlatform *string          `json:"listing_platform" validate:"omitempty,oneof=ebay amazon bricklink brickowl bricqer vinted"`
}

func (h *Handler) updateInventory(w http.ResponseWriter, r *http.Request) {
	var req updateInventoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if (req.Cost != nil && req.Cost.IsNegative()) || (req.ListingPrice != nil && req.ListingPrice.IsNegative()) {
		writeError(w, http.StatusBadRequest, "prices must not be negative")
		return
	}
	u := store.InventoryUpdate{
		SKU:             req.SKU,
		SetNumber:       req.SetNumber,
		Name:            req.Name,
		Condition:       req.Condition,
		Cost:            req.Cost,
		ListingPrice:    req.ListingPrice,
		ListingPlatform: req.ListingPlatform,
	}
	if req.Status != nil {
		s := domain.InventoryStatus(*req.Status)
		u.Status = &s
	}
	it, err := h.Records.UpdateInventoryItem(r.Context(), mid.UserID(r.Context()), chi.URLParam(r, "id"), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// exportInventory downloads the stock list as a workbook.
func (h *Handler) exportInventory(w http.ResponseWriter, r *http.Request) {
	b, err := h.Reports.InventoryWorkbook(r.Context(), mid.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := fmt.Sprintf("inventory-%s.xlsx", h.now().Format(time.DateOnly))
	writeFile(w, name, b)
}

func writeFile(w http.ResponseWriter, name string, b []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
