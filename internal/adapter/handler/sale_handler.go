package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

const idempotencyKeyHeader = "Idempotency-Key"

type CreateSaleHTTPRequest struct {
	Total    *decimal.Decimal         `json:"total"`
	Products []domain.SaleItemRequest `json:"products"`
	Voucher  string                   `json:"voucher"`
}

func (h *HTTPHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleHTTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Total == nil {
		writeError(w, r, h.log, domain.Validation("total is required"))
		return
	}
	if len(req.Products) == 0 {
		writeError(w, r, h.log, domain.Validation("products are required"))
		return
	}

	sale, err := h.sales.Create(r.Context(), service.CreateSaleInput{
		Total:          *req.Total,
		Items:          req.Products,
		Seller:         identityFrom(r.Context()),
		Voucher:        req.Voucher,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, sale)
}

func (h *HTTPHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r, func(startAt string) *domain.Cursor {
		return &domain.Cursor{Value: startAt, Direction: domain.Descending}
	}, "pageSize", "limit")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	page, err := h.sales.List(r.Context(), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.sales.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, sale)
}

func (h *HTTPHandler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.sales.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, sale)
}
