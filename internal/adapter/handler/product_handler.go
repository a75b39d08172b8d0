package handler

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

const maxUploadBytes = 10 << 20

type ProductHTTPRequest struct {
	Name        string           `json:"name"`
	Brand       string           `json:"brand"`
	Size        *float64         `json:"size"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	SKU         string           `json:"sku"`
	Description string           `json:"description"`
	ImageURL    string           `json:"imageUrl"`
}

func (p ProductHTTPRequest) input() service.ProductInput {
	return service.ProductInput{
		Name:        p.Name,
		Brand:       p.Brand,
		Size:        p.Size,
		Price:       p.Price,
		Stock:       p.Stock,
		SKU:         p.SKU,
		Description: p.Description,
		ImageURL:    p.ImageURL,
	}
}

type StockHTTPRequest struct {
	Quantity int                `json:"quantity"`
	Action   domain.StockAction `json:"action"`
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.products.List(r.Context(), r.URL.Query().Get("from"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) PaginatedProducts(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r, func(startAt string) *domain.Cursor {
		return &domain.Cursor{Key: startAt, Direction: domain.Ascending}
	}, "pageSize")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	page, err := h.products.Paginated(r.Context(), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.products.Search(r.Context(), chi.URLParam(r, "search"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) LowStockProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.products.LowStock(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	in, image, err := h.readProduct(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer closeImage(image)

	p, err := h.products.Create(r.Context(), in, image)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, p)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	in, image, err := h.readProduct(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer closeImage(image)

	p, err := h.products.Update(r.Context(), chi.URLParam(r, "id"), in, image)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req StockHTTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	p, err := h.products.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.Quantity, req.Action)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// readProduct accepts a JSON body or a multipart form with an optional
// "image" file part.
func (h *HTTPHandler) readProduct(r *http.Request) (service.ProductInput, *service.Image, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req ProductHTTPRequest
		if err := decodeJSON(r, &req); err != nil {
			return service.ProductInput{}, nil, err
		}
		return req.input(), nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return service.ProductInput{}, nil, domain.Validation("invalid multipart form")
	}

	in := service.ProductInput{
		Name:        r.FormValue("name"),
		Brand:       r.FormValue("brand"),
		SKU:         r.FormValue("sku"),
		Description: r.FormValue("description"),
		ImageURL:    r.FormValue("imageUrl"),
	}
	if raw := strings.TrimSpace(r.FormValue("size")); raw != "" {
		size, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return service.ProductInput{}, nil, domain.Validation("size must be numeric")
		}
		in.Size = &size
	}
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return service.ProductInput{}, nil, domain.Validation("price must be numeric")
		}
		in.Price = &price
	}
	if raw := strings.TrimSpace(r.FormValue("stock")); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			return service.ProductInput{}, nil, domain.Validation("stock must be an integer")
		}
		in.Stock = &stock
	}

	file, header, err := r.FormFile("image")
	if err == http.ErrMissingFile {
		return in, nil, nil
	}
	if err != nil {
		return service.ProductInput{}, nil, domain.Validation("invalid image")
	}
	return in, &service.Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}, nil
}

func closeImage(image *service.Image) {
	if image == nil {
		return
	}
	if c, ok := image.Body.(io.Closer); ok {
		c.Close()
	}
}
