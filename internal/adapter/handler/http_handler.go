package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
	"github.com/rl1809/retail-pos/internal/metrics"
)

const maxBodyBytes = 1 << 20

type TokenParser interface {
	Parse(token string) (domain.Identity, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Services struct {
	Sales    *service.SaleService
	Products *service.ProductService
	Users    *service.UserService
	Auth     *service.AuthService
}

type HTTPHandler struct {
	sales    *service.SaleService
	products *service.ProductService
	users    *service.UserService
	auth     *service.AuthService
	tokens   TokenParser
	store    Pinger
	log      logrus.FieldLogger
}

func NewHTTPHandler(svc Services, tokens TokenParser, store Pinger, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{
		sales:    svc.Sales,
		products: svc.Products,
		users:    svc.Users,
		auth:     svc.Auth,
		tokens:   tokens,
		store:    store,
		log:      log,
	}
}

// Routes builds the HTTP surface. Everything under /api except the login
// endpoint needs a bearer token.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, h.accessLog, h.recoverer, instrument, cors)

	r.Get("/", h.Welcome)
	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Route("/sales", func(r chi.Router) {
				r.Get("/", h.ListSales)
				r.Post("/", h.CreateSale)
				r.Get("/{id}", h.GetSale)
				r.Delete("/{id}", h.DeleteSale)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.Post("/", h.CreateProduct)
				r.Get("/paginated", h.PaginatedProducts)
				r.Get("/search/{search}", h.SearchProducts)
				r.With(requireAdmin).Get("/low-stock", h.LowStockProducts)
				r.Get("/{id}", h.GetProduct)
				r.Put("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
				r.Post("/{id}/stock", h.AdjustStock)
			})

			r.Route("/users", func(r chi.Router) {
				r.With(requireAdmin).Get("/", h.ListUsers)
				r.With(requireAdmin).Post("/", h.CreateUser)
				r.Get("/{id}", h.GetUser)
				r.Put("/{id}", h.UpdateUser)
				r.With(requireAdmin).Delete("/{id}", h.DeleteUser)
			})
		})
	})

	return r
}

func (h *HTTPHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Welcome to server")
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check: store unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type dataResponse struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataResponse{Data: data})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.Validation("invalid request body")
	}
	return nil
}

// queryInt reads a non-negative integer parameter. Missing or malformed
// values yield 0 so the service default applies.
func queryInt(r *http.Request, names ...string) int {
	for _, name := range names {
		if raw := r.URL.Query().Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return 0
			}
			return n
		}
	}
	return 0
}

// pageRequest accepts the opaque cursor, or the older startAt parameter
// interpreted by legacy.
func pageRequest(r *http.Request, legacy func(startAt string) *domain.Cursor, sizeParams ...string) (domain.PageRequest, error) {
	req := domain.PageRequest{PageSize: queryInt(r, sizeParams...)}

	q := r.URL.Query()
	if raw := q.Get("cursor"); raw != "" {
		c, err := service.DecodeCursor(raw)
		if err != nil {
			return domain.PageRequest{}, err
		}
		req.Cursor = c
	} else if startAt := q.Get("startAt"); startAt != "" {
		req.Cursor = legacy(startAt)
	}
	return req, nil
}
