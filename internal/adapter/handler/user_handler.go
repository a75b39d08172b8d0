package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

type UserHTTPRequest struct {
	Name     string      `json:"name"`
	LastName string      `json:"lastName"`
	Email    string      `json:"email"`
	RUT      string      `json:"rut"`
	Role     domain.Role `json:"role"`
	Password string      `json:"password"`
}

func (u UserHTTPRequest) input() service.UserInput {
	return service.UserInput{
		Name:     u.Name,
		LastName: u.LastName,
		Email:    u.Email,
		RUT:      u.RUT,
		Role:     u.Role,
		Password: u.Password,
	}
}

type LoginHTTPRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginHTTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, h.log, domain.Validation("email and password are required"))
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := h.users.List(r.Context(), r.URL.Query().Get("from"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserHTTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	u, err := h.users.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, u)
}

func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller := identityFrom(r.Context())
	if !caller.Role.IsAdmin() && caller.ID != id {
		writeError(w, r, h.log, domain.Forbidden("insufficient role"))
		return
	}

	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UserHTTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	u, err := h.users.Update(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (h *HTTPHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, u)
}
