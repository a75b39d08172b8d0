package handler

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/retail-pos/internal/core/domain"
)

type errorResponse struct {
	Message string `json:"message"`
}

var statusByKind = []struct {
	kind   error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrInsufficientStock, http.StatusConflict},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrTotalMismatch, http.StatusUnprocessableEntity},
}

// writeError is the single place where errors become responses. Anything
// that is not a domain error is logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			message := domain.Message(err)
			if message == "" {
				message = m.kind.Error()
			}
			writeJSON(w, m.status, errorResponse{Message: message})
			return
		}
	}

	log.WithError(err).WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": requestIDFrom(r.Context()),
	}).Error("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
}
