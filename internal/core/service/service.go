package service

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

const (
	productsCollection    = "products"
	salesCollection       = "sales"
	usersCollection       = "users"
	idempotencyCollection = "idempotency"
)

var tracer = otel.Tracer("github.com/rl1809/retail-pos/internal/core/service")

func decodeProduct(rec port.Record) (domain.Product, error) {
	var p domain.Product
	if err := json.Unmarshal(rec.Body, &p); err != nil {
		return domain.Product{}, errors.Wrapf(err, "decode product %s", rec.Key)
	}
	p.ID = rec.Key
	return p, nil
}

func decodeSale(rec port.Record) (domain.Sale, error) {
	var s domain.Sale
	if err := json.Unmarshal(rec.Body, &s); err != nil {
		return domain.Sale{}, errors.Wrapf(err, "decode sale %s", rec.Key)
	}
	s.ID = rec.Key
	return s, nil
}

func decodeUser(rec port.Record) (domain.User, error) {
	var u domain.User
	if err := json.Unmarshal(rec.Body, &u); err != nil {
		return domain.User{}, errors.Wrapf(err, "decode user %s", rec.Key)
	}
	u.ID = rec.Key
	return u, nil
}

// validKey rejects ids that would address another part of the tree.
func validKey(id string) bool {
	if id == "" || len(id) > 191 {
		return false
	}
	for _, c := range id {
		if c == '/' || c < 0x20 {
			return false
		}
	}
	return true
}
