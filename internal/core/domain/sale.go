package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is fixed width so stored dates sort lexicographically.
const DateLayout = "2006-01-02T15:04:05.000Z"

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// EpochMillis mirrors the deletedAt representation used by every collection.
func EpochMillis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

type Sale struct {
	ID        string          `json:"id,omitempty"`
	OrderID   string          `json:"orderId"`
	Seller    Identity        `json:"seller"`
	Products  []SaleLine      `json:"products"`
	Total     decimal.Decimal `json:"total"`
	Date      string          `json:"date"`
	Voucher   string          `json:"voucher,omitempty"`
	Deleted   bool            `json:"deleted"`
	DeletedAt *int64          `json:"deletedAt,omitempty"`
}

type SaleLine struct {
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
	Deleted  bool            `json:"deleted"`
}

// LinesTotal sums the line totals of the sale.
func (s Sale) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range s.Products {
		sum = sum.Add(line.Total)
	}
	return sum
}

type SaleItemRequest struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord tracks one seller's use of one Idempotency-Key.
// Fingerprint identifies the request body the key was first used with.
type IdempotencyRecord struct {
	Status      IdempotencyStatus `json:"status"`
	SaleID      string            `json:"saleId,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}
