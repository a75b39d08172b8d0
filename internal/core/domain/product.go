package domain

import "github.com/shopspring/decimal"

func init() {
	// Prices and totals travel as JSON numbers, matching what clients send.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Size        float64         `json:"size"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	SKU         string          `json:"sku,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Description string          `json:"description,omitempty"`
	IsDeleted   bool            `json:"isDeleted"`
	DeletedAt   *int64          `json:"deletedAt,omitempty"`
}

// LineTotal is the authoritative price of quantity units.
func (p Product) LineTotal(quantity int) decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(quantity)))
}

type StockAction string

const (
	StockActionAdd    StockAction = "add"
	StockActionRemove StockAction = "remove"
)
