package domain

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Cursor marks the first row of the next page: the ordering value (nil for
// key-ordered collections) and the row key.
type Cursor struct {
	Value     any       `json:"v,omitempty"`
	Key       string    `json:"k,omitempty"`
	Direction Direction `json:"d"`
}

type PageRequest struct {
	Cursor   *Cursor
	PageSize int
}

type Page[T any] struct {
	Data       []T    `json:"data"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
	Total      int    `json:"total"`
}
