package port

import (
	"context"
	"io"
)

type ObjectStorage interface {
	// Upload stores body under key and returns its public URL
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}
