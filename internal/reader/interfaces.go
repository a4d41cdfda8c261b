package reader

import (
	"context"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// Fetcher retrieves the raw document behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Simplifier reduces a raw HTML document to its readable part.
type Simplifier interface {
	Simplify(raw []byte) (string, error)
}

// Collection is the slice of the collection controller the reader drives.
type Collection interface {
	Get(url string) (domain.Record, bool)
	Records() []domain.Record
	Update(ctx context.Context, url string, patch domain.Patch) (domain.Record, error)
}
