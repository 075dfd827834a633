package sounding

import (
	"context"
	"io"
	"net/http"
	"time"
)

// FetchRequest captures everything needed to GET one page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher issues a GET and returns the raw page or a *TransportError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns raw HTML into the plain-text sounding table.
type Extractor interface {
	Extract(raw []byte) (string, error)
}

// BlobStore writes artifacts and returns a URI. Writing an existing path
// replaces it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar). kind labels
// the message type.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}
