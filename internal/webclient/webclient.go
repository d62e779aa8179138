package webclient

import (
	"context"
)

// WebClient executes a fully built Request and returns the buffered Response.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Close() error
}
