package http

import (
	"context"
	"net/http"
	"time"
)

// HTTPClientInterface defines the interface for HTTP operations
type HTTPClientInterface interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	DoJSON(ctx context.Context, method, url string, in, out interface{}, timeout time.Duration) error
	Close()
}
