package http

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockHTTPClient is a testify mock of HTTPClientInterface.
type MockHTTPClient struct {
	mock.Mock
}

var _ HTTPClientInterface = (*MockHTTPClient)(nil)

func (m *MockHTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func (m *MockHTTPClient) DoJSON(ctx context.Context, method, url string, in, out interface{}, timeout time.Duration) error {
	args := m.Called(ctx, method, url, in, out, timeout)
	return args.Error(0)
}

func (m *MockHTTPClient) Close() {
	m.Called()
}
