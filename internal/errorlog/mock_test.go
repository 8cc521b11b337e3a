package errorlog_test

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/oriys/relog/internal/webclient"
)

// MockClient 是 webclient.Client 的模拟实现。
// 请求头是普通的 http.Header，测试可以直接检查调用方设置的值。
type MockClient struct {
	mock.Mock
	header http.Header
}

func NewMockClient() *MockClient {
	return &MockClient{header: make(http.Header)}
}

func (m *MockClient) Header() http.Header {
	return m.header
}

func (m *MockClient) Get(ctx context.Context, uri string) (string, error) {
	args := m.Called(ctx, uri)
	return args.String(0), args.Error(1)
}

func (m *MockClient) Post(ctx context.Context, uri string, data string) (string, error) {
	args := m.Called(ctx, uri, data)
	return args.String(0), args.Error(1)
}

// MockFactory 是 webclient.Factory 的模拟实现。
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Create() webclient.Client {
	args := m.Called()
	return args.Get(0).(webclient.Client)
}
