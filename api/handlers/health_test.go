package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockHealthCheck 模拟健康检查
type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string { return m.name }

func (m *mockHealthCheck) Check(context.Context) error { return m.err }

func TestHealthHandler_HandleHealthz(t *testing.T) {
	handler := NewHealthHandler("v1.2.3", zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "v1.2.3", status.Version)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantState  string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name:       "all pass",
			checks:     []HealthCheck{&mockHealthCheck{name: "a"}, &mockHealthCheck{name: "b"}},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name:       "one fails",
			checks:     []HealthCheck{&mockHealthCheck{name: "a"}, &mockHealthCheck{name: "redis", err: errors.New("down")}},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler("", nil)
			for _, c := range tt.checks {
				handler.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantState, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}
}

func TestRegistryHealthCheck(t *testing.T) {
	reg := llm.NewRegistry(zap.NewNop())
	check := NewRegistryHealthCheck(reg)
	assert.Equal(t, "registry", check.Name())
	assert.Error(t, check.Check(context.Background()))

	reg.RegisterInstance("mock", llm.Capabilities{Text: true}, mocks.NewMockProvider("mock"))
	assert.NoError(t, check.Check(context.Background()))
}

func TestFuncHealthCheck(t *testing.T) {
	check := NewFuncHealthCheck("redis", func(context.Context) error { return errors.New("refused") })
	assert.Equal(t, "redis", check.Name())
	assert.EqualError(t, check.Check(context.Background()), "refused")
}
