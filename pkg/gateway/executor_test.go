package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_Execute(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotAuth string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(downstream.Close)

	executor := NewHTTPExecutor(nil)
	tool := &Tool{Name: "db.query", Connection: &Connection{URL: downstream.URL}}

	result, err := executor.Execute(context.Background(), tool,
		json.RawMessage(`{"sql":"select 1"}`), "hunter2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.JSONEq(t, `{"sql":"select 1"}`, string(gotBody))
	assert.Equal(t, "Bearer hunter2", gotAuth)
}

func TestHTTPExecutor_NoCredential(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(downstream.Close)

	executor := NewHTTPExecutor(nil)
	tool := &Tool{Name: "echo", Connection: &Connection{URL: downstream.URL}}

	_, err := executor.Execute(context.Background(), tool, nil, "")
	require.NoError(t, err)
}

func TestHTTPExecutor_DownstreamError(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(downstream.Close)

	executor := NewHTTPExecutor(nil)
	tool := &Tool{Name: "db.query", Connection: &Connection{URL: downstream.URL}}

	_, err := executor.Execute(context.Background(), tool, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPExecutor_NoConnection(t *testing.T) {
	t.Parallel()

	executor := NewHTTPExecutor(nil)
	_, err := executor.Execute(context.Background(), &Tool{Name: "orphan"}, nil, "")
	assert.Error(t, err)
}
