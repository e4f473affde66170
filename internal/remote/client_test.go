package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tpvsync/internal/remote"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

func newClient(t *testing.T, handler http.HandlerFunc) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestApply_SuccessCarriesRemoteID(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/create-sale", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "id": "s-99"})
	})
	c.SetTokenProvider(func(context.Context) string { return "tok-1" })

	res, err := c.Apply(context.Background(), core.CategoryCreateSale, map[string]any{"total": 10})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "s-99", res.ID)
}

func TestApply_BusinessRejectionIsNotRetryable(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "stock insuficiente"})
	})

	res, err := c.Apply(context.Background(), core.CategoryCreateSale, map[string]any{})
	require.NoError(t, err, "un rechazo de aplicación no es error de transporte")
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Equal(t, "stock insuficiente", res.Error)
}

func TestApply_ServerErrorIsRetryable(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	res, err := c.Apply(context.Background(), core.CategoryCreateSale, map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
}

func TestApply_TransportErrorIsGoError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // puerto muerto
	c := remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: time.Second})

	res, err := c.Apply(context.Background(), core.CategoryCreateSale, map[string]any{})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestFetchAll_DecodesRows(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/products", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "p-1"}, {"id": "p-2"}})
	})

	rows, err := c.FetchAll(context.Background(), "products")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRefreshSession_RoundTrip(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/refresh", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "r-old", in["refresh_token"])
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "a-new",
			"refresh_token": "r-new",
		})
	})

	access, refresh, err := c.RefreshSession(context.Background(), "r-old")
	require.NoError(t, err)
	assert.Equal(t, "a-new", access)
	assert.Equal(t, "r-new", refresh)
}

func TestReachable(t *testing.T) {
	up := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.True(t, up.Reachable(context.Background()))

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	down := remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: time.Second})
	assert.False(t, down.Reachable(context.Background()))
}
