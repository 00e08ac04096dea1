package loops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	return New("test-api-key", WithBaseURL(server.URL)), server
}

func TestSendTransactional_Success(t *testing.T) {
	var receivedBody map[string]any
	var receivedAuth, receivedIdempotency string

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		receivedIdempotency = r.Header.Get("Idempotency-Key")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transactional", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&receivedBody))

		w.Write([]byte(`{"success": true}`))
	})
	defer server.Close()

	err := client.SendTransactional(context.Background(), &TransactionalRequest{
		Email:           "ops@example.com",
		TransactionalID: "tmpl_123",
		DataVariables:   map[string]any{"summary": "40 jobs"},
		IdempotencyKey:  "run-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-api-key", receivedAuth)
	assert.Equal(t, "run-1", receivedIdempotency)
	assert.Equal(t, "ops@example.com", receivedBody["email"])
	assert.Equal(t, "tmpl_123", receivedBody["transactionalId"])
}

func TestSendTransactional_NoIdempotencyHeaderByDefault(t *testing.T) {
	var headerPresent bool

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, headerPresent = r.Header["Idempotency-Key"]
		w.Write([]byte(`{"success": true}`))
	})
	defer server.Close()

	err := client.SendTransactional(context.Background(), &TransactionalRequest{
		Email:           "ops@example.com",
		TransactionalID: "tmpl_123",
	})
	require.NoError(t, err)
	assert.False(t, headerPresent)
}

func TestSendTransactional_APIError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "Invalid transactionalId"}`))
	})
	defer server.Close()

	err := client.SendTransactional(context.Background(), &TransactionalRequest{
		Email:           "ops@example.com",
		TransactionalID: "bogus",
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Invalid transactionalId", apiErr.Message)
}

func TestSendTransactional_UnstructuredError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	})
	defer server.Close()

	err := client.SendTransactional(context.Background(), &TransactionalRequest{
		Email:           "ops@example.com",
		TransactionalID: "tmpl_123",
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestSendEvent_Success(t *testing.T) {
	var receivedBody map[string]any

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&receivedBody))
		w.Write([]byte(`{"success": true}`))
	})
	defer server.Close()

	err := client.SendEvent(context.Background(), &EventRequest{
		Email:           "ops@example.com",
		EventName:       "run_complete",
		EventProperties: map[string]any{"jobs": 40},
	})
	require.NoError(t, err)

	assert.Equal(t, "run_complete", receivedBody["eventName"])
}

func TestSendEvent_ContextCancelled(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true}`))
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.SendEvent(ctx, &EventRequest{Email: "ops@example.com", EventName: "run_complete"})
	assert.Error(t, err)
}
