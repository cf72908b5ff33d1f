package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/call", r.URL.Path)

		username, password, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", username)
		assert.Equal(t, "pw", password)

		var req CallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "echo", req.Function)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":2000,"data":{"msg":"hi"}}`))
	}))
	defer server.Close()

	c := New(server.URL, WithBasicAuth("alice", "pw"))

	result, err := c.Call(context.Background(), &CallRequest{
		Function:  "echo",
		Arguments: json.RawMessage(`{"msg":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2000, result.Status)
	assert.JSONEq(t, `{"msg":"hi"}`, string(result.Data))
}

func TestStatusOperation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/operations/op-1", r.URL.Path)

		w.Write([]byte(`{"id":"op-1","function":"render","version":"1","status":"COMPLETED","createdOn":1000,"expiresAt":5000}`))
	}))
	defer server.Close()

	op, err := New(server.URL).StatusOperation(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", op.Id)
	assert.Equal(t, "COMPLETED", op.Status.String())
}

func TestListOperations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/operations", r.URL.Path)
		assert.Equal(t, []string{"PENDING", "PROCESSING"}, r.URL.Query()["states"])
		assert.Equal(t, "render", r.URL.Query().Get("function"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		w.Write([]byte(`{"cursor":"next-token","operations":[{"id":"op-1","function":"render","version":"1","status":"PENDING","createdOn":1000,"expiresAt":5000}]}`))
	}))
	defer server.Close()

	page, err := New(server.URL).ListOperations(context.Background(), &ListOperationsParams{
		States:   []string{"PENDING", "PROCESSING"},
		Function: "render",
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, "next-token", page.Cursor)
	require.Len(t, page.Operations, 1)
	assert.Equal(t, "op-1", page.Operations[0].Id)
}

func TestReleaseLock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/locks/resource-a", r.URL.Path)
		assert.Equal(t, "token-1", r.URL.Query().Get("owner"))

		w.Write([]byte(`{"released":true}`))
	}))
	defer server.Close()

	released, err := New(server.URL).ReleaseLock(context.Background(), "resource-a", "token-1")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestTypedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":4040,"message":"operation not found"}}`))
	}))
	defer server.Close()

	_, err := New(server.URL).StatusOperation(context.Background(), "op-1")
	require.Error(t, err)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusNotFound, typed.HTTPStatus)
	assert.Equal(t, 4040, typed.Code)
	assert.Equal(t, "operation not found", typed.Message)
}

func TestUntypedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream exploded`))
	}))
	defer server.Close()

	_, err := New(server.URL).StatusOperation(context.Background(), "op-1")
	require.Error(t, err)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusBadGateway, typed.HTTPStatus)
	assert.Equal(t, "upstream exploded", typed.Message)
}
