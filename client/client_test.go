package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	c := New(Config{
		RestURL: server.URL,
		Timeout: 5 * time.Second,
	})
	return c, server
}

func TestPopBundle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/Bundles/actions/pop", r.URL.Path)
		require.Equal("NERSC", r.URL.Query().Get("dest"))
		require.Equal("taping", r.URL.Query().Get("status"))
		var body Document
		require.NoError(json.NewDecoder(r.Body).Decode(&body))
		require.Equal("nersc-mover-test", body["claimant"])
		json.NewEncoder(w).Encode(map[string]any{
			"bundle": map[string]any{"uuid": "abc", "status": "taping"},
		})
	}))
	defer server.Close()

	doc, err := c.PopBundle(context.Background(),
		PopQuery{Dest: "NERSC", Status: "taping"}, "nersc-mover-test")
	assert.NoError(err)
	require.NotNil(doc)
	assert.Equal("abc", doc["uuid"])
}

func TestPopBundleEmpty(t *testing.T) {
	assert := assert.New(t)

	c, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bundle": null}`))
	}))
	defer server.Close()

	doc, err := c.PopBundle(context.Background(),
		PopQuery{Source: "WIPAC", Status: "specified"}, "bundler-test")
	assert.NoError(err)
	assert.Nil(doc)
}

func TestRetryOnServerError(t *testing.T) {
	assert := assert.New(t)

	var calls atomic.Int32
	c, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	err := c.Alive(context.Background())
	assert.NoError(err)
	assert.Equal(int32(2), calls.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	assert := assert.New(t)

	var calls atomic.Int32
	c, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := c.GetBundle(context.Background(), "no-such-bundle")
	assert.True(IsNotFound(err))
	assert.Equal(int32(1), calls.Load())
}

func TestCreateTransferRequest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(http.MethodPost, r.Method)
		require.Equal("/TransferRequests", r.URL.Path)
		var body Document
		require.NoError(json.NewDecoder(r.Body).Decode(&body))
		require.Equal("WIPAC", body["source"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"TransferRequest": "new-uuid"}`))
	}))
	defer server.Close()

	uuid, err := c.CreateTransferRequest(context.Background(),
		"WIPAC", "NERSC", "/data/exp/IceCube/2023")
	assert.NoError(err)
	assert.Equal("new-uuid", uuid)
}

func TestListBundleUUIDs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("deleted", r.URL.Query().Get("status"))
		w.Write([]byte(`{"results": ["one", "two"]}`))
	}))
	defer server.Close()

	filters := url.Values{}
	filters.Set("status", "deleted")
	uuids, err := c.ListBundleUUIDs(context.Background(), filters)
	assert.NoError(err)
	assert.Equal([]string{"one", "two"}, uuids)
}
