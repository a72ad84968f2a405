package services

// This file defines a unit test setup for the LTA DB service. The service
// runs against a store in a temporary directory, and the tests talk to it
// over real HTTP.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/ltatest"
	"github.com/wipac/lta/store"
)

var baseUrl = "http://localhost:8380/"

// temporary testing directory
var TESTING_DIR string

// service instance and its backing store
var service *Service
var db *store.Store

// bearer token used by the test helpers
var testToken = ltatest.Token("admin", "user", "system")

// performs testing setup
func setup() {
	ltatest.EnableDebugLogging()

	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "lta-db-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
	db, err = store.Open(TESTING_DIR + "/lta-db.sqlite")
	if err != nil {
		log.Panicf("Couldn't open the document store: %s", err)
	}

	log.Print("Starting test LTA DB service...\n")
	go func() {
		service = New(db, 100, 0)
		err := service.Start("localhost", 8380)
		if err != nil {
			log.Panicf("Couldn't start the LTA DB service: %s", err.Error())
		}
	}()

	// give the service time to start up
	time.Sleep(100 * time.Millisecond)
}

// performs testing breakdown
func breakdown() {
	if service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		service.Shutdown(ctx)
	}
	if db != nil {
		db.Close()
	}
	if TESTING_DIR != "" {
		os.RemoveAll(TESTING_DIR)
	}
}

// sends a request with well-formed headers and decodes any JSON response
func do(method, resource, token string, body any) (*http.Response, store.Document, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, baseUrl+resource, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	var doc store.Document
	if len(respBody) > 0 && strings.HasPrefix(strings.TrimSpace(string(respBody)), "{") {
		if err := json.Unmarshal(respBody, &doc); err != nil {
			return resp, nil, err
		}
	}
	return resp, doc, nil
}

func TestQueryRoot(t *testing.T) {
	assert := assert.New(t)
	resp, _, err := do(http.MethodGet, "", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
}

func TestAuthorization(t *testing.T) {
	assert := assert.New(t)

	// no token at all
	req, _ := http.NewRequest(http.MethodGet, baseUrl+"TransferRequests", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(err)
	resp.Body.Close()
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	// a token without any LTA role
	resp, _, err = do(http.MethodGet, "TransferRequests", ltatest.Token(), nil)
	assert.Nil(err)
	assert.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestRequestValidation(t *testing.T) {
	assert := assert.New(t)

	resp, _, err := do(http.MethodPost, "TransferRequests", testToken,
		map[string]any{"dest": "NERSC", "path": "/data/exp"})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _, err = do(http.MethodPost, "TransferRequests", testToken,
		map[string]any{"source": 42, "dest": "NERSC", "path": "/data/exp"})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _, err = do(http.MethodPost, "TransferRequests", testToken,
		map[string]any{"source": "", "dest": "NERSC", "path": "/data/exp"})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestRequestLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	resp, body, err := do(http.MethodPost, "TransferRequests", testToken,
		map[string]any{"source": "WIPAC", "dest": "NERSC", "path": "/data/exp/IceCube/2023"})
	require.Nil(err)
	require.Equal(http.StatusCreated, resp.StatusCode)
	uuid, _ := body["TransferRequest"].(string)
	require.NotEmpty(uuid)

	// the new request shows up in the listing
	resp, body, err = do(http.MethodGet, "TransferRequests", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	results, _ := body["results"].([]any)
	assert.NotEmpty(results)

	// and can be fetched by uuid
	resp, body, err = do(http.MethodGet, "TransferRequests/"+uuid, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("unclaimed", body["status"])

	// patching a different uuid into a document is refused
	resp, _, err = do(http.MethodPatch, "TransferRequests/"+uuid, testToken,
		map[string]any{"uuid": "someone-else"})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	// a legitimate patch succeeds
	resp, _, err = do(http.MethodPatch, "TransferRequests/"+uuid, testToken,
		map[string]any{"status": "processing"})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)

	// deletion is idempotent
	resp, _, err = do(http.MethodDelete, "TransferRequests/"+uuid, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusNoContent, resp.StatusCode)
	resp, _, err = do(http.MethodDelete, "TransferRequests/"+uuid, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusNoContent, resp.StatusCode)

	// and the request is really gone
	resp, _, err = do(http.MethodGet, "TransferRequests/"+uuid, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestRequestPop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	resp, body, err := do(http.MethodPost, "TransferRequests", testToken,
		map[string]any{"source": "DESY", "dest": "NERSC", "path": "/data/exp/IceCube/2024"})
	require.Nil(err)
	require.Equal(http.StatusCreated, resp.StatusCode)
	uuid, _ := body["TransferRequest"].(string)

	// a missing claimant is refused
	resp, _, err = do(http.MethodPost, "TransferRequests/actions/pop?source=DESY", testToken,
		map[string]any{})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	// the first pop claims the request and marks it processing
	resp, body, err = do(http.MethodPost, "TransferRequests/actions/pop?source=DESY", testToken,
		map[string]any{"claimant": "picker-test"})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	claimed, _ := body["transfer_request"].(map[string]any)
	require.NotNil(claimed)
	assert.Equal(uuid, claimed["uuid"])
	assert.Equal("processing", claimed["status"])
	assert.Equal(true, claimed["claimed"])
	assert.Equal("picker-test", claimed["claimant"])

	// the second pop comes up empty
	resp, body, err = do(http.MethodPost, "TransferRequests/actions/pop?source=DESY", testToken,
		map[string]any{"claimant": "picker-test"})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Nil(body["transfer_request"])
}

func TestBundleLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	resp, body, err := do(http.MethodPost, "Bundles/actions/bulk_create", testToken,
		map[string]any{"bundles": []any{
			map[string]any{
				"request": "11111111-1111-1111-1111-111111111111",
				"source":  "WIPAC", "dest": "NERSC",
				"path":   "/data/exp/IceCube/2023",
				"status": "specified",
				"files":  []any{map[string]any{"logical_name": "/data/exp/file.tar"}},
			},
			map[string]any{
				"request": "11111111-1111-1111-1111-111111111111",
				"source":  "WIPAC", "dest": "NERSC",
				"path":   "/data/exp/IceCube/2023",
				"status": "specified",
			},
		}})
	require.Nil(err)
	require.Equal(http.StatusCreated, resp.StatusCode)
	assert.Equal(float64(2), body["count"])
	created, _ := body["bundles"].([]any)
	require.Len(created, 2)
	first, _ := created[0].(string)

	// the listing honors status filters
	resp, body, err = do(http.MethodGet, "Bundles?status=specified", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	results, _ := body["results"].([]any)
	assert.Len(results, 2)

	// the file listing is stripped from single-bundle responses
	resp, body, err = do(http.MethodGet, "Bundles/"+first, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.NotContains(body, "files")

	// pop without source or dest is refused
	resp, _, err = do(http.MethodPost, "Bundles/actions/pop?status=specified", testToken,
		map[string]any{"claimant": "bundler-test"})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	// pop claims exactly one bundle
	resp, body, err = do(http.MethodPost, "Bundles/actions/pop?source=WIPAC&status=specified",
		testToken, map[string]any{"claimant": "bundler-test"})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	claimed, _ := body["bundle"].(map[string]any)
	require.NotNil(claimed)
	assert.Equal(true, claimed["claimed"])

	// bulk update patches the survivors
	resp, body, err = do(http.MethodPost, "Bundles/actions/bulk_update", testToken,
		map[string]any{
			"bundles": created,
			"update":  map[string]any{"status": "quarantined"},
		})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(float64(2), body["count"])

	// bulk delete reports only the bundles that existed
	resp, body, err = do(http.MethodPost, "Bundles/actions/bulk_delete", testToken,
		map[string]any{"bundles": append(created, "not-a-bundle")})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(float64(2), body["count"])
}

func TestBundleBulkValidation(t *testing.T) {
	assert := assert.New(t)

	for _, body := range []map[string]any{
		{},
		{"bundles": "nope"},
		{"bundles": []any{}},
	} {
		resp, _, err := do(http.MethodPost, "Bundles/actions/bulk_create", testToken, body)
		assert.Nil(err)
		assert.Equal(http.StatusBadRequest, resp.StatusCode)
	}

	resp, _, err := do(http.MethodPost, "Bundles/actions/bulk_update", testToken,
		map[string]any{"bundles": []any{"a-bundle"}})
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestBulkBodyLimit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// a second service instance with a tiny bulk body allowance
	limited := New(db, 10, 512)
	go func() {
		if err := limited.Start("localhost", 8381); err != nil {
			log.Print(err.Error())
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		limited.Shutdown(ctx)
	})
	time.Sleep(100 * time.Millisecond)

	files := make([]any, 100)
	for i := range files {
		files[i] = map[string]any{"logical_name": fmt.Sprintf("/data/exp/file-%03d.tar", i)}
	}
	payload, err := json.Marshal(map[string]any{"bundles": []any{
		map[string]any{
			"request": "33333333-3333-3333-3333-333333333333",
			"source":  "WIPAC", "dest": "NERSC",
			"path":   "/data/exp/IceCube/2023",
			"status": "specified",
			"files":  files,
		},
	}})
	require.NoError(err)
	require.Greater(len(payload), 512)

	req, err := http.NewRequest(http.MethodPost,
		"http://localhost:8381/Bundles/actions/bulk_create", bytes.NewReader(payload))
	require.NoError(err)
	req.Header.Add("Authorization", "Bearer "+testToken)
	req.Header.Add("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestMetadataLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	bundleUUID := "22222222-2222-2222-2222-222222222222"
	resp, body, err := do(http.MethodPost, "Metadata/actions/bulk_create", testToken,
		map[string]any{
			"bundle_uuid": bundleUUID,
			"files":       []string{"file-1", "file-2", "file-3"},
		})
	require.Nil(err)
	require.Equal(http.StatusCreated, resp.StatusCode)
	assert.Equal(float64(3), body["count"])
	created, _ := body["metadata"].([]any)
	require.Len(created, 3)

	resp, body, err = do(http.MethodGet, "Metadata?bundle_uuid="+bundleUUID, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	results, _ := body["results"].([]any)
	assert.Len(results, 3)

	first, _ := created[0].(string)
	resp, body, err = do(http.MethodGet, "Metadata/"+first, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(bundleUUID, body["bundle_uuid"])

	// bulk delete reports how many records actually went away
	resp, body, err = do(http.MethodPost, "Metadata/actions/bulk_delete", testToken,
		map[string]any{"metadata": []any{first, "not-a-record"}})
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(float64(1), body["count"])

	// deleting by bundle requires a bundle_uuid
	resp, _, err = do(http.MethodDelete, "Metadata", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _, err = do(http.MethodDelete, "Metadata?bundle_uuid="+bundleUUID, testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusNoContent, resp.StatusCode)
}

func TestComponentStatus(t *testing.T) {
	assert := assert.New(t)

	heartbeat := map[string]any{
		"picker-test": map[string]any{
			"timestamp": now(),
			"last_work": now(),
		},
	}
	resp, _, err := do(http.MethodPatch, "status/picker", testToken, heartbeat)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)

	resp, body, err := do(http.MethodGet, "status", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("OK", body["health"])
	assert.Equal("OK", body["picker"])

	resp, body, err = do(http.MethodGet, "status/picker", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, "picker-test")

	resp, _, err = do(http.MethodGet, "status/bundler", testToken, nil)
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

// runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	var status int
	setup()
	if TESTING_DIR != "" {
		status = m.Run()
	}
	breakdown()
	os.Exit(status)
}
