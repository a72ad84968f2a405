package stages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/worker"
)

// catalogWithFiles serves a fixed file listing from the fake catalog's
// find endpoint.
func catalogWithFiles(t *testing.T, files string) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"files": ` + files + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func pickerConf(catalogURL string) map[string]string {
	return map[string]string{
		"FILE_CATALOG_CLIENT_ID":     "lta-picker",
		"FILE_CATALOG_CLIENT_SECRET": "hunter2",
		"FILE_CATALOG_REST_URL":      catalogURL,
		"FILE_CATALOG_PAGE_SIZE":     "1000",
		"MAX_BUNDLE_SIZE":            "250",
		"WORK_RETRIES":               "1",
		"WORK_TIMEOUT_SECONDS":       "5",
	}
}

func TestPickerPartitionsFilesBySize(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// 200 + 200 exceeds the 250 byte bundle limit, so three files make
	// two bundles
	catalogServer := catalogWithFiles(t, `[
		{"uuid": "file-a", "logical_name": "/data/exp/a.tar", "file_size": 200},
		{"uuid": "file-b", "logical_name": "/data/exp/b.tar", "file_size": 200},
		{"uuid": "file-c", "logical_name": "/data/exp/c.tar", "file_size": 40}
	]`)
	db := &fakeLTA{
		popRequests: []worker.Document{{
			"uuid":   "request-1",
			"source": "WIPAC",
			"dest":   "NERSC",
			"path":   "/data/exp",
			"status": "processing",
		}},
	}
	w := testWorker("picker", db.server(t).URL, "", "specified")

	picker, err := NewPicker(pickerConf(catalogServer.URL))
	require.NoError(err)
	outcome, err := picker.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())

	require.Len(db.createdBundles, 2)
	first := db.createdBundles[0]
	assert.Equal("specified", first["status"])
	assert.Equal("request-1", first["request"])
	assert.Equal(float64(1), first["file_count"])
	assert.Equal(float64(200), first["size"])
	second := db.createdBundles[1]
	assert.Equal(float64(2), second["file_count"])
	assert.Equal(float64(240), second["size"])

	require.Len(db.createdMetadata, 2)
	files, _ := db.createdMetadata[1]["files"].([]any)
	assert.Equal([]any{"file-b", "file-c"}, files)

	// the request is released once its bundles exist
	require.Len(db.requestPatches, 1)
	assert.Equal("request-1", db.requestPatches[0].UUID)
	assert.Equal(false, db.requestPatches[0].Body["claimed"])
}

func TestPickerQuarantinesEmptyRequest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	catalogServer := catalogWithFiles(t, `[]`)
	db := &fakeLTA{
		popRequests: []worker.Document{{
			"uuid":   "request-2",
			"source": "WIPAC",
			"dest":   "NERSC",
			"path":   "/data/exp/nothing-here",
			"status": "processing",
		}},
	}
	w := testWorker("picker", db.server(t).URL, "", "specified")

	picker, err := NewPicker(pickerConf(catalogServer.URL))
	require.NoError(err)
	outcome, err := picker.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("nothing-claimed", outcome.String())

	require.Len(db.requestPatches, 1)
	body := db.requestPatches[0].Body
	assert.Equal("quarantined", body["status"])
	assert.Equal("processing", body["original_status"])
	assert.Contains(body["reason"], "REASON:File Catalog has no files under /data/exp/nothing-here")
	assert.Empty(db.createdBundles)
}

func TestPickerNothingToDo(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	catalogServer := catalogWithFiles(t, `[]`)
	db := &fakeLTA{}
	w := testWorker("picker", db.server(t).URL, "", "specified")

	picker, err := NewPicker(pickerConf(catalogServer.URL))
	require.NoError(err)
	outcome, err := picker.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("nothing-claimed", outcome.String())
	assert.Empty(db.requestPatches)
}
