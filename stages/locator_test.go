package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/worker"
)

func locatorConf(catalogURL string) map[string]string {
	return map[string]string{
		"FILE_CATALOG_CLIENT_ID":     "lta-locator",
		"FILE_CATALOG_CLIENT_SECRET": "hunter2",
		"FILE_CATALOG_REST_URL":      catalogURL,
		"FILE_CATALOG_PAGE_SIZE":     "1000",
		"WORK_RETRIES":               "1",
		"WORK_TIMEOUT_SECONDS":       "5",
	}
}

func TestLocatorRecoversArchivesFromLocations(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// three archived files spread over two bundle archives
	catalogServer := catalogWithFiles(t, `[
		{"uuid": "file-a", "logical_name": "/data/exp/a.tar", "locations": [
			{"site": "NERSC", "path": "/home/projects/icecube/data/exp/archive-1.zip:/data/exp/a.tar", "archive": true}
		]},
		{"uuid": "file-b", "logical_name": "/data/exp/b.tar", "locations": [
			{"site": "NERSC", "path": "/home/projects/icecube/data/exp/archive-1.zip:/data/exp/b.tar", "archive": true}
		]},
		{"uuid": "file-c", "logical_name": "/data/exp/c.tar", "locations": [
			{"site": "NERSC", "path": "/home/projects/icecube/data/exp/archive-2.zip:/data/exp/c.tar", "archive": true}
		]}
	]`)
	db := &fakeLTA{
		popRequests: []worker.Document{{
			"uuid":   "request-1",
			"source": "NERSC",
			"dest":   "WIPAC",
			"path":   "/data/exp",
			"status": "processing",
		}},
	}
	w := testWorker("locator", db.server(t).URL, "", "located")

	locator, err := NewLocator(locatorConf(catalogServer.URL))
	require.NoError(err)
	outcome, err := locator.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())

	require.Len(db.createdBundles, 2)
	first := db.createdBundles[0]
	assert.Equal("located", first["status"])
	assert.Equal("request-1", first["request"])
	assert.Equal("/home/projects/icecube/data/exp/archive-1.zip", first["bundle_path"])
	assert.Equal(float64(2), first["file_count"])
	second := db.createdBundles[1]
	assert.Equal("/home/projects/icecube/data/exp/archive-2.zip", second["bundle_path"])
	assert.Equal(float64(1), second["file_count"])

	require.Len(db.requestPatches, 1)
	assert.Equal(false, db.requestPatches[0].Body["claimed"])
}

func TestLocatorQuarantinesRequestWithNoArchives(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	catalogServer := catalogWithFiles(t, `[]`)
	db := &fakeLTA{
		popRequests: []worker.Document{{
			"uuid":   "request-2",
			"source": "NERSC",
			"dest":   "WIPAC",
			"path":   "/data/exp/never-archived",
			"status": "processing",
		}},
	}
	w := testWorker("locator", db.server(t).URL, "", "located")

	locator, err := NewLocator(locatorConf(catalogServer.URL))
	require.NoError(err)
	outcome, err := locator.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("nothing-claimed", outcome.String())

	require.Len(db.requestPatches, 1)
	body := db.requestPatches[0].Body
	assert.Equal("quarantined", body["status"])
	assert.Contains(body["reason"], "REASON:File Catalog has no archived files under /data/exp/never-archived")
	assert.Empty(db.createdBundles)
}
