package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/crypto"
	"github.com/wipac/lta/manifest"
	"github.com/wipac/lta/worker"
)

// buildRecallArchive makes a bundle ZIP the way the bundler would: the
// given warehouse files stored under their logical names, with the
// manifest riding along as the final member.
func buildRecallArchive(t *testing.T, archiveUUID string, files []manifest.File) string {
	t.Helper()
	buildDir := t.TempDir()
	sidecarPath := filepath.Join(buildDir, manifest.FilenameV3(archiveUUID))
	require.NoError(t, manifest.Write(sidecarPath, &manifest.Manifest{
		UUID:        archiveUUID,
		Component:   "bundler",
		Version:     3,
		DateCreated: now(),
		Files:       files,
	}))
	zipPath := filepath.Join(buildDir, archiveUUID+".zip")
	require.NoError(t, writeArchive(zipPath, files, sidecarPath))
	return zipPath
}

func unpackerConf(catalogURL string, workbox string) map[string]string {
	return map[string]string{
		"FILE_CATALOG_CLIENT_ID":     "lta-unpacker",
		"FILE_CATALOG_CLIENT_SECRET": "hunter2",
		"FILE_CATALOG_REST_URL":      catalogURL,
		"UNPACKER_WORKBOX_PATH":      workbox,
		"WORK_RETRIES":               "1",
		"WORK_TIMEOUT_SECONDS":       "5",
	}
}

func TestUnpackerRestoresFilesToWarehouse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// warehouse files that were bundled, archived, and then lost
	warehouse := t.TempDir()
	fileA := filepath.Join(warehouse, "data", "exp", "a.tar")
	fileB := filepath.Join(warehouse, "data", "exp", "b.tar")
	require.NoError(os.MkdirAll(filepath.Dir(fileA), 0755))
	require.NoError(os.WriteFile(fileA, []byte("contents of file a"), 0644))
	require.NoError(os.WriteFile(fileB, []byte("contents of file b"), 0644))
	files := make([]manifest.File, 0, 2)
	for uuid, name := range map[string]string{"file-a": fileA, "file-b": fileB} {
		sha512, err := crypto.Sha512Sum(name)
		require.NoError(err)
		files = append(files, manifest.File{
			UUID:        uuid,
			LogicalName: name,
			FileSize:    18,
			Checksum:    manifest.Checksum{Sha512: sha512},
		})
	}
	archiveUUID := "604b6c80-a075-4f04-a2a7-74f0b0d1f4ee"
	zipPath := buildRecallArchive(t, archiveUUID, files)
	require.NoError(os.Remove(fileA))
	require.NoError(os.Remove(fileB))

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        "bundle-1",
			"status":      "unpacking",
			"bundle_path": zipPath,
		}},
	}
	w := testWorker("unpacker", db.server(t).URL, "unpacking", "completed")
	fc := &fakeCatalog{}
	workbox := t.TempDir()

	unpacker, err := NewUnpacker(unpackerConf(fc.server(t).URL, workbox))
	require.NoError(err)
	outcome, err := unpacker.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())

	// the files are back where they belong
	contents, err := os.ReadFile(fileA)
	require.NoError(err)
	assert.Equal("contents of file a", string(contents))
	assert.FileExists(fileB)

	// the catalog learned the restored locations
	require.Len(fc.locations, 2)
	restored := make(map[string]string, 2)
	for _, added := range fc.locations {
		locations, _ := added.Body["locations"].([]any)
		require.Len(locations, 1)
		location, _ := locations[0].(map[string]any)
		path, _ := location["path"].(string)
		restored[added.UUID] = path
		assert.Equal("NERSC", location["site"])
	}
	assert.Equal(fileA, restored["file-a"])
	assert.Equal(fileB, restored["file-b"])

	// the workbox and staging artifact are cleaned up
	assert.NoFileExists(filepath.Join(workbox, manifest.FilenameV3(archiveUUID)))
	assert.NoFileExists(zipPath)
	require.Len(db.bundlePatches, 1)
	assert.Equal("completed", db.bundlePatches[0].Body["status"])
}

func TestUnpackerQuarantinesSizeMismatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	warehouse := t.TempDir()
	fileA := filepath.Join(warehouse, "data", "exp", "a.tar")
	require.NoError(os.MkdirAll(filepath.Dir(fileA), 0755))
	require.NoError(os.WriteFile(fileA, []byte("contents of file a"), 0644))
	sha512, err := crypto.Sha512Sum(fileA)
	require.NoError(err)

	archiveUUID := "b2a7b0de-55a5-4270-a206-ac317945108f"
	zipPath := buildRecallArchive(t, archiveUUID, []manifest.File{{
		UUID:        "file-a",
		LogicalName: fileA,
		// the manifest expects more bytes than the archive holds
		FileSize: 9999,
		Checksum: manifest.Checksum{Sha512: sha512},
	}})
	require.NoError(os.Remove(fileA))

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        "bundle-2",
			"status":      "unpacking",
			"bundle_path": zipPath,
		}},
	}
	w := testWorker("unpacker", db.server(t).URL, "unpacking", "completed")
	fc := &fakeCatalog{}

	unpacker, err := NewUnpacker(unpackerConf(fc.server(t).URL, t.TempDir()))
	require.NoError(err)
	outcome, err := unpacker.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("quarantine", outcome.String())
	assert.Contains(outcome.Cause(), "size Calculated:18 size Expected:9999")
	assert.Empty(fc.locations)
}
