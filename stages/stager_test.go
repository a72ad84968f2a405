package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/manifest"
	"github.com/wipac/lta/worker"
)

func TestStagerMovesBundle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	inputPath := t.TempDir()
	outputPath := t.TempDir()
	bundleID := "604b6c80-a075-4f04-a2a7-74f0b0d1f4ee"
	src := filepath.Join(inputPath, bundleID+".zip")
	sidecar := filepath.Join(inputPath, manifest.FilenameV3(bundleID))
	require.NoError(os.WriteFile(src, []byte("zip bytes"), 0644))
	require.NoError(os.WriteFile(sidecar, []byte("manifest bytes"), 0644))

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        bundleID,
			"status":      "created",
			"bundle_path": src,
			"size":        9,
		}},
	}
	w := testWorker("stager", db.server(t).URL, "created", "staged")

	stager, err := NewStager(map[string]string{
		"INPUT_PATH":   inputPath,
		"OUTPUT_PATH":  outputPath,
		"OUTPUT_QUOTA": "1000",
	})
	require.NoError(err)

	outcome, err := stager.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())

	dest := filepath.Join(outputPath, bundleID+".zip")
	assert.FileExists(dest)
	assert.FileExists(filepath.Join(outputPath, manifest.FilenameV3(bundleID)))
	assert.NoFileExists(src)

	require.Len(db.bundlePatches, 1)
	body := db.bundlePatches[0].Body
	assert.Equal("staged", body["status"])
	assert.Equal(dest, body["bundle_path"])
}

func TestStagerDefersWhenOverQuota(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	inputPath := t.TempDir()
	outputPath := t.TempDir()
	// the output directory already holds 90 of the 100 byte quota
	require.NoError(os.WriteFile(filepath.Join(outputPath, "resident.zip"), make([]byte, 90), 0644))
	bundleID := "b2a7b0de-55a5-4270-a206-ac317945108f"
	src := filepath.Join(inputPath, bundleID+".zip")
	require.NoError(os.WriteFile(src, make([]byte, 50), 0644))

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        bundleID,
			"status":      "created",
			"bundle_path": src,
			"size":        50,
		}},
	}
	w := testWorker("stager", db.server(t).URL, "created", "staged")

	stager, err := NewStager(map[string]string{
		"INPUT_PATH":   inputPath,
		"OUTPUT_PATH":  outputPath,
		"OUTPUT_QUOTA": "100",
	})
	require.NoError(err)

	outcome, err := stager.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("nothing-claimed", outcome.String())
	assert.FileExists(src)

	// deferred, not advanced: unclaimed with a fresh priority and no
	// status change
	require.Len(db.bundlePatches, 1)
	body := db.bundlePatches[0].Body
	assert.Equal(false, body["claimed"])
	assert.NotContains(body, "status")
	assert.Contains(body, "work_priority_timestamp")

	status := stager.DoStatus()
	assert.Equal(int64(90), status["output_size"])
	assert.Equal(int64(100), status["output_quota"])
}
