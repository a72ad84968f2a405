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

func TestDeleterRemovesStagedArtifact(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	stagingDir := t.TempDir()
	bundleID := "604b6c80-a075-4f04-a2a7-74f0b0d1f4ee"
	bundlePath := filepath.Join(stagingDir, bundleID+".zip")
	sidecar := filepath.Join(stagingDir, manifest.FilenameV3(bundleID))
	require.NoError(os.WriteFile(bundlePath, []byte("zip bytes"), 0644))
	require.NoError(os.WriteFile(sidecar, []byte("manifest bytes"), 0644))

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        bundleID,
			"status":      "completed",
			"bundle_path": bundlePath,
		}},
	}
	w := testWorker("deleter", db.server(t).URL, "completed", "deleted")

	deleter, err := NewDeleter(map[string]string{})
	require.NoError(err)
	outcome, err := deleter.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())

	assert.NoFileExists(bundlePath)
	assert.NoFileExists(sidecar)
	require.Len(db.bundlePatches, 1)
	assert.Equal("deleted", db.bundlePatches[0].Body["status"])
}

func TestDeleterToleratesAlreadyRemovedArtifact(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        "b2a7b0de-55a5-4270-a206-ac317945108f",
			"status":      "completed",
			"bundle_path": filepath.Join(t.TempDir(), "already-gone.zip"),
		}},
	}
	w := testWorker("deleter", db.server(t).URL, "completed", "deleted")

	deleter, err := NewDeleter(map[string]string{})
	require.NoError(err)
	outcome, err := deleter.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())
	require.Len(db.bundlePatches, 1)
	assert.Equal("deleted", db.bundlePatches[0].Body["status"])
}
