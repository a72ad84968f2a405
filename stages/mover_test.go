package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/worker"
)

// writeScript drops an executable shell script for use as a stand-in hsi
// or hpss_avail binary.
func writeScript(t *testing.T, dir string, name string, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestMoverWritesBundleToTape(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	binDir := t.TempDir()
	tapeBase := t.TempDir()
	hpssAvail := writeScript(t, binDir, "hpss_avail", "exit 0\n")
	// hsi sees "mkdir -p <dir>" and "put -c on -H sha512 <src> : <dest>"
	hsi := writeScript(t, binDir, "hsi",
		"case \"$1\" in\n"+
			"mkdir) mkdir -p \"$3\" ;;\n"+
			"put) cp \"$6\" \"$8\" ;;\n"+
			"esac\n")

	stagingDir := t.TempDir()
	bundleID := "604b6c80-a075-4f04-a2a7-74f0b0d1f4ee"
	src := filepath.Join(stagingDir, bundleID+".zip")
	require.NoError(os.WriteFile(src, []byte("zip bytes"), 0644))

	db := &fakeLTA{
		popBundles: []worker.Document{{
			"uuid":        bundleID,
			"status":      "taping",
			"path":        "/data/exp/IceCube/2023/filtered/PFFilt/0101",
			"bundle_path": src,
		}},
	}
	w := testWorker("nersc_mover", db.server(t).URL, "taping", "verifying")

	mover, err := NewMover(map[string]string{
		"HPSS_AVAIL_PATH": hpssAvail,
		"HSI_PATH":        hsi,
		"TAPE_BASE_PATH":  tapeBase,
	})
	require.NoError(err)
	outcome, err := mover.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("successful", outcome.String())

	onTape := filepath.Join(tapeBase, "data/exp/IceCube/2023/filtered/PFFilt/0101", bundleID+".zip")
	contents, err := os.ReadFile(onTape)
	require.NoError(err)
	assert.Equal("zip bytes", string(contents))

	require.Len(db.bundlePatches, 1)
	assert.Equal("verifying", db.bundlePatches[0].Body["status"])
}

func TestMoverBacksOffWhenHPSSDown(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	binDir := t.TempDir()
	hpssAvail := writeScript(t, binDir, "hpss_avail", "exit 1\n")
	hsi := writeScript(t, binDir, "hsi", "exit 0\n")

	db := &fakeLTA{
		popBundles: []worker.Document{{"uuid": "never-claimed", "status": "taping"}},
	}
	w := testWorker("nersc_mover", db.server(t).URL, "taping", "verifying")

	mover, err := NewMover(map[string]string{
		"HPSS_AVAIL_PATH": hpssAvail,
		"HSI_PATH":        hsi,
		"TAPE_BASE_PATH":  t.TempDir(),
	})
	require.NoError(err)
	outcome, err := mover.DoWorkClaim(context.Background(), w)
	require.NoError(err)
	assert.Equal("nothing-claimed", outcome.String())

	// no work was claimed while the tape system was down
	assert.Len(db.popBundles, 1)
	assert.Empty(db.bundlePatches)
}
