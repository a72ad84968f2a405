package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest() *Manifest {
	return &Manifest{
		UUID:        "7cce9a12-62b1-4e81-a866-0412b3a2a3b9",
		Component:   "bundler",
		Version:     3,
		DateCreated: "2023-06-01T12:00:00.000000",
		Files: []File{
			{
				Checksum:    Checksum{Sha512: "aa11"},
				FileSize:    105311728,
				LogicalName: "/data/exp/IceCube/2023/filtered/PFFilt/0101/PFFilt_a.tar.bz2",
				UUID:        "2f0cb3c8-6cba-49b1-8eeb-13e13fed41dd",
			},
			{
				Checksum:    Checksum{Sha512: "bb22"},
				FileSize:    99184,
				LogicalName: "/data/exp/IceCube/2023/filtered/PFFilt/0101/PFFilt_b.tar.bz2",
				UUID:        "41361d4c-9a7b-4d70-b587-3c4bbd048520",
			},
		},
	}
}

func TestRoundTripV3(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := testManifest()
	path := filepath.Join(t.TempDir(), FilenameV3(m.UUID))
	require.NoError(Write(path, m))

	back, err := Read(path)
	require.NoError(err)
	assert.Equal(m.UUID, back.UUID)
	assert.Equal("bundler", back.Component)
	assert.Equal(3, back.Version)
	assert.Equal(m.Files, back.Files)
}

func TestReadV2(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	legacy := `{
		"uuid": "7cce9a12-62b1-4e81-a866-0412b3a2a3b9",
		"component": "bundler",
		"version": 2,
		"date_created": "2020-02-20T22:47:25.180303",
		"files": [
			{
				"checksum": {"sha512": "09de7c"},
				"file_size": 105311728,
				"logical_name": "/data/exp/IceCube/2013/filtered/PFFilt/1109/PFFilt_a.tar.bz2",
				"uuid": "2f0cb3c8-6cba-49b1-8eeb-13e13fed41dd"
			}
		]
	}`
	path := filepath.Join(t.TempDir(), FilenameV2("7cce9a12-62b1-4e81-a866-0412b3a2a3b9"))
	require.NoError(os.WriteFile(path, []byte(legacy), 0644))

	m, err := Read(path)
	require.NoError(err)
	assert.Equal(2, m.Version)
	require.Len(m.Files, 1)
	assert.Equal("09de7c", m.Files[0].Checksum.Sha512)
	assert.Equal(int64(105311728), m.Files[0].FileSize)
}

func TestReadV3MissingHeader(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), FilenameV3("empty"))
	require.NoError(os.WriteFile(path, nil, 0644))

	_, err := Read(path)
	assert.ErrorContains(err, "missing header line")
}
