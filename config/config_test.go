package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvironment(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	t.Setenv("LTA_TEST_REQUIRED", "present")
	t.Setenv("LTA_TEST_OVERRIDDEN", "from-env")
	spec := Spec{
		"LTA_TEST_REQUIRED":   Required,
		"LTA_TEST_OVERRIDDEN": Def("unused-default"),
		"LTA_TEST_DEFAULTED":  Def("the-default"),
	}
	conf, err := FromEnvironment(spec)
	require.NoError(err)
	assert.Equal("present", conf["LTA_TEST_REQUIRED"])
	assert.Equal("from-env", conf["LTA_TEST_OVERRIDDEN"])
	assert.Equal("the-default", conf["LTA_TEST_DEFAULTED"])
}

func TestFromEnvironmentMissingRequired(t *testing.T) {
	assert := assert.New(t)

	_, err := FromEnvironment(Spec{"LTA_TEST_NEVER_SET": Required})
	assert.EqualError(err, "Missing expected configuration parameter: 'LTA_TEST_NEVER_SET'")

	// an empty value is as good as a missing one
	t.Setenv("LTA_TEST_EMPTY", "")
	_, err = FromEnvironment(Spec{"LTA_TEST_EMPTY": Required})
	assert.EqualError(err, "Missing expected configuration parameter: 'LTA_TEST_EMPTY'")
}

func TestMergeLaterSpecsWin(t *testing.T) {
	assert := assert.New(t)

	merged := Merge(
		Spec{"A": Def("one"), "B": Required},
		Spec{"B": Def("two"), "C": Def("three")},
	)
	assert.Len(merged, 3)
	assert.Equal("two", *merged["B"])
}

func TestIsSecret(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsSecret("CLIENT_SECRET"))
	assert.True(IsSecret("FILE_CATALOG_CLIENT_SECRET"))
	assert.True(IsSecret("TRANSFER_AUTH_PASS"))
	assert.False(IsSecret("CLIENT_ID"))
	assert.False(IsSecret("LTA_REST_URL"))
}

func TestBool(t *testing.T) {
	assert := assert.New(t)

	for _, value := range []string{"1", "t", "true", "TRUE", "y", "yes", "Yes"} {
		assert.True(Bool(map[string]string{"FLAG": value}, "FLAG"), value)
	}
	for _, value := range []string{"", "0", "false", "no", "maybe"} {
		assert.False(Bool(map[string]string{"FLAG": value}, "FLAG"), value)
	}
}

func TestReadRosterExpandsEnvironment(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	t.Setenv("LTA_TEST_TAPE_ROOT", "/home/projects/icecube")
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(os.WriteFile(path, []byte(`
sites:
  WIPAC:
    name: WIPAC
    archive_base_path: /data/user/lta
    tape: false
  NERSC:
    name: NERSC
    archive_base_path: ${LTA_TEST_TAPE_ROOT}
    tape: true
`), 0644))

	roster, err := ReadRoster(path)
	require.NoError(err)
	nersc, err := roster.Site("NERSC")
	require.NoError(err)
	assert.Equal("/home/projects/icecube", nersc.ArchiveBasePath)
	assert.True(nersc.Tape)

	_, err = roster.Site("DESY")
	assert.Error(err)
}
