package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundleRecord(uuid string, finalized time.Time) BundleRecord {
	return BundleRecord{
		BundleUUID: uuid,
		Request:    "dd162dbe-6b67-4e01-a65b-b7472c059dd1",
		Source:     "WIPAC",
		Dest:       "NERSC",
		Path:       "/data/exp/IceCube/2023/filtered/PFFilt/0101",
		Size:       107374182400,
		Checksum:   "deadbeef",
		Status:     "finished",
		Claimant:   "testing-finisher-8d1b2f70",
		Timestamp:  finalized,
	}
}

func TestRecordAndFetchBundles(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(err)
	defer j.Close()

	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := testBundleRecord(fmt.Sprintf("bundle-%d", i), base.Add(time.Duration(i)*time.Hour))
		require.NoError(j.RecordBundle(record))
	}

	// the middle three hours of the five
	records, err := j.Bundles(base.Add(1*time.Hour), base.Add(3*time.Hour))
	require.NoError(err)
	require.Len(records, 3)
	assert.Equal("bundle-1", records[0].BundleUUID)
	assert.Equal("bundle-3", records[2].BundleUUID)
	assert.Equal("finished", records[0].Status)
	assert.Equal(int64(107374182400), records[0].Size)
}

func TestFetchBundlesEmptyRange(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(err)
	defer j.Close()

	require.NoError(j.RecordBundle(testBundleRecord("lonely", time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))))

	records, err := j.Bundles(
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(err)
	assert.Empty(records)
}

func TestRecordAndFetchRequests(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(err)
	defer j.Close()

	closed := time.Date(2023, 6, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(j.RecordRequest(RequestRecord{
		RequestUUID: "dd162dbe-6b67-4e01-a65b-b7472c059dd1",
		Source:      "WIPAC",
		Dest:        "NERSC",
		Path:        "/data/exp/IceCube/2023/filtered/PFFilt/0101",
		NumBundles:  12,
		Claimant:    "testing-finisher-8d1b2f70",
		Timestamp:   closed,
	}))

	records, err := j.Requests(closed.Add(-time.Minute), closed.Add(time.Minute))
	require.NoError(err)
	require.Len(records, 1)
	assert.Equal(12, records[0].NumBundles)
	assert.Equal("NERSC", records[0].Dest)
}

func TestSameInstantRecordsBothKept(t *testing.T) {
	require := require.New(t)

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(err)
	defer j.Close()

	instant := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(j.RecordBundle(testBundleRecord("twin-a", instant)))
	require.NoError(j.RecordBundle(testBundleRecord("twin-b", instant)))

	records, err := j.Bundles(instant, instant)
	require.NoError(err)
	require.Len(records, 2)
}

func TestUseAfterClose(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(err)
	require.NoError(j.Close())

	err = j.RecordBundle(testBundleRecord("late", time.Now().UTC()))
	assert.EqualError(err, "The journal database is not open")
	_, err = j.Bundles(time.Now().Add(-time.Hour), time.Now())
	assert.EqualError(err, "The journal database is not open")
	assert.EqualError(j.Close(), "The journal database is not open")
}
