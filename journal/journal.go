// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import (
	"bytes"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// This is the LTA archival journal, the operator's audit trail of what left
// the warehouse. The finisher writes one record per bundle that reached its
// terminal state and one per completed transfer request.

// a record of one bundle that finished its trip through the pipeline
type BundleRecord struct {
	// UUID of the bundle in the LTA DB
	BundleUUID string `json:"bundle_uuid"`
	// UUID of the transfer request the bundle belongs to
	Request string `json:"request"`
	// sites and warehouse path the bundle covered
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Path   string `json:"path"`
	// size of the archive in bytes
	Size int64 `json:"size"`
	// SHA-512 checksum of the archive
	Checksum string `json:"checksum"`
	// terminal status of the bundle ("finished" or "deleted")
	Status string `json:"status"`
	// component instance that finalized the bundle
	Claimant string `json:"claimant"`
	// time at which the bundle was finalized
	Timestamp time.Time `json:"timestamp"`
}

// a record of one transfer request that completed
type RequestRecord struct {
	// UUID of the transfer request in the LTA DB
	RequestUUID string `json:"request_uuid"`
	Source      string `json:"source"`
	Dest        string `json:"dest"`
	Path        string `json:"path"`
	// number of bundles the request produced
	NumBundles int `json:"num_bundles"`
	// component instance that closed the request
	Claimant string `json:"claimant"`
	// time at which the request was closed
	Timestamp time.Time `json:"timestamp"`
}

// Journal is the bbolt-backed audit trail. A single goroutine owns the
// database so a slow or crashed journal cannot corrupt records written by
// concurrent finisher cycles.
type Journal struct {
	input struct {
		recordBundle  chan BundleRecord
		recordRequest chan RequestRecord
		fetchBundles  chan timeRange
		fetchRequests chan timeRange
		shutdown      chan struct{}
	}
	output struct {
		bundles  chan []BundleRecord
		requests chan []RequestRecord
		err      chan error
	}
	closed bool
}

type timeRange struct {
	start, stop time.Time
}

// Open opens (or creates) the journal at the given path and starts the
// goroutine that owns it.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &CantOpenError{Message: err.Error()}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucketName := range []string{"bundles", "requests"} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{}
	j.input.recordBundle = make(chan BundleRecord)
	j.input.recordRequest = make(chan RequestRecord)
	j.input.fetchBundles = make(chan timeRange)
	j.input.fetchRequests = make(chan timeRange)
	j.input.shutdown = make(chan struct{})
	j.output.bundles = make(chan []BundleRecord)
	j.output.requests = make(chan []RequestRecord)
	j.output.err = make(chan error)
	go j.process(db)
	return j, nil
}

// Close shuts down the journal goroutine and the underlying database.
func (j *Journal) Close() error {
	if j.closed {
		return &NotOpenError{}
	}
	j.closed = true
	j.input.shutdown <- struct{}{}
	return <-j.output.err
}

// RecordBundle appends a bundle record to the journal.
func (j *Journal) RecordBundle(record BundleRecord) error {
	if j.closed {
		return &NotOpenError{}
	}
	j.input.recordBundle <- record
	return <-j.output.err
}

// RecordRequest appends a transfer request record to the journal.
func (j *Journal) RecordRequest(record RequestRecord) error {
	if j.closed {
		return &NotOpenError{}
	}
	j.input.recordRequest <- record
	return <-j.output.err
}

// Bundles retrieves the bundle records finalized within the inclusive
// time range.
func (j *Journal) Bundles(start, stop time.Time) ([]BundleRecord, error) {
	if j.closed {
		return nil, &NotOpenError{}
	}
	j.input.fetchBundles <- timeRange{start: start, stop: stop}
	select {
	case records := <-j.output.bundles:
		return records, nil
	case err := <-j.output.err:
		return nil, err
	}
}

// Requests retrieves the request records closed within the inclusive time
// range.
func (j *Journal) Requests(start, stop time.Time) ([]RequestRecord, error) {
	if j.closed {
		return nil, &NotOpenError{}
	}
	j.input.fetchRequests <- timeRange{start: start, stop: stop}
	select {
	case records := <-j.output.requests:
		return records, nil
	case err := <-j.output.err:
		return nil, err
	}
}

//-----------
// Internals
//-----------

func (j *Journal) process(db *bolt.DB) {
	running := true
	for running {
		select {

		case record := <-j.input.recordBundle:
			j.output.err <- putRecord(db, "bundles",
				timeKey(record.Timestamp, record.BundleUUID), &record)

		case record := <-j.input.recordRequest:
			j.output.err <- putRecord(db, "requests",
				timeKey(record.Timestamp, record.RequestUUID), &record)

		case span := <-j.input.fetchBundles:
			records := make([]BundleRecord, 0)
			err := scanRecords(db, "bundles", span, func(value []byte) error {
				var record BundleRecord
				if err := json.Unmarshal(value, &record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				j.output.err <- err
			} else {
				j.output.bundles <- records
			}

		case span := <-j.input.fetchRequests:
			records := make([]RequestRecord, 0)
			err := scanRecords(db, "requests", span, func(value []byte) error {
				var record RequestRecord
				if err := json.Unmarshal(value, &record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				j.output.err <- err
			} else {
				j.output.requests <- records
			}

		case <-j.input.shutdown:
			j.output.err <- db.Close()
			running = false
		}
	}
}

// timeKey builds a bucket key that sorts by time, with the uuid breaking
// ties between records finalized in the same instant.
func timeKey(timestamp time.Time, uuid string) []byte {
	return []byte(timestamp.UTC().Format(time.RFC3339Nano) + "/" + uuid)
}

func putRecord(db *bolt.DB, bucketName string, key []byte, record any) error {
	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, jsonBytes)
	})
}

func scanRecords(db *bolt.DB, bucketName string, span timeRange, visit func([]byte) error) error {
	return db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		startKey := []byte(span.start.UTC().Format(time.RFC3339Nano))
		// the trailing ~ sorts after any uuid suffix in the range
		stopKey := []byte(span.stop.UTC().Format(time.RFC3339Nano) + "~")
		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, stopKey) <= 0; k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})
}
