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

// Package store implements the persistent document collections backing the
// LTA DB: TransferRequests, Bundles, and Metadata, plus component status
// heartbeats. Documents are stored as JSON with the filterable fields
// extracted into indexed columns. All claim operations run inside immediate
// transactions, which makes the pop operation linearizable per collection.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// A Document is one LTA DB record: a TransferRequest, Bundle, Metadata row,
// or status heartbeat. Field names follow the REST API.
type Document = map[string]any

const schema = `
CREATE TABLE IF NOT EXISTS transfer_requests (
	uuid TEXT PRIMARY KEY,
	source TEXT,
	status TEXT,
	claimed INTEGER NOT NULL DEFAULT 0,
	create_timestamp TEXT,
	work_priority_timestamp TEXT,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS transfer_requests_pop_index
	ON transfer_requests (source, status, claimed, work_priority_timestamp);

CREATE TABLE IF NOT EXISTS bundles (
	uuid TEXT PRIMARY KEY,
	request TEXT,
	source TEXT,
	dest TEXT,
	status TEXT,
	claimed INTEGER NOT NULL DEFAULT 0,
	verified INTEGER NOT NULL DEFAULT 0,
	create_timestamp TEXT,
	work_priority_timestamp TEXT,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS bundles_pop_index
	ON bundles (source, dest, status, claimed, work_priority_timestamp);
CREATE INDEX IF NOT EXISTS bundles_request_index ON bundles (request);
CREATE INDEX IF NOT EXISTS bundles_status_index ON bundles (status);

CREATE TABLE IF NOT EXISTS metadata (
	uuid TEXT PRIMARY KEY,
	bundle_uuid TEXT,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS metadata_bundle_uuid_index ON metadata (bundle_uuid);

CREATE TABLE IF NOT EXISTS component_status (
	component TEXT NOT NULL,
	name TEXT NOT NULL,
	timestamp TEXT,
	doc TEXT NOT NULL,
	PRIMARY KEY (component, name)
);
`

// Store provides access to the LTA DB collections.
type Store struct {
	pool *sqlitex.Pool
}

// Open opens (or creates) the LTA DB at the given path and ensures the
// schema and indexes exist. Use the path ":memory:" for an ephemeral store
// in tests.
func Open(path string) (*Store, error) {
	uri := path
	flags := sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL
	if path == ":memory:" {
		uri = "file::memory:?mode=memory&cache=shared"
		flags = sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI
	}
	pool, err := sqlitex.NewPool(uri, sqlitex.PoolOptions{
		Flags:    flags,
		PoolSize: 10,
	})
	if err != nil {
		return nil, err
	}
	store := &Store{pool: pool}
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// encode serializes a document for storage.
func encode(doc Document) (string, error) {
	bytes, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %s", err.Error())
	}
	return string(bytes), nil
}

// decode deserializes a stored document.
func decode(text string) (Document, error) {
	var doc Document
	err := json.Unmarshal([]byte(text), &doc)
	if err != nil {
		return nil, fmt.Errorf("decoding document: %s", err.Error())
	}
	return doc, nil
}

// text fetches a string field from a document, tolerating absence.
func text(doc Document, field string) string {
	if value, ok := doc[field].(string); ok {
		return value
	}
	return ""
}

// boolAsInt fetches a boolean field from a document as 0 or 1.
func boolAsInt(doc Document, field string) int {
	if value, ok := doc[field].(bool); ok && value {
		return 1
	}
	return 0
}

// merge applies a patch to a document, replacing top-level fields.
func merge(doc, patch Document) Document {
	for field, value := range patch {
		doc[field] = value
	}
	return doc
}

// collectDoc builds a ResultFunc that decodes each doc column into the
// given slice.
func collectDoc(docs *[]Document) func(stmt *sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		doc, err := decode(stmt.GetText("doc"))
		if err != nil {
			return err
		}
		*docs = append(*docs, doc)
		return nil
	}
}
