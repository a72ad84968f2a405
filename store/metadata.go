package store

import (
	"context"
	"strings"

	"zombiezen.com/go/sqlite/sqlitex"
)

// metadataDeleteChunkSize caps the number of uuids bound into a single
// bulk delete statement.
const metadataDeleteChunkSize = 1000

// ListMetadata returns the Metadata documents belonging to the given
// bundle, in insertion order. A limit of 0 means no limit.
func (s *Store) ListMetadata(ctx context.Context, bundleUUID string, limit int, skip int) ([]Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	if limit <= 0 {
		limit = -1
	}
	docs := []Document{}
	err = sqlitex.Execute(conn,
		`SELECT doc FROM metadata WHERE bundle_uuid = ?
		ORDER BY rowid ASC LIMIT ? OFFSET ?`,
		&sqlitex.ExecOptions{
			Args:       []any{bundleUUID, limit, skip},
			ResultFunc: collectDoc(&docs),
		})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// InsertMetadata adds a batch of Metadata documents in a single
// transaction.
func (s *Store) InsertMetadata(ctx context.Context, docs []Document) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)
	for _, doc := range docs {
		encoded, err := encode(doc)
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO metadata (uuid, bundle_uuid, doc) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				text(doc, "uuid"),
				text(doc, "bundle_uuid"),
				encoded,
			}})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetMetadatum returns the Metadata document with the given uuid.
func (s *Store) GetMetadatum(ctx context.Context, uuid string) (Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	docs := []Document{}
	err = sqlitex.Execute(conn,
		`SELECT doc FROM metadata WHERE uuid = ?`,
		&sqlitex.ExecOptions{
			Args:       []any{uuid},
			ResultFunc: collectDoc(&docs),
		})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &NotFoundError{Collection: "Metadata", UUID: uuid}
	}
	return docs[0], nil
}

// DeleteMetadatum removes the Metadata document with the given uuid.
// Deleting a uuid that does not exist is not an error.
func (s *Store) DeleteMetadatum(ctx context.Context, uuid string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn,
		`DELETE FROM metadata WHERE uuid = ?`,
		&sqlitex.ExecOptions{Args: []any{uuid}})
}

// DeleteMetadataForBundle removes every Metadata document belonging to the
// given bundle.
func (s *Store) DeleteMetadataForBundle(ctx context.Context, bundleUUID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn,
		`DELETE FROM metadata WHERE bundle_uuid = ?`,
		&sqlitex.ExecOptions{Args: []any{bundleUUID}})
}

// DeleteMetadata removes the listed Metadata documents, working in chunks
// of at most 1000 uuids, and returns the number actually deleted. Callers
// compare the count against the request size to detect drift.
func (s *Store) DeleteMetadata(ctx context.Context, uuids []string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)
	deleted := 0
	for start := 0; start < len(uuids); start += metadataDeleteChunkSize {
		end := start + metadataDeleteChunkSize
		if end > len(uuids) {
			end = len(uuids)
		}
		chunk := uuids[start:end]
		args := make([]any, len(chunk))
		for i, uuid := range chunk {
			args[i] = uuid
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		err = sqlitex.Execute(conn,
			`DELETE FROM metadata WHERE uuid IN (`+placeholders+`)`,
			&sqlitex.ExecOptions{Args: args})
		if err != nil {
			return deleted, err
		}
		deleted += conn.Changes()
	}
	return deleted, nil
}
