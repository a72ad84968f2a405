package store

import (
	"context"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ListRequests returns every TransferRequest document in the store.
func (s *Store) ListRequests(ctx context.Context) ([]Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	docs := []Document{}
	err = sqlitex.Execute(conn,
		`SELECT doc FROM transfer_requests ORDER BY create_timestamp ASC`,
		&sqlitex.ExecOptions{ResultFunc: collectDoc(&docs)})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// InsertRequest adds a new TransferRequest document. The document must
// already carry its uuid and timestamps.
func (s *Store) InsertRequest(ctx context.Context, doc Document) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	encoded, err := encode(doc)
	if err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		`INSERT INTO transfer_requests
			(uuid, source, status, claimed, create_timestamp, work_priority_timestamp, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			text(doc, "uuid"),
			text(doc, "source"),
			text(doc, "status"),
			boolAsInt(doc, "claimed"),
			text(doc, "create_timestamp"),
			text(doc, "work_priority_timestamp"),
			encoded,
		}})
}

// GetRequest returns the TransferRequest with the given uuid.
func (s *Store) GetRequest(ctx context.Context, uuid string) (Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getRequest(conn, uuid)
}

func getRequest(conn *sqlite.Conn, uuid string) (Document, error) {
	docs := []Document{}
	err := sqlitex.Execute(conn,
		`SELECT doc FROM transfer_requests WHERE uuid = ?`,
		&sqlitex.ExecOptions{
			Args:       []any{uuid},
			ResultFunc: collectDoc(&docs),
		})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &NotFoundError{Collection: "TransferRequest", UUID: uuid}
	}
	return docs[0], nil
}

// PatchRequest merges the given patch into the TransferRequest with the
// given uuid and returns the updated document.
func (s *Store) PatchRequest(ctx context.Context, uuid string, patch Document) (doc Document, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, err
	}
	defer endFn(&err)
	doc, err = getRequest(conn, uuid)
	if err != nil {
		return nil, err
	}
	doc = merge(doc, patch)
	err = updateRequest(conn, doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func updateRequest(conn *sqlite.Conn, doc Document) error {
	encoded, err := encode(doc)
	if err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		`UPDATE transfer_requests
		SET source = ?, status = ?, claimed = ?, work_priority_timestamp = ?, doc = ?
		WHERE uuid = ?`,
		&sqlitex.ExecOptions{Args: []any{
			text(doc, "source"),
			text(doc, "status"),
			boolAsInt(doc, "claimed"),
			text(doc, "work_priority_timestamp"),
			encoded,
			text(doc, "uuid"),
		}})
}

// DeleteRequest removes the TransferRequest with the given uuid. Deleting a
// uuid that does not exist is not an error.
func (s *Store) DeleteRequest(ctx context.Context, uuid string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn,
		`DELETE FROM transfer_requests WHERE uuid = ?`,
		&sqlitex.ExecOptions{Args: []any{uuid}})
}

// PopRequest atomically claims the longest-waiting unclaimed TransferRequest
// at the given source. The claim document is merged into the winner before
// it becomes visible to any other caller. Returns nil when no work is
// available.
func (s *Store) PopRequest(ctx context.Context, source string, claim Document) (doc Document, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, err
	}
	defer endFn(&err)
	docs := []Document{}
	err = sqlitex.Execute(conn,
		`SELECT doc FROM transfer_requests
		WHERE source = ? AND status = 'unclaimed'
		ORDER BY work_priority_timestamp ASC, create_timestamp ASC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args:       []any{source},
			ResultFunc: collectDoc(&docs),
		})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc = merge(docs[0], claim)
	err = updateRequest(conn, doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
