package store

import (
	"context"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// BundleFilter selects a subset of the Bundle collection. Zero values match
// everything.
type BundleFilter struct {
	// match bundles whose source begins with this prefix
	Location string
	// match bundles belonging to this TransferRequest uuid
	Request string
	// match bundles in this status
	Status string
	// match bundles by verification state
	Verified *bool
}

// PopFilter selects the population a pop operation draws from. Every
// non-empty field must match.
type PopFilter struct {
	Source string
	Dest   string
}

// ListBundleUUIDs returns the uuids of every Bundle matching the filter.
func (s *Store) ListBundleUUIDs(ctx context.Context, filter BundleFilter) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	clauses := []string{"1 = 1"}
	args := []any{}
	if filter.Location != "" {
		clauses = append(clauses, "source LIKE ?")
		args = append(args, filter.Location+"%")
	}
	if filter.Request != "" {
		clauses = append(clauses, "request = ?")
		args = append(args, filter.Request)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Verified != nil {
		clauses = append(clauses, "verified = ?")
		verified := 0
		if *filter.Verified {
			verified = 1
		}
		args = append(args, verified)
	}
	uuids := []string{}
	err = sqlitex.Execute(conn,
		`SELECT uuid FROM bundles WHERE `+strings.Join(clauses, " AND ")+
			` ORDER BY create_timestamp ASC`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				uuids = append(uuids, stmt.GetText("uuid"))
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return uuids, nil
}

// InsertBundles adds a batch of new Bundle documents in a single
// transaction. Each document must already carry its uuid and timestamps.
func (s *Store) InsertBundles(ctx context.Context, docs []Document) (err error) {
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
			`INSERT INTO bundles
				(uuid, request, source, dest, status, claimed, verified,
				 create_timestamp, work_priority_timestamp, doc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				text(doc, "uuid"),
				text(doc, "request"),
				text(doc, "source"),
				text(doc, "dest"),
				text(doc, "status"),
				boolAsInt(doc, "claimed"),
				boolAsInt(doc, "verified"),
				text(doc, "create_timestamp"),
				text(doc, "work_priority_timestamp"),
				encoded,
			}})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetBundle returns the Bundle with the given uuid.
func (s *Store) GetBundle(ctx context.Context, uuid string) (Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getBundle(conn, uuid)
}

func getBundle(conn *sqlite.Conn, uuid string) (Document, error) {
	docs := []Document{}
	err := sqlitex.Execute(conn,
		`SELECT doc FROM bundles WHERE uuid = ?`,
		&sqlitex.ExecOptions{
			Args:       []any{uuid},
			ResultFunc: collectDoc(&docs),
		})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &NotFoundError{Collection: "Bundle", UUID: uuid}
	}
	return docs[0], nil
}

// PatchBundle merges the given patch into the Bundle with the given uuid
// and returns the updated document.
func (s *Store) PatchBundle(ctx context.Context, uuid string, patch Document) (doc Document, err error) {
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
	doc, err = getBundle(conn, uuid)
	if err != nil {
		return nil, err
	}
	doc = merge(doc, patch)
	err = updateBundle(conn, doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func updateBundle(conn *sqlite.Conn, doc Document) error {
	encoded, err := encode(doc)
	if err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		`UPDATE bundles
		SET request = ?, source = ?, dest = ?, status = ?, claimed = ?,
			verified = ?, work_priority_timestamp = ?, doc = ?
		WHERE uuid = ?`,
		&sqlitex.ExecOptions{Args: []any{
			text(doc, "request"),
			text(doc, "source"),
			text(doc, "dest"),
			text(doc, "status"),
			boolAsInt(doc, "claimed"),
			boolAsInt(doc, "verified"),
			text(doc, "work_priority_timestamp"),
			encoded,
			text(doc, "uuid"),
		}})
}

// DeleteBundle removes the Bundle with the given uuid. Deleting a uuid that
// does not exist is not an error.
func (s *Store) DeleteBundle(ctx context.Context, uuid string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn,
		`DELETE FROM bundles WHERE uuid = ?`,
		&sqlitex.ExecOptions{Args: []any{uuid}})
}

// UpdateBundles merges the given patch into every listed Bundle in a single
// transaction and returns the uuids that were actually present.
func (s *Store) UpdateBundles(ctx context.Context, uuids []string, patch Document) (updated []string, err error) {
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
	updated = []string{}
	for _, uuid := range uuids {
		doc, err := getBundle(conn, uuid)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		doc = merge(doc, patch)
		err = updateBundle(conn, doc)
		if err != nil {
			return nil, err
		}
		updated = append(updated, uuid)
	}
	return updated, nil
}

// DeleteBundles removes every listed Bundle in a single transaction and
// returns the uuids that were actually present.
func (s *Store) DeleteBundles(ctx context.Context, uuids []string) (deleted []string, err error) {
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
	deleted = []string{}
	for _, uuid := range uuids {
		err := sqlitex.Execute(conn,
			`DELETE FROM bundles WHERE uuid = ?`,
			&sqlitex.ExecOptions{Args: []any{uuid}})
		if err != nil {
			return nil, err
		}
		if conn.Changes() > 0 {
			deleted = append(deleted, uuid)
		}
	}
	return deleted, nil
}

// PopBundle atomically claims the longest-waiting unclaimed Bundle in the
// given status at the sites the filter names. The claim document is
// merged into the winner before it becomes visible to any other caller.
// Returns nil when no work is available.
func (s *Store) PopBundle(ctx context.Context, filter PopFilter, status string, claim Document) (doc Document, err error) {
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
	clauses := []string{}
	args := []any{}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Dest != "" {
		clauses = append(clauses, "dest = ?")
		args = append(args, filter.Dest)
	}
	clauses = append(clauses, "status = ?", "claimed = 0")
	args = append(args, status)
	docs := []Document{}
	err = sqlitex.Execute(conn,
		`SELECT doc FROM bundles
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY work_priority_timestamp ASC, create_timestamp ASC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args:       args,
			ResultFunc: collectDoc(&docs),
		})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc = merge(docs[0], claim)
	err = updateBundle(conn, doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
