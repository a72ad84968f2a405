package store

import (
	"context"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// UpsertStatus records a heartbeat for the named instance of a component,
// replacing any previous heartbeat from the same instance.
func (s *Store) UpsertStatus(ctx context.Context, component string, name string, doc Document) error {
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
		`INSERT INTO component_status (component, name, timestamp, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (component, name) DO UPDATE
		SET timestamp = excluded.timestamp, doc = excluded.doc`,
		&sqlitex.ExecOptions{Args: []any{
			component,
			name,
			text(doc, "timestamp"),
			encoded,
		}})
}

// GetComponentStatus returns the heartbeats recorded for every instance of
// the named component, keyed by instance name.
func (s *Store) GetComponentStatus(ctx context.Context, component string) (map[string]Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	statuses := map[string]Document{}
	err = sqlitex.Execute(conn,
		`SELECT name, doc FROM component_status WHERE component = ?`,
		&sqlitex.ExecOptions{
			Args: []any{component},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				doc, err := decode(stmt.GetText("doc"))
				if err != nil {
					return err
				}
				statuses[stmt.GetText("name")] = doc
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, &NotFoundError{Collection: "status", UUID: component}
	}
	return statuses, nil
}

// LatestHeartbeats returns the most recent heartbeat timestamp recorded for
// each component type.
func (s *Store) LatestHeartbeats(ctx context.Context) (map[string]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	latest := map[string]string{}
	err = sqlitex.Execute(conn,
		`SELECT component, MAX(timestamp) AS timestamp
		FROM component_status GROUP BY component`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				latest[stmt.GetText("component")] = stmt.GetText("timestamp")
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return latest, nil
}
