// pkg/report/sqlite.go
package report

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteWriter persists membership and statistics rows to a SQLite
// database for ad hoc enrichment queries (e.g. joining membership against
// an external metadata table), rather than the flat per-level CSV layout.
type SQLiteWriter struct {
	db *sql.DB
}

// OpenSQLiteWriter opens (creating if needed) a SQLite database at path
// and ensures its membership and statistics tables exist.
func OpenSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS membership (
	level       INTEGER NOT NULL,
	object_id   TEXT NOT NULL,
	cluster_id  TEXT NOT NULL,
	distance    REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS statistics (
	level             INTEGER NOT NULL,
	parent_cluster_id TEXT NOT NULL,
	cluster_id        TEXT NOT NULL,
	rmse              REAL NOT NULL,
	object_count      INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteWriter{db: db}, nil
}

// WriteMembership inserts rows for the given tree level.
func (w *SQLiteWriter) WriteMembership(level int, rows []MembershipRow) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO membership (level, object_id, cluster_id, distance) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(level, r.ObjectID, r.ClusterID, r.Distance); err != nil {
			tx.Rollback()
			return fmt.Errorf("report: insert membership row: %w", err)
		}
	}
	return tx.Commit()
}

// WriteStatistics inserts rows for the given tree level.
func (w *SQLiteWriter) WriteStatistics(level int, rows []StatisticsRow) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO statistics (level, parent_cluster_id, cluster_id, rmse, object_count) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(level, r.ParentClusterID, r.ClusterID, r.RMSE, r.ObjectCount); err != nil {
			tx.Rollback()
			return fmt.Errorf("report: insert statistics row: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database handle.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
