// Package dbexport exports time-sync files into SQLite databases for
// analysis with SQL tooling.
package dbexport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"example.com/sensor-timesync/core/tsyncfile"
)

const (
	createHeaderTable = `
	CREATE TABLE IF NOT EXISTS tsync_header(file_id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT,module_name TEXT,creation_time INT,
		check_interval_us INT,tolerance_us INT,
		time_name_a TEXT,time_name_b TEXT,time_unit_a TEXT,time_unit_b TEXT,
		count INT);`
	createTimesTable = `
	CREATE TABLE IF NOT EXISTS tsync_times(file_id INT,idx INT,time_a INT,time_b INT,time_offset INT);`
)

type DbSession struct {
	log *slog.Logger
	db  *sql.DB
}

// NewDbSession opens (and with overwrite, recreates) the database at target.
func NewDbSession(log *slog.Logger, target string, overwrite bool) (*DbSession, error) {
	if overwrite {
		err := os.Remove(target)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", target)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{createHeaderTable, createTimesTable} {
		_, err = db.Exec(stmt)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize database schema: %w", err)
		}
	}
	return &DbSession{log: log, db: db}, nil
}

func (dbs *DbSession) DB() *sql.DB {
	return dbs.db
}

func (dbs *DbSession) Close() error {
	return dbs.db.Close()
}

// tableSession batches inserts into a table within a single transaction.
type tableSession struct {
	tx   *sql.Tx
	stmt *sql.Stmt
}

func newTableSession(ctx context.Context, tx *sql.Tx, cmd string) (*tableSession, error) {
	stmt, err := tx.PrepareContext(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &tableSession{tx: tx, stmt: stmt}, nil
}

func (ts *tableSession) Close() error {
	return ts.stmt.Close()
}

// ExportFile stores f under the given file name and returns its id.
func (dbs *DbSession) ExportFile(ctx context.Context, fname string, f *tsyncfile.File) (int64, error) {
	tx, err := dbs.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := exportFile(ctx, tx, fname, f)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	err = tx.Commit()
	if err != nil {
		return 0, err
	}
	dbs.log.LogAttrs(ctx, slog.LevelInfo, "exported time-sync file",
		slog.String("file", fname),
		slog.Int64("file_id", id),
		slog.Int("records", len(f.Records)))
	return id, nil
}

func exportFile(ctx context.Context, tx *sql.Tx, fname string, f *tsyncfile.File) (int64, error) {
	res, err := tx.ExecContext(ctx, `insert into tsync_header(file_name, module_name,
		creation_time, check_interval_us, tolerance_us, time_name_a, time_name_b,
		time_unit_a, time_unit_b, count) values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fname, f.ModuleName, f.CreationTime.Unix(),
		f.CheckInterval.Microseconds(), f.Tolerance.Microseconds(),
		f.TimeNames[0], f.TimeNames[1],
		f.TimeUnits[0].String(), f.TimeUnits[1].String(),
		len(f.Records))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	ts, err := newTableSession(ctx, tx,
		`insert into tsync_times(file_id, idx, time_a, time_b, time_offset) values(?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ts.Close()
	for _, r := range f.Records {
		_, err = ts.stmt.ExecContext(ctx, id, r.Index, r.TimeA, r.TimeB, r.TimeB-r.TimeA)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}
