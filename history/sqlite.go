package history

import (
	"database/sql"
	"log"

	"github.com/BurntSushi/migration"
	_ "github.com/mattn/go-sqlite3"
)

// This file implements history using SQLite. It needs cgo.

type sqliteRecorder struct {
	db *sql.DB
}

var _ Recorder = &sqliteRecorder{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var sqliteMigrations = []migration.Migrator{
	sqliteschema1,
}

var sqliteVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, datetime('now'))`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewSqlite opens the SQLite database in the file filename, creating or
// upgrading the tables as needed.
func NewSqlite(filename string) (Recorder, error) {
	dsn := "file:" + filename + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := migration.OpenWith(
		"sqlite3",
		dsn,
		sqliteMigrations,
		sqliteVersioning.Get,
		sqliteVersioning.Set)
	if err != nil {
		log.Printf("Open Sqlite: %s", err.Error())
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	return &sqliteRecorder{db: db}, nil
}

func (sr *sqliteRecorder) RecordRun(r Run) error {
	const query = `INSERT INTO runs (id, kind, started, finished, items, failed, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := sr.db.Exec(query, r.ID, r.Kind, r.Started.UTC(), r.Finished.UTC(), r.Items, r.Failed, r.Bytes, r.Error)
	return err
}

func (sr *sqliteRecorder) RecordTask(t Task) error {
	const query = `INSERT INTO tasks (run_id, title_id, file, status, bytes, attempts, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := sr.db.Exec(query, t.RunID, t.TitleID, t.File, t.Status, t.Bytes, t.Attempts, t.Error, t.When.UTC())
	return err
}

func (sr *sqliteRecorder) Runs(limit int) ([]Run, error) {
	const query = `
		SELECT id, kind, started, finished, items, failed, bytes, error
		FROM runs
		ORDER BY started DESC, rowid DESC
		LIMIT ?`
	rows, err := sr.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Run
	for rows.Next() {
		var r Run
		err = rows.Scan(&r.ID, &r.Kind, &r.Started, &r.Finished, &r.Items, &r.Failed, &r.Bytes, &r.Error)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (sr *sqliteRecorder) Tasks(limit int) ([]Task, error) {
	const query = `
		SELECT run_id, title_id, file, status, bytes, attempts, error, at
		FROM tasks
		ORDER BY at DESC, rowid DESC
		LIMIT ?`
	rows, err := sr.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Task
	for rows.Next() {
		var t Task
		err = rows.Scan(&t.RunID, &t.TitleID, &t.File, &t.Status, &t.Bytes, &t.Attempts, &t.Error, &t.When)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (sr *sqliteRecorder) Close() error {
	return sr.db.Close()
}

func sqliteschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS runs (
		id text PRIMARY KEY,
		kind text,
		started datetime,
		finished datetime,
		items integer,
		failed integer,
		bytes integer,
		error text)`,
		`CREATE INDEX IF NOT EXISTS runs_started ON runs (started)`,

		`CREATE TABLE IF NOT EXISTS tasks (
		run_id text,
		title_id text,
		file text,
		status text,
		bytes integer,
		attempts integer,
		error text,
		at datetime)`,
		`CREATE INDEX IF NOT EXISTS tasks_run ON tasks (run_id)`,
		`CREATE INDEX IF NOT EXISTS tasks_at ON tasks (at)`,
	}
	return execlist(tx, s)
}
