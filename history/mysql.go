package history

import (
	"database/sql"
	"log"

	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
)

// This file implements history using MySQL as the storage medium.

type mysqlRecorder struct {
	db *sql.DB
}

var _ Recorder = &mysqlRecorder{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysql connects to a MySQL database, creating or upgrading the tables as
// needed.
func NewMysql(dial string) (Recorder, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &mysqlRecorder{db: db}, nil
}

func (ms *mysqlRecorder) RecordRun(r Run) error {
	const query = `INSERT INTO runs (id, kind, started, finished, items, failed, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ms.db.Exec(query, r.ID, r.Kind, r.Started, r.Finished, r.Items, r.Failed, r.Bytes, r.Error)
	return err
}

func (ms *mysqlRecorder) RecordTask(t Task) error {
	const query = `INSERT INTO tasks (run_id, title_id, file, status, bytes, attempts, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ms.db.Exec(query, t.RunID, t.TitleID, t.File, t.Status, t.Bytes, t.Attempts, t.Error, t.When)
	return err
}

func (ms *mysqlRecorder) Runs(limit int) ([]Run, error) {
	const query = `
		SELECT id, kind, started, finished, items, failed, bytes, error
		FROM runs
		ORDER BY started DESC
		LIMIT ?`
	rows, err := ms.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Run
	for rows.Next() {
		var r Run
		var started, finished mysql.NullTime
		err = rows.Scan(&r.ID, &r.Kind, &started, &finished, &r.Items, &r.Failed, &r.Bytes, &r.Error)
		if err != nil {
			return nil, err
		}
		r.Started, r.Finished = started.Time, finished.Time
		result = append(result, r)
	}
	return result, rows.Err()
}

func (ms *mysqlRecorder) Tasks(limit int) ([]Task, error) {
	const query = `
		SELECT run_id, title_id, file, status, bytes, attempts, error, at
		FROM tasks
		ORDER BY at DESC, id DESC
		LIMIT ?`
	rows, err := ms.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Task
	for rows.Next() {
		var t Task
		var when mysql.NullTime
		err = rows.Scan(&t.RunID, &t.TitleID, &t.File, &t.Status, &t.Bytes, &t.Attempts, &t.Error, &when)
		if err != nil {
			return nil, err
		}
		t.When = when.Time
		result = append(result, t)
	}
	return result, rows.Err()
}

func (ms *mysqlRecorder) Close() error {
	return ms.db.Close()
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS runs (
		id varchar(64) PRIMARY KEY,
		kind varchar(16),
		started datetime,
		finished datetime,
		items int,
		failed int,
		bytes bigint,
		error text,
		INDEX runs_started (started))`,

		`CREATE TABLE IF NOT EXISTS tasks (
		id int PRIMARY KEY AUTO_INCREMENT,
		run_id varchar(64),
		title_id varchar(255),
		file varchar(255),
		status varchar(16),
		bytes bigint,
		attempts int,
		error text,
		at datetime,
		INDEX tasks_run (run_id),
		INDEX tasks_at (at))`,
	}
	return execlist(tx, s)
}
