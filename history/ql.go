package history

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/cznic/ql/driver"
	"github.com/google/uuid"
)

// This file implements history using the QL embedded database.

type qlRecorder struct {
	db *sql.DB
}

var _ Recorder = &qlRecorder{}

const qlInit = `
	CREATE TABLE IF NOT EXISTS runs (
		id string,
		kind string,
		started time,
		finished time,
		items int,
		failed int,
		bytes int,
		error string
	);
	CREATE INDEX IF NOT EXISTS runsstarted ON runs (started);
	CREATE TABLE IF NOT EXISTS tasks (
		run_id string,
		title_id string,
		file string,
		status string,
		bytes int,
		attempts int,
		error string,
		at time
	);
	CREATE INDEX IF NOT EXISTS tasksrun ON tasks (run_id);
	CREATE INDEX IF NOT EXISTS tasksat ON tasks (at);
`

// NewQl opens a QL database. filename is the name of the file to save the
// database to. The filename "memory" means to keep everything in memory.
func NewQl(filename string) (Recorder, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		// every memory database is separate
		db, err = sql.Open("ql-mem", uuid.New().String()+".db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlRecorder{db: db}, nil
}

func (qr *qlRecorder) RecordRun(r Run) error {
	const query = `INSERT INTO runs VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`
	_, err := performExec(qr.db, query, r.ID, r.Kind, r.Started, r.Finished,
		int64(r.Items), int64(r.Failed), r.Bytes, r.Error)
	return err
}

func (qr *qlRecorder) RecordTask(t Task) error {
	const query = `INSERT INTO tasks VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`
	_, err := performExec(qr.db, query, t.RunID, t.TitleID, t.File, t.Status,
		t.Bytes, int64(t.Attempts), t.Error, t.When)
	return err
}

func (qr *qlRecorder) Runs(limit int) ([]Run, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, started, finished, items, failed, bytes, error
		FROM runs
		ORDER BY started DESC
		LIMIT %d`, limit)
	rows, err := qr.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Run
	for rows.Next() {
		var r Run
		var items, failed int64
		err = rows.Scan(&r.ID, &r.Kind, &r.Started, &r.Finished, &items, &failed, &r.Bytes, &r.Error)
		if err != nil {
			return nil, err
		}
		r.Items, r.Failed = int(items), int(failed)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (qr *qlRecorder) Tasks(limit int) ([]Task, error) {
	query := fmt.Sprintf(`
		SELECT run_id, title_id, file, status, bytes, attempts, error, at
		FROM tasks
		ORDER BY at DESC
		LIMIT %d`, limit)
	rows, err := qr.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Task
	for rows.Next() {
		var t Task
		var attempts int64
		err = rows.Scan(&t.RunID, &t.TitleID, &t.File, &t.Status, &t.Bytes, &attempts, &t.Error, &t.When)
		if err != nil {
			return nil, err
		}
		t.Attempts = int(attempts)
		result = append(result, t)
	}
	return result, rows.Err()
}

func (qr *qlRecorder) Close() error {
	return qr.db.Close()
}

// QL requires every change to be inside a transaction.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
