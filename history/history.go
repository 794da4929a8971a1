// Package history keeps a log of update and download runs and of every
// download task in a SQL database. It is for display only; nothing in the
// synchronizer reads it back to make decisions.
//
// Three databases are supported: the embedded QL database (the default, and
// "memory" for tests), SQLite, and MySQL.
package history

import (
	"log"
	"strings"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/pkg/errors"
)

// A Run is one update or download run.
type Run struct {
	ID       string
	Kind     string // "update" or "download"
	Started  time.Time
	Finished time.Time
	Items    int   // titles for updates, tasks for downloads
	Failed   int   // items which failed
	Bytes    int64 // bytes transferred
	Error    string
}

// A Task is the outcome of one download task.
type Task struct {
	RunID    string
	TitleID  string
	File     string
	Status   string
	Bytes    int64
	Attempts int
	Error    string
	When     time.Time
}

// Recorder stores history.
type Recorder interface {
	RecordRun(r Run) error
	RecordTask(t Task) error
	// Runs returns the most recent runs, newest first.
	Runs(limit int) ([]Run, error)
	// Tasks returns the most recent tasks, newest first.
	Tasks(limit int) ([]Task, error)
	Close() error
}

// Open connects to the history database. kind is one of "ql", "sqlite", or
// "mysql". For QL the dial is a file name or "memory"; for SQLite a file
// name; for MySQL a DSN, which should include parseTime=true.
func Open(kind, dial string) (Recorder, error) {
	switch strings.ToLower(kind) {
	case "", "ql":
		return NewQl(dial)
	case "sqlite", "sqlite3":
		return NewSqlite(dial)
	case "mysql":
		return NewMysql(dial)
	}
	return nil, errors.Errorf("unknown history database %q", kind)
}

// we need to adapt the migration version functions to work with MySQL and
// SQLite. This is slightly modified from github.com/BurntSushi/migration.
type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	var version int
	if err := tx.QueryRow(d.GetSQL).Scan(&version); err != nil {
		// we assume error means there is no migration table
		log.Println("history:", err)
		return 0, nil
	}
	return version, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec(d.SetSQL, version); err != nil {
		if d.CreateSQL == "" {
			return err
		}
		if _, err := tx.Exec(d.CreateSQL); err != nil {
			return err
		}
		_, err = tx.Exec(d.SetSQL, version)
		return err
	}
	return nil
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around drivers not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
