package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/tiiuae/flightsession/internal/types"
)

const inboxSize = 256

// CommandRecord is an issued command joined with its outcome, if any
type CommandRecord struct {
	ID       uint64
	Kind     string
	Epoch    uint64
	IssuedAt time.Time
	Status   string
	Error    string
	Latency  time.Duration
}

// Journal records issued commands, their outcomes and session events in
// SQLite. Identifiers restart with every process so rows are keyed by run.
type Journal struct {
	dbPath string
	runID  string
	inbox  chan types.Message

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

func New(dbPath string) *Journal {
	return &Journal{
		dbPath: dbPath,
		runID:  uuid.New().String(),
		inbox:  make(chan types.Message, inboxSize),
	}
}

func (j *Journal) RunID() string {
	return j.runID
}

func (j *Journal) getDB() (*sql.DB, error) {
	j.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", j.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			j.dbErr = errors.Wrap(err, "opening journal")
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			j.dbErr = errors.Wrap(err, "initializing schema")
			return
		}
		j.db = db
	})

	if j.dbErr == nil && j.db == nil {
		return nil, errors.New("journal closed")
	}
	return j.db, j.dbErr
}

func (j *Journal) RecordIssued(ctx context.Context, c types.CommandIssued, at time.Time) error {
	db, err := j.getDB()
	if err != nil {
		return err
	}

	var payload sql.NullString
	if c.Payload != nil {
		b, err := json.Marshal(c.Payload)
		if err != nil {
			return errors.Wrap(err, "marshaling payload")
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	_, err = db.ExecContext(ctx, insertCommandSQL, j.runID, c.ID, c.Kind, c.Epoch, payload, at.UTC())
	return errors.Wrapf(err, "inserting command %d", c.ID)
}

func (j *Journal) RecordCompleted(ctx context.Context, c types.CommandCompleted, at time.Time) error {
	db, err := j.getDB()
	if err != nil {
		return err
	}

	var cmdErr sql.NullString
	if c.Error != "" {
		cmdErr = sql.NullString{String: c.Error, Valid: true}
	}
	_, err = db.ExecContext(ctx, insertOutcomeSQL, j.runID, c.ID, c.Status, cmdErr, c.Latency.Milliseconds(), at.UTC())
	return errors.Wrapf(err, "inserting outcome of %d", c.ID)
}

func (j *Journal) RecordEvent(ctx context.Context, messageType string, body interface{}, at time.Time) error {
	db, err := j.getDB()
	if err != nil {
		return err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshaling event")
	}
	_, err = db.ExecContext(ctx, insertEventSQL, j.runID, at.UTC(), messageType, string(b))
	return errors.Wrapf(err, "inserting %s", messageType)
}

// Commands returns every command of this run in issue order
func (j *Journal) Commands(ctx context.Context) (records []CommandRecord, err error) {
	db, err := j.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectCommandsSQL, j.runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying commands")
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var r CommandRecord
		var status, cmdErr sql.NullString
		var latency sql.NullInt64
		if err = rows.Scan(&r.ID, &r.Kind, &r.Epoch, &r.IssuedAt, &status, &cmdErr, &latency); err != nil {
			return nil, errors.Wrap(err, "scanning command")
		}
		r.Status = status.String
		r.Error = cmdErr.String
		r.Latency = time.Duration(latency.Int64) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}

// EventCount returns how many events of messageType were recorded in this run
func (j *Journal) EventCount(ctx context.Context, messageType string) (int, error) {
	db, err := j.getDB()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, countEventsSQL, j.runID, messageType).Scan(&n)
	return n, errors.Wrap(err, "counting events")
}

func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		if j.db != nil {
			j.closeErr = j.db.Close()
			j.db = nil
		}
	})
	return j.closeErr
}

// Receive queues a bus message for recording. Messages are dropped when the
// journal falls behind so the bus never blocks on disk.
func (j *Journal) Receive(message types.Message) {
	switch message.MessageType {
	case types.MessageAircraftState, types.MessageCommandReply, types.MessageSessionStats:
		return
	}
	select {
	case j.inbox <- message:
	default:
		log.Printf("Journal: inbox full, dropping %s", message.MessageType)
	}
}

func (j *Journal) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Println("Journal: shutting down")
			if err := j.Close(); err != nil {
				log.Printf("Journal: close failed: %v", err)
			}
			return
		case msg := <-j.inbox:
			if err := j.record(ctx, msg); err != nil {
				log.Printf("Journal: %v", err)
			}
		}
	}
}

func (j *Journal) record(ctx context.Context, msg types.Message) error {
	switch m := msg.Message.(type) {
	case types.CommandIssued:
		return j.RecordIssued(ctx, m, msg.Timestamp)
	case types.CommandCompleted:
		return j.RecordCompleted(ctx, m, msg.Timestamp)
	}
	return j.RecordEvent(ctx, msg.MessageType, msg.Message, msg.Timestamp)
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
