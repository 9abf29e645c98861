package journal

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS commands (
    run_id     TEXT    NOT NULL,
    id         INTEGER NOT NULL,
    kind       TEXT    NOT NULL,
    epoch      INTEGER NOT NULL,
    payload    TEXT,
    issued_at  TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS outcomes (
    run_id       TEXT    NOT NULL,
    command_id   INTEGER NOT NULL,
    status       TEXT    NOT NULL,
    error        TEXT,
    latency_ms   INTEGER NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, command_id)
);

CREATE TABLE IF NOT EXISTS events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    timestamp    TIMESTAMP NOT NULL,
    message_type TEXT NOT NULL,
    body         TEXT NOT NULL
);`

	insertCommandSQL = `
INSERT INTO commands (run_id,
                      id,
                      kind,
                      epoch,
                      payload,
                      issued_at)
VALUES (?, ?, ?, ?, ?, ?)`

	insertOutcomeSQL = `
INSERT OR REPLACE INTO outcomes (run_id,
                                 command_id,
                                 status,
                                 error,
                                 latency_ms,
                                 completed_at)
VALUES (?, ?, ?, ?, ?, ?)`

	insertEventSQL = `
INSERT INTO events (run_id,
                    timestamp,
                    message_type,
                    body)
VALUES (?, ?, ?, ?)`

	selectCommandsSQL = `
SELECT
    c.id,
    c.kind,
    c.epoch,
    c.issued_at,
    o.status,
    o.error,
    o.latency_ms
FROM commands c
LEFT JOIN outcomes o ON o.run_id = c.run_id AND o.command_id = c.id
WHERE
    c.run_id = ?
ORDER BY c.id`

	countEventsSQL = `
SELECT
    COUNT(*)
FROM events
WHERE
    run_id = ? AND message_type = ?`
)
