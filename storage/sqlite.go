package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"propflow/models"
)

// SQLiteStore is the local operational journal: operator commands and
// per-execution log lines. Domain data never lives here.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT NOT NULL,
		params TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS pipeline_logs (
		id INTEGER PRIMARY KEY,
		execution_name TEXT NOT NULL DEFAULT '',
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_execution ON pipeline_logs(execution_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO commands (command, params) VALUES (?, ?)`,
		string(cmd), string(params))
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, ''), created_at
		FROM commands WHERE processed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var c models.Command
		var params string
		if err := rows.Scan(&c.ID, &c.Command, &params, &c.CreatedAt); err != nil {
			return nil, err
		}
		if params != "" {
			c.Params = []byte(params)
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) Log(executionName string, level models.LogLevel, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO pipeline_logs (execution_name, level, message) VALUES (?, ?, ?)`,
		executionName, string(level), message)
	return err
}

func (s *SQLiteStore) GetLogsForExecution(executionName string, limit int) ([]models.PipelineLog, error) {
	rows, err := s.db.Query(`
		SELECT id, execution_name, timestamp, level, message
		FROM pipeline_logs WHERE execution_name = ?
		ORDER BY id DESC LIMIT ?`, executionName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.PipelineLog
	for rows.Next() {
		var l models.PipelineLog
		if err := rows.Scan(&l.ID, &l.ExecutionName, &l.Timestamp, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// PruneLogs keeps the journal from growing without bound.
func (s *SQLiteStore) PruneLogs(olderThan time.Duration) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM pipeline_logs WHERE timestamp < ?`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
