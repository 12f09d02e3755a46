package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"devstash/internal/storage"
)

// Store реализует storage.Store поверх SQLite.
type Store struct {
	db *sql.DB
}

// Open инициализирует соединение и выполняет миграции.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS log_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			command TEXT,
			invocation_id TEXT,
			attrs BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_ts ON log_records(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_log_records_command_ts ON log_records(command, ts);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRecord сохраняет запись журнала.
func (s *Store) SaveRecord(ctx context.Context, rec storage.Record) error {
	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO log_records(level, message, command, invocation_id, attrs, ts) VALUES(?,?,?,?,?,?)`,
		rec.Level, rec.Message, rec.Command, rec.InvocationID, rec.Attrs, ts.UTC())
	if err != nil {
		return fmt.Errorf("insert log record: %w", err)
	}
	return nil
}

// QueryRecords возвращает записи по фильтрам, новые первыми.
func (s *Store) QueryRecords(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	from := q.From
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	to := q.To
	if to.IsZero() {
		to = time.Now().Add(time.Second)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT level, message, command, invocation_id, attrs, ts
FROM log_records
WHERE ts >= ? AND ts <= ? AND (? = '' OR command = ?)
ORDER BY ts DESC, id DESC
LIMIT ?`, from.UTC(), to.UTC(), q.Command, q.Command, limit)
	if err != nil {
		return nil, fmt.Errorf("query log records: %w", err)
	}
	defer rows.Close()

	records := make([]storage.Record, 0, limit)
	for rows.Next() {
		var rec storage.Record
		var command, invocationID sql.NullString
		var ts string
		if err := rows.Scan(&rec.Level, &rec.Message, &command, &invocationID, &rec.Attrs, &ts); err != nil {
			return nil, fmt.Errorf("scan log record: %w", err)
		}
		rec.Command = command.String
		rec.InvocationID = invocationID.String
		parsedTS, err := parseSQLiteTS(ts)
		if err != nil {
			return nil, fmt.Errorf("parse log timestamp: %w", err)
		}
		rec.TS = parsedTS
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log records: %w", err)
	}
	return records, nil
}

// Prune удаляет записи старше before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM log_records WHERE ts < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune log records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

func parseSQLiteTS(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported sqlite time format: %q", v)
}

// Close закрывает соединение.
func (s *Store) Close() error {
	return s.db.Close()
}
