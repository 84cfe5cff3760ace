// Package store keeps the station's scan journal in SQLite: every submitted
// scan with its outcome, plus the attendance events observed over the
// realtime channel.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/trillsolutions/scanner-app/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			station_code TEXT NOT NULL,
			success INTEGER NOT NULL,
			student_name TEXT,
			class_name TEXT,
			scan_time TEXT,
			attendance_status TEXT,
			scan_type TEXT,
			photo_url TEXT,
			message TEXT,
			scanned_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scans_recorded ON scans(recorded_at);`,
		`CREATE TABLE IF NOT EXISTS realtime_events (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			event TEXT NOT NULL,
			payload TEXT,
			received_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_realtime_events_received ON realtime_events(received_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// InsertScan persists one submission outcome. A missing id is generated.
func (s *Store) InsertScan(ctx context.Context, scan model.StoredScan) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("store not initialized")
	}

	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now().UTC()
	}

	var (
		studentName, className, scanTime sql.NullString
		status, scanType, photoURL       sql.NullString
	)
	if rec := scan.Result.Record; rec != nil {
		studentName = sql.NullString{String: rec.StudentName, Valid: true}
		className = sql.NullString{String: rec.ClassName, Valid: true}
		scanTime = sql.NullString{String: rec.ScanTime, Valid: true}
		status = sql.NullString{String: string(rec.Status), Valid: true}
		scanType = sql.NullString{String: rec.ScanType, Valid: true}
		photoURL = sql.NullString{String: rec.PhotoURL, Valid: rec.PhotoURL != ""}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO scans (id, payload, station_code, success, student_name, class_name, scan_time, attendance_status, scan_type, photo_url, message, scanned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		scan.ID,
		scan.Payload,
		scan.StationCode,
		boolToInt(scan.Result.Success),
		studentName,
		className,
		scanTime,
		status,
		scanType,
		photoURL,
		scan.Result.Message,
		scan.ScannedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert scan: %w", err)
	}

	return scan.ID, nil
}

// RecentScans returns the newest journal entries first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]model.StoredScan, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, payload, station_code, success, student_name, class_name, scan_time, attendance_status, scan_type, photo_url, message, scanned_at, recorded_at
		 FROM scans
		 ORDER BY recorded_at DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent scans: %w", err)
	}
	defer rows.Close()

	scans := make([]model.StoredScan, 0, limit)
	for rows.Next() {
		var (
			scan                             model.StoredScan
			success                          int
			studentName, className, scanTime sql.NullString
			status, scanType, photoURL       sql.NullString
			message                          sql.NullString
			scannedAtStr, recordedAtStr      string
		)

		if err := rows.Scan(
			&scan.ID, &scan.Payload, &scan.StationCode, &success,
			&studentName, &className, &scanTime, &status, &scanType, &photoURL,
			&message, &scannedAtStr, &recordedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}

		scan.Result.Success = success != 0
		scan.Result.Message = message.String
		if scan.Result.Success {
			scan.Result.Record = &model.ScanRecord{
				StudentName: studentName.String,
				ClassName:   className.String,
				ScanTime:    scanTime.String,
				Status:      model.AttendanceStatus(status.String),
				ScanType:    scanType.String,
				PhotoURL:    photoURL.String,
			}
		}
		scan.ScannedAt = parseTimestamp(scannedAtStr)
		scan.RecordedAt = parseTimestamp(recordedAtStr)

		scans = append(scans, scan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}

	return scans, nil
}

// ScanCounts returns the number of successful and failed submissions.
func (s *Store) ScanCounts(ctx context.Context) (succeeded, failed int, err error) {
	if s.db == nil {
		return 0, 0, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT success, COUNT(*) FROM scans GROUP BY success;`)
	if err != nil {
		return 0, 0, fmt.Errorf("count scans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var success, count int
		if err := rows.Scan(&success, &count); err != nil {
			return 0, 0, fmt.Errorf("scan count row: %w", err)
		}
		if success != 0 {
			succeeded = count
		} else {
			failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterate counts: %w", err)
	}

	return succeeded, failed, nil
}

// InsertRealtimeEvent records one inbound relay event.
func (s *Store) InsertRealtimeEvent(ctx context.Context, event model.StoredRealtimeEvent) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO realtime_events (id, channel, event, payload) VALUES (?, ?, ?, ?);`,
		event.ID,
		event.Channel,
		event.Event,
		event.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert realtime event: %w", err)
	}
	return nil
}

// RecentRealtimeEvents returns the newest relay events first.
func (s *Store) RecentRealtimeEvents(ctx context.Context, limit int) ([]model.StoredRealtimeEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, channel, event, payload, received_at
		 FROM realtime_events
		 ORDER BY received_at DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query realtime events: %w", err)
	}
	defer rows.Close()

	var events []model.StoredRealtimeEvent
	for rows.Next() {
		var (
			event      model.StoredRealtimeEvent
			payload    sql.NullString
			receivedAt string
		)
		if err := rows.Scan(&event.ID, &event.Channel, &event.Event, &payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan realtime event: %w", err)
		}
		event.Payload = payload.String
		event.ReceivedAt = parseTimestamp(receivedAt)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate realtime events: %w", err)
	}

	return events, nil
}

// WipeScans removes all journal entries, preserving nothing.
func (s *Store) WipeScans(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	for _, stmt := range []string{`DELETE FROM scans;`, `DELETE FROM realtime_events;`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("wipe journal: %w", err)
		}
	}
	return nil
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		ts, _ = time.Parse("2006-01-02T15:04:05Z07:00", value)
	}
	return ts
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
