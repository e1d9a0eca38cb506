// Package sqlitestore provides a single-file SQLite implementation of
// triage.Store for local-device deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/carebridge/internal/triage/sqlitestore")

const schema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS triage_cases (
	id            TEXT PRIMARY KEY,
	patient_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	risk_level    TEXT NOT NULL DEFAULT '',
	ai_assessment TEXT NOT NULL DEFAULT '',
	chat_history  TEXT NOT NULL DEFAULT '[]',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_triage_cases_patient ON triage_cases(patient_id, status);

CREATE TABLE IF NOT EXISTS patient_settings (
	patient_id         TEXT PRIMARY KEY,
	partner_alert      INTEGER NOT NULL DEFAULT 0,
	wearable_connected INTEGER NOT NULL DEFAULT 0,
	updated_at         INTEGER NOT NULL
);
`

// Store persists cases and settings in a SQLite file.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// New opens (creating if needed) the database at path and applies the schema.
func New(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const caseColumns = `id, patient_id, status, risk_level, ai_assessment, chat_history, created_at, updated_at`

// ListCases returns every case ordered by creation time.
func (s *Store) ListCases(ctx context.Context) ([]*triage.Case, error) {
	ctx, span := startSpan(ctx, "sqlitestore.ListCases", "SELECT")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT `+caseColumns+` FROM triage_cases ORDER BY created_at, id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query cases: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []*triage.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate cases: %w", err))
	}
	return out, nil
}

// GetCase retrieves a case by ID.
func (s *Store) GetCase(ctx context.Context, id string) (*triage.Case, bool, error) {
	ctx, span := startSpan(ctx, "sqlitestore.GetCase", "SELECT")
	defer span.End()

	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM triage_cases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return c, true, nil
}

// PutCase inserts or replaces a case.
func (s *Store) PutCase(ctx context.Context, c *triage.Case) error {
	ctx, span := startSpan(ctx, "sqlitestore.PutCase", "UPSERT")
	defer span.End()

	history := c.ChatHistory
	if history == nil {
		history = []triage.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fail(span, fmt.Errorf("marshal chat history: %w", err))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO triage_cases (`+caseColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		patient_id = excluded.patient_id,
		status = excluded.status,
		risk_level = excluded.risk_level,
		ai_assessment = excluded.ai_assessment,
		chat_history = excluded.chat_history,
		updated_at = excluded.updated_at`,
		c.ID, c.PatientID, string(c.Status), string(c.RiskLevel), c.AIAssessment,
		string(historyJSON), c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert case: %w", err))
	}
	return nil
}

// GetSettings retrieves the settings record for a patient.
func (s *Store) GetSettings(ctx context.Context, patientID string) (*triage.Settings, bool, error) {
	ctx, span := startSpan(ctx, "sqlitestore.GetSettings", "SELECT")
	defer span.End()

	var st triage.Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT partner_alert, wearable_connected FROM patient_settings WHERE patient_id = ?`,
		patientID,
	).Scan(&st.PartnerAlert, &st.WearableConnected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan settings: %w", err))
	}
	return &st, true, nil
}

// PutSettings inserts or replaces a patient's settings.
func (s *Store) PutSettings(ctx context.Context, patientID string, st *triage.Settings) error {
	ctx, span := startSpan(ctx, "sqlitestore.PutSettings", "UPSERT")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO patient_settings (patient_id, partner_alert, wearable_connected, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(patient_id) DO UPDATE SET
		partner_alert = excluded.partner_alert,
		wearable_connected = excluded.wearable_connected,
		updated_at = excluded.updated_at`,
		patientID, st.PartnerAlert, st.WearableConnected, time.Now().UnixNano(),
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert settings: %w", err))
	}
	return nil
}

// ResetAll deletes every case and settings row in one transaction.
func (s *Store) ResetAll(ctx context.Context) error {
	ctx, span := startSpan(ctx, "sqlitestore.ResetAll", "DELETE")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"triage_cases", "patient_settings"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fail(span, fmt.Errorf("delete %s: %w", table, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*triage.Case, error) {
	var (
		c           triage.Case
		status      string
		risk        string
		historyJSON string
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&c.ID, &c.PatientID, &status, &risk, &c.AIAssessment, &historyJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}
	c.Status = triage.Status(status)
	c.RiskLevel = triage.RiskLevel(risk)
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := json.Unmarshal([]byte(historyJSON), &c.ChatHistory); err != nil {
		return nil, fmt.Errorf("unmarshal chat history %s: %w", c.ID, err)
	}
	return &c, nil
}
