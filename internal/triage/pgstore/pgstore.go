// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/carebridge/internal/postgres"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/carebridge/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists cases and patient settings in PostgreSQL. Chat history is
// kept as one JSONB document per case so every write is a whole-record replace.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const caseColumns = `id, patient_id, status, risk_level, ai_assessment, chat_history, created_at, updated_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(postgres.WithOp(ctx, name), name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ListCases returns every case ordered by creation time.
func (s *Store) ListCases(ctx context.Context) ([]*triage.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCases", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+caseColumns+` FROM triage_cases ORDER BY created_at, id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query cases: %w", err))
	}
	defer rows.Close()

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
	span.SetAttributes(attribute.Int("carebridge.cases", len(out)))
	return out, nil
}

// GetCase retrieves a case by ID.
func (s *Store) GetCase(ctx context.Context, id string) (*triage.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCase", "SELECT")
	defer span.End()

	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM triage_cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, err)
	}
	return c, true, nil
}

// PutCase inserts or replaces a case. Writes of an open case hold a
// per-patient advisory lock and fail with triage.ErrOpenCaseConflict when a
// different open case exists for the patient, so processes sharing the
// database cannot both open one.
func (s *Store) PutCase(ctx context.Context, c *triage.Case) error {
	ctx, span := startSpan(ctx, "pgstore.PutCase", "UPSERT")
	defer span.End()
	span.SetAttributes(
		attribute.String("carebridge.case.id", c.ID),
		attribute.String("carebridge.patient.id", c.PatientID),
	)

	history := c.ChatHistory
	if history == nil {
		history = []triage.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fail(span, fmt.Errorf("marshal chat history: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if c.Status == triage.StatusAnalyzing {
		if err := guardOpenCase(ctx, tx, c); err != nil {
			return fail(span, err)
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO triage_cases (`+caseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			patient_id    = EXCLUDED.patient_id,
			status        = EXCLUDED.status,
			risk_level    = EXCLUDED.risk_level,
			ai_assessment = EXCLUDED.ai_assessment,
			chat_history  = EXCLUDED.chat_history,
			updated_at    = EXCLUDED.updated_at`,
		c.ID, c.PatientID, string(c.Status), string(c.RiskLevel), c.AIAssessment,
		historyJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert case: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// guardOpenCase takes the patient's advisory lock for the rest of tx and
// rejects c if another open case already exists.
func guardOpenCase(ctx context.Context, tx pgx.Tx, c *triage.Case) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.PatientID); err != nil {
		return fmt.Errorf("patient lock: %w", err)
	}
	var other string
	err := tx.QueryRow(ctx,
		`SELECT id FROM triage_cases WHERE patient_id = $1 AND status = $2 AND id <> $3 LIMIT 1`,
		c.PatientID, string(triage.StatusAnalyzing), c.ID,
	).Scan(&other)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check open case: %w", err)
	}
	return fmt.Errorf("%w: %s", triage.ErrOpenCaseConflict, other)
}

// GetSettings retrieves the settings record for a patient.
func (s *Store) GetSettings(ctx context.Context, patientID string) (*triage.Settings, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetSettings", "SELECT")
	defer span.End()

	var st triage.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT partner_alert, wearable_connected FROM patient_settings WHERE patient_id = $1`,
		patientID,
	).Scan(&st.PartnerAlert, &st.WearableConnected)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan settings: %w", err))
	}
	return &st, true, nil
}

// PutSettings inserts or replaces a patient's settings.
func (s *Store) PutSettings(ctx context.Context, patientID string, st *triage.Settings) error {
	ctx, span := startSpan(ctx, "pgstore.PutSettings", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx, `INSERT INTO patient_settings (patient_id, partner_alert, wearable_connected, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (patient_id) DO UPDATE SET
			partner_alert      = EXCLUDED.partner_alert,
			wearable_connected = EXCLUDED.wearable_connected,
			updated_at         = EXCLUDED.updated_at`,
		patientID, st.PartnerAlert, st.WearableConnected,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert settings: %w", err))
	}
	return nil
}

// ResetAll truncates cases and settings in one transaction.
func (s *Store) ResetAll(ctx context.Context) error {
	ctx, span := startSpan(ctx, "pgstore.ResetAll", "TRUNCATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `TRUNCATE triage_cases, patient_settings`); err != nil {
		return fail(span, fmt.Errorf("truncate: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// scanCase scans a single row into a triage.Case. A missing row surfaces as a
// wrapped pgx.ErrNoRows.
func scanCase(row pgx.Row) (*triage.Case, error) {
	var (
		c           triage.Case
		status      string
		risk        string
		historyJSON []byte
	)
	err := row.Scan(&c.ID, &c.PatientID, &status, &risk, &c.AIAssessment, &historyJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}
	c.Status = triage.Status(status)
	c.RiskLevel = triage.RiskLevel(risk)
	if err := json.Unmarshal(historyJSON, &c.ChatHistory); err != nil {
		return nil, fmt.Errorf("unmarshal chat history %s: %w", c.ID, err)
	}
	return &c, nil
}
