package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/faceguard/internal/pipeline"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ErrRunNotFound is returned when a run ID is not in the audit tables.
var ErrRunNotFound = errors.New("run not found")

// Store manages the PostgreSQL connection holding the run audit tables.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the audit tables and the vector extension if they don't exist (Auto-Migration).
// Encodings are stored as untyped vectors since the dimension depends on the run's method.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			method TEXT NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			zone_id TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			summary JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS match_records (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			identity_id TEXT,
			distance DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			authorized BOOLEAN NOT NULL,
			access_status TEXT,
			box INT[] NOT NULL,
			encoding VECTOR
		);
		CREATE TABLE IF NOT EXISTS anomaly_events (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			identity_id TEXT NOT NULL,
			zone_id TEXT,
			risk_score DOUBLE PRECISION NOT NULL,
			frame_index INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS match_records_run_id_idx ON match_records (run_id);
		CREATE INDEX IF NOT EXISTS anomaly_events_run_id_idx ON anomaly_events (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveRun persists a finished or cancelled run in one transaction. Saving
// the same run twice replaces the earlier rows.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Result) error {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM runs WHERE id = $1", res.RunID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, source, source_id, method, threshold, zone_id, started_at, finished_at, cancelled, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, res.RunID, res.Source, res.SourceID, string(res.Method), res.Threshold, nullable(res.Zone),
		res.StartedAt, res.FinishedAt, res.Cancelled, summary)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range res.Records {
		box := []int32{int32(rec.Box.Top), int32(rec.Box.Right), int32(rec.Box.Bottom), int32(rec.Box.Left)}
		var enc any
		if len(rec.Vector) > 0 {
			enc = pgvector.NewVector(toFloat32(rec.Vector))
		}
		batch.Queue(`
			INSERT INTO match_records (run_id, frame_index, identity_id, distance, confidence, authorized, access_status, box, encoding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector)
		`, res.RunID, rec.Frame, nullable(rec.IdentityID), rec.Distance, rec.Confidence, rec.Authorized,
			nullable(string(rec.Access)), box, enc)
	}
	for _, ev := range res.Events {
		batch.Queue(`
			INSERT INTO anomaly_events (run_id, type, identity_id, zone_id, risk_score, frame_index)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, res.RunID, string(ev.Type), ev.IdentityID, nullable(ev.ZoneID), ev.RiskScore, ev.Frame)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert run details: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RunInfo is a persisted run as listed by ListRuns.
type RunInfo struct {
	ID         string
	Source     string
	SourceID   string
	Method     types.EncodingMethod
	Threshold  float64
	Zone       string
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
	Summary    pipeline.RunSummary
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id::text, source, source_id, method, threshold, COALESCE(zone_id, ''),
		       started_at, finished_at, cancelled, summary
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		var method string
		var summary []byte
		if err := rows.Scan(&r.ID, &r.Source, &r.SourceID, &method, &r.Threshold, &r.Zone,
			&r.StartedAt, &r.FinishedAt, &r.Cancelled, &summary); err != nil {
			return nil, err
		}
		r.Method = types.EncodingMethod(method)
		if err := json.Unmarshal(summary, &r.Summary); err != nil {
			return nil, fmt.Errorf("corrupt summary for run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunAnomalies returns a run's anomaly events in frame order.
func (s *Store) RunAnomalies(ctx context.Context, runID string) ([]types.AnomalyEvent, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)", runID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT type, identity_id, COALESCE(zone_id, ''), risk_score, frame_index
		FROM anomaly_events
		WHERE run_id = $1
		ORDER BY frame_index, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []types.AnomalyEvent{}
	for rows.Next() {
		var ev types.AnomalyEvent
		var typ string
		if err := rows.Scan(&typ, &ev.IdentityID, &ev.ZoneID, &ev.RiskScore, &ev.Frame); err != nil {
			return nil, err
		}
		ev.Type = types.AnomalyType(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Sighting is a stored match record near a probe encoding.
type Sighting struct {
	RunID      string
	Source     string
	Frame      int
	IdentityID string
	Distance   float64 // pgvector L2 distance between raw encodings
}

// NearestSightings searches stored encodings of the same dimension with the
// pgvector L2 operator.
func (s *Store) NearestSightings(ctx context.Context, vec []float64, limit int) ([]Sighting, error) {
	query := `
		SELECT m.run_id::text, r.source, m.frame_index, COALESCE(m.identity_id, ''), m.encoding <-> $1::vector AS dist
		FROM match_records m
		JOIN runs r ON r.id = m.run_id
		WHERE m.encoding IS NOT NULL AND vector_dims(m.encoding) = $2
		ORDER BY dist ASC
		LIMIT $3
	`
	rows, err := s.conn.Query(ctx, query, pgvector.NewVector(toFloat32(vec)), len(vec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var h Sighting
		if err := rows.Scan(&h.RunID, &h.Source, &h.Frame, &h.IdentityID, &h.Distance); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS anomaly_events CASCADE;
		DROP TABLE IF EXISTS match_records CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
	`)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
