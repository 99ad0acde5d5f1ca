package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/faceguard/internal/pipeline"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a pgvector container and returns its connection string.
// The test is skipped when Docker is not available.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "faceguard_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	// testcontainers can panic when the Docker socket is missing.
	container, err := func() (c testcontainers.Container, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
			Logger:           noopLogger{},
		})
	}()
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return fmt.Sprintf("postgres://user:password@%s:%s/faceguard_test?sslmode=disable", host, port.Port())
}

func sampleRun(started time.Time) *pipeline.Result {
	return &pipeline.Result{
		RunID:      uuid.NewString(),
		Source:     "/videos/lobby.mp4",
		SourceID:   "abc123",
		Method:     types.MethodDescriptor,
		Threshold:  1.15,
		Zone:       "vault",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Records: []types.MatchRecord{
			{Frame: 5, IdentityID: "E2", Distance: 0.2, Confidence: 0.8, Access: types.AccessDenied,
				Box: types.Detection{Top: 1, Right: 40, Bottom: 40, Left: 2}, Vector: []float64{1, 0, 0}},
			{Frame: 10, Distance: 1.4, Confidence: -0.4,
				Box: types.Detection{Top: 3, Right: 30, Bottom: 33, Left: 4}, Vector: []float64{0, 1, 0}},
		},
		Events: []types.AnomalyEvent{
			{Type: types.UnauthorizedZoneAccess, IdentityID: "E2", ZoneID: "vault", RiskScore: 85, Frame: 5},
			{Type: types.HighRiskDetected, IdentityID: "E2", ZoneID: "vault", RiskScore: 85, Frame: 5},
		},
		Summary: pipeline.RunSummary{
			TotalFramesSampled: 2,
			FacesDetected:      2,
			FacesRecognized:    1,
			AnomaliesCount:     2,
			AnomalyRate:        200,
			ThreatLevel:        types.ThreatCritical,
		},
	}
}

// TestStoreIntegration runs the audit store against a real Postgres container.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	s, err := New(ctx, startPostgres(t))
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	older := sampleRun(time.Now().Add(-time.Hour).UTC())
	newer := sampleRun(time.Now().UTC())
	newer.Events = nil
	newer.Cancelled = true

	for _, run := range []*pipeline.Result{older, newer} {
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}
	// Saving again must not duplicate rows.
	if err := s.SaveRun(ctx, older); err != nil {
		t.Fatalf("SaveRun (repeat) failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != newer.RunID || !runs[0].Cancelled {
		t.Errorf("Expected newest cancelled run first, got %+v", runs[0])
	}
	if runs[1].Summary.ThreatLevel != types.ThreatCritical || runs[1].Zone != "vault" {
		t.Errorf("Summary not round-tripped: %+v", runs[1])
	}

	events, err := s.RunAnomalies(ctx, older.RunID)
	if err != nil {
		t.Fatalf("RunAnomalies failed: %v", err)
	}
	if len(events) != 2 || events[0].Type != types.UnauthorizedZoneAccess || events[0].ZoneID != "vault" {
		t.Errorf("Unexpected events %+v", events)
	}

	if _, err := s.RunAnomalies(ctx, uuid.NewString()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	hits, err := s.NearestSightings(ctx, []float64{0.9, 0.1, 0}, 10)
	if err != nil {
		t.Fatalf("NearestSightings failed: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("Expected 4 stored encodings, got %d", len(hits))
	}
	if hits[0].IdentityID != "E2" || hits[0].Frame != 5 {
		t.Errorf("Expected the E2 record nearest, got %+v", hits[0])
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListRuns(ctx, 10); err == nil {
		t.Error("Expected ListRuns to fail after tables were dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
