package notify

import (
	"context"
	"time"

	"github.com/andresmejia3/faceguard/internal/risk"
	"github.com/andresmejia3/faceguard/internal/types"
)

const (
	StatusUnauthorized = "unauthorized"
	StatusHighRisk     = "high_risk"
)

// Alert is one notification about an identity of concern.
type Alert struct {
	RunID      string            `json:"run_id,omitempty"`
	IdentityID string            `json:"identity_id"`
	ZoneID     string            `json:"zone_id,omitempty"`
	RiskScore  float64           `json:"risk_score"`
	RiskLevel  types.ThreatLevel `json:"risk_level"`
	Status     string            `json:"status"`
	Frame      int               `json:"frame"`
	DetectedAt time.Time         `json:"detected_at"`
}

// Ack reports what a Notifier did with a batch.
type Ack struct {
	Sent     int
	Filtered int
}

// Notifier delivers alerts. Implementations apply the Filter themselves.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) (Ack, error)
	Close() error
}

// Filter decides which alerts are worth sending.
type Filter struct {
	MinRisk float64
}

// Allow passes alerts at or above MinRisk, with a HIGH or CRITICAL level, or
// about unauthorized access.
func (f Filter) Allow(a Alert) bool {
	return a.RiskScore >= f.MinRisk ||
		a.RiskLevel == types.ThreatHigh || a.RiskLevel == types.ThreatCritical ||
		a.Status == StatusUnauthorized
}

// Apply splits alerts into the ones to send and the number dropped.
func (f Filter) Apply(alerts []Alert) ([]Alert, int) {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if f.Allow(a) {
			out = append(out, a)
		}
	}
	return out, len(alerts) - len(out)
}

// BuildAlerts turns anomaly events into alerts. Repeated events for the same
// identity, zone and status collapse into the first one.
func BuildAlerts(runID string, events []types.AnomalyEvent, ev *risk.Evaluator, at time.Time) []Alert {
	type key struct{ identity, zone, status string }
	seen := make(map[key]bool)

	alerts := []Alert{}
	for _, e := range events {
		status := StatusHighRisk
		if e.Type == types.UnauthorizedZoneAccess {
			status = StatusUnauthorized
		}
		k := key{e.IdentityID, e.ZoneID, status}
		if seen[k] {
			continue
		}
		seen[k] = true

		level := ev.AlertLevel(e.RiskScore)
		if level == "" {
			level = ev.DetectionThreat(e.RiskScore)
		}
		alerts = append(alerts, Alert{
			RunID:      runID,
			IdentityID: e.IdentityID,
			ZoneID:     e.ZoneID,
			RiskScore:  e.RiskScore,
			RiskLevel:  level,
			Status:     status,
			Frame:      e.Frame,
			DetectedAt: at,
		})
	}
	return alerts
}
