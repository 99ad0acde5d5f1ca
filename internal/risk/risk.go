package risk

import (
	"math"
	"sort"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/types"
)

// Evaluator applies the zone and risk rules to one matched identity.
type Evaluator struct {
	cfg  config.RiskConfig
	site *config.Site
}

func NewEvaluator(cfg config.RiskConfig, site *config.Site) *Evaluator {
	if site == nil {
		site = &config.Site{}
	}
	return &Evaluator{cfg: cfg, site: site}
}

// RiskOf returns the identity's score, or the configured default.
func (e *Evaluator) RiskOf(identityID string) float64 {
	return e.site.Risk(identityID, e.cfg.DefaultRisk)
}

// Authorized reports zone authorization when a zone is given, and the site's
// global list otherwise.
func (e *Evaluator) Authorized(identityID, zoneID string) bool {
	if zoneID != "" {
		return e.site.Zone(zoneID).Allows(identityID)
	}
	return e.site.IsAuthorized(identityID)
}

// Evaluate runs both rules independently. The access status is empty when no zone is given.
func (e *Evaluator) Evaluate(identityID, zoneID string, riskScore float64, frame int) (types.AccessStatus, []types.AnomalyEvent) {
	var events []types.AnomalyEvent

	if riskScore > e.cfg.HighRisk {
		events = append(events, types.AnomalyEvent{
			Type:       types.HighRiskDetected,
			IdentityID: identityID,
			ZoneID:     zoneID,
			RiskScore:  riskScore,
			Frame:      frame,
		})
	}

	if zoneID == "" {
		return "", events
	}

	if e.site.Zone(zoneID).Allows(identityID) {
		return types.AccessGranted, events
	}
	if riskScore > e.cfg.ZoneRisk {
		events = append(events, types.AnomalyEvent{
			Type:       types.UnauthorizedZoneAccess,
			IdentityID: identityID,
			ZoneID:     zoneID,
			RiskScore:  riskScore,
			Frame:      frame,
		})
		return types.AccessDenied, events
	}
	return types.AccessAdvisory, events
}

// ZonesFor lists the zones a detection is checked against: the given zone
// alone, or every zone of the site in ID order when none is given.
func (e *Evaluator) ZonesFor(zoneID string) []string {
	if zoneID != "" {
		return []string{zoneID}
	}
	return e.site.ZoneIDs()
}

// accessRank orders statuses from least to most restrictive.
var accessRank = map[types.AccessStatus]int{
	"":                   0,
	types.AccessGranted:  1,
	types.AccessAdvisory: 2,
	types.AccessDenied:   3,
}

// EvaluateZones applies the zone rule once per zone. HIGH_RISK_DETECTED is
// raised at most once and carries no zone. The returned status is the most
// restrictive one over all zones.
func (e *Evaluator) EvaluateZones(identityID string, zones []string, riskScore float64, frame int) (types.AccessStatus, []types.AnomalyEvent) {
	if len(zones) == 1 {
		return e.Evaluate(identityID, zones[0], riskScore, frame)
	}
	status, events := e.Evaluate(identityID, "", riskScore, frame)
	for _, z := range zones {
		s, evs := e.Evaluate(identityID, z, riskScore, frame)
		for _, ev := range evs {
			if ev.Type == types.UnauthorizedZoneAccess {
				events = append(events, ev)
			}
		}
		if accessRank[s] > accessRank[status] {
			status = s
		}
	}
	return status, events
}

// AnomalyRate is anomalies per recognized face, in percent.
func AnomalyRate(anomalies, recognized int) float64 {
	return float64(anomalies) / float64(max(recognized, 1)) * 100
}

// threatRules are checked in order; a run matches a rule when either its
// anomaly count or its anomaly rate reaches the rule's bound.
var threatRules = []struct {
	level types.ThreatLevel
	count int
	rate  float64
}{
	{types.ThreatCritical, 5, 50},
	{types.ThreatHigh, 3, 30},
	{types.ThreatMedium, 1, 10},
}

// ThreatLevelFor aggregates a run's anomaly count and rate (percent).
func ThreatLevelFor(count int, rate float64) types.ThreatLevel {
	for _, r := range threatRules {
		if count >= r.count || rate >= r.rate {
			return r.level
		}
	}
	return types.ThreatLow
}

// DetectionThreat classifies a single detection by its risk score.
func (e *Evaluator) DetectionThreat(score float64) types.ThreatLevel {
	switch {
	case score > e.cfg.Critical:
		return types.ThreatCritical
	case score > e.cfg.HighRisk:
		return types.ThreatHigh
	case score > e.cfg.Elevated:
		return types.ThreatMedium
	}
	return types.ThreatLow
}

// AlertLevel maps a risk score to an alert level; empty means no alert.
func (e *Evaluator) AlertLevel(score float64) types.ThreatLevel {
	switch {
	case score >= e.cfg.Critical:
		return types.ThreatCritical
	case score >= e.cfg.AlertHigh:
		return types.ThreatHigh
	}
	return ""
}

// UnauthorizedAttempt is one UNAUTHORIZED_ZONE_ACCESS occurrence.
type UnauthorizedAttempt struct {
	IdentityID string  `json:"identity_id"`
	ZoneID     string  `json:"zone_id"`
	RiskScore  float64 `json:"risk_score"`
	Frame      int     `json:"frame"`
}

// Summary groups a run's anomaly events for reporting.
type Summary struct {
	Total                int                       `json:"total_anomalies"`
	Types                map[types.AnomalyType]int `json:"types"`
	HighRiskIdentities   []string                  `json:"high_risk_identities"`
	UnauthorizedAttempts []UnauthorizedAttempt     `json:"unauthorized_access_attempts"`
}

func Summarize(events []types.AnomalyEvent) Summary {
	s := Summary{
		Total:                len(events),
		Types:                make(map[types.AnomalyType]int),
		HighRiskIdentities:   []string{},
		UnauthorizedAttempts: []UnauthorizedAttempt{},
	}
	seen := make(map[string]bool)
	for _, ev := range events {
		s.Types[ev.Type]++
		switch ev.Type {
		case types.HighRiskDetected:
			if !seen[ev.IdentityID] {
				seen[ev.IdentityID] = true
				s.HighRiskIdentities = append(s.HighRiskIdentities, ev.IdentityID)
			}
		case types.UnauthorizedZoneAccess:
			s.UnauthorizedAttempts = append(s.UnauthorizedAttempts, UnauthorizedAttempt{
				IdentityID: ev.IdentityID,
				ZoneID:     ev.ZoneID,
				RiskScore:  ev.RiskScore,
				Frame:      ev.Frame,
			})
		}
	}
	sort.Strings(s.HighRiskIdentities)
	return s
}

// Round3 rounds to three decimals for reporting.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
