package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Zone is a monitored area with an explicit allowlist.
type Zone struct {
	ID         string   `yaml:"-"`
	Authorized []string `yaml:"authorized"`
}

// Allows reports whether the identity is on the zone allowlist.
func (z Zone) Allows(identityID string) bool {
	return slices.Contains(z.Authorized, identityID)
}

// Site is the static per-deployment input of a run: zones, the global
// authorized list and the risk table.
type Site struct {
	DefaultZone string             `yaml:"default_zone"`
	Authorized  []string           `yaml:"authorized"`
	Zones       map[string]Zone    `yaml:"zones"`
	RiskScores  map[string]float64 `yaml:"risk_scores"`
}

// LoadSite parses a site file. An empty path yields an empty site.
func LoadSite(path string) (*Site, error) {
	s := &Site{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read site file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("could not parse site file %s: %w", path, err)
		}
	}
	s.normalize()
	if s.DefaultZone != "" {
		if _, ok := s.Zones[s.DefaultZone]; !ok {
			return nil, fmt.Errorf("default_zone %q is not defined under zones", s.DefaultZone)
		}
	}
	return s, nil
}

func (s *Site) normalize() {
	if s.Zones == nil {
		s.Zones = make(map[string]Zone)
	}
	if s.RiskScores == nil {
		s.RiskScores = make(map[string]float64)
	}
	for id, z := range s.Zones {
		z.ID = id
		s.Zones[id] = z
	}
}

// Zone looks up a zone. Unknown IDs resolve to a zone with an empty allowlist.
func (s *Site) Zone(id string) Zone {
	if z, ok := s.Zones[id]; ok {
		return z
	}
	return Zone{ID: id}
}

// ZoneIDs returns the defined zone IDs in sorted order.
func (s *Site) ZoneIDs() []string {
	ids := make([]string, 0, len(s.Zones))
	for id := range s.Zones {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Risk returns the identity's risk score or def when it has none.
func (s *Site) Risk(identityID string, def float64) float64 {
	if r, ok := s.RiskScores[identityID]; ok {
		return r
	}
	return def
}

// IsAuthorized applies the global list. An empty list authorizes every enrolled identity.
func (s *Site) IsAuthorized(identityID string) bool {
	if len(s.Authorized) == 0 {
		return true
	}
	return slices.Contains(s.Authorized, identityID)
}
