package vision

import (
	"errors"
	"sync"

	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

// errTierSkipped lets a tier step aside for a frame without being logged as a failure.
var errTierSkipped = errors.New("tier skipped")

// Tier is one detection strategy in the fallback chain.
type Tier interface {
	Name() string
	Detect(frame gocv.Mat) ([]types.Detection, error)
	Close() error
}

// TierStats counts which tier answered each frame.
type TierStats struct {
	Frames   int
	Hits     map[string]int
	Failures map[string]int
	Empty    int
}

// TieredDetector tries its tiers in order and returns the first non-empty
// result. Results of different tiers are never merged.
type TieredDetector struct {
	tiers []Tier
	mu    sync.Mutex
	stats TierStats
}

func NewTieredDetector(tiers ...Tier) *TieredDetector {
	d := &TieredDetector{
		stats: TierStats{Hits: map[string]int{}, Failures: map[string]int{}},
	}
	for _, t := range tiers {
		if t != nil {
			d.tiers = append(d.tiers, t)
		}
	}
	return d
}

// Tiers lists the active tier names in order.
func (d *TieredDetector) Tiers() []string {
	names := make([]string, 0, len(d.tiers))
	for _, t := range d.tiers {
		names = append(names, t.Name())
	}
	return names
}

// Detect never fails on "no face": it returns an empty slice.
func (d *TieredDetector) Detect(frame gocv.Mat) []types.Detection {
	d.mu.Lock()
	d.stats.Frames++
	d.mu.Unlock()

	if frame.Empty() {
		return []types.Detection{}
	}
	width, height := frame.Cols(), frame.Rows()

	for _, t := range d.tiers {
		dets, err := t.Detect(frame)
		if errors.Is(err, errTierSkipped) {
			continue
		}
		if err != nil {
			logger.Warning("detector tier failed", logger.LoggerOptions{Key: "tier", Data: t.Name()}, logger.LoggerOptions{Key: "error", Data: err.Error()})
			d.count(d.stats.Failures, t.Name())
			continue
		}
		dets = sanitize(dets, width, height)
		if len(dets) > 0 {
			for i := range dets {
				if dets[i].Source == "" {
					dets[i].Source = t.Name()
				}
			}
			d.count(d.stats.Hits, t.Name())
			return dets
		}
	}

	d.mu.Lock()
	d.stats.Empty++
	d.mu.Unlock()
	return []types.Detection{}
}

func (d *TieredDetector) count(m map[string]int, name string) {
	d.mu.Lock()
	m[name]++
	d.mu.Unlock()
}

// Stats returns a copy of the tier counters.
func (d *TieredDetector) Stats() TierStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := TierStats{Frames: d.stats.Frames, Empty: d.stats.Empty, Hits: map[string]int{}, Failures: map[string]int{}}
	for k, v := range d.stats.Hits {
		s.Hits[k] = v
	}
	for k, v := range d.stats.Failures {
		s.Failures[k] = v
	}
	return s
}

func (d *TieredDetector) Close() error {
	var firstErr error
	for _, t := range d.tiers {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sanitize clips every box to the frame and drops degenerate ones.
func sanitize(dets []types.Detection, width, height int) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, det := range dets {
		det = det.Clip(width, height)
		if det.Degenerate() {
			continue
		}
		out = append(out, det)
	}
	return out
}
