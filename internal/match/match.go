package match

import (
	"math"
	"sync"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/types"
)

// normEpsilon keeps zero vectors from dividing by zero.
const normEpsilon = 1e-6

// Distance is the Euclidean distance between the L2-normalized inputs.
// Inputs of different lengths are compared on their zero-padded common length.
func Distance(a, b []float64) float64 {
	na, nb := norm(a)+normEpsilon, norm(b)+normEpsilon
	n := max(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i] / na
		}
		if i < len(b) {
			y = b[i] / nb
		}
		d := x - y
		sum += d * d
	}
	return math.Sqrt(sum)
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// ThresholdFor picks the run's match threshold from the encoding method.
func ThresholdFor(method types.EncodingMethod, cfg config.MatchingConfig) float64 {
	if method == types.MethodModel {
		return cfg.ThresholdModel
	}
	return cfg.ThresholdDescriptor
}

// Matcher holds the enrolled centroids in insertion order and a fixed threshold.
type Matcher struct {
	identities []types.Identity
	threshold  float64
	warnOnce   sync.Once
}

func New(identities []types.Identity, threshold float64) *Matcher {
	ids := make([]types.Identity, len(identities))
	copy(ids, identities)
	return &Matcher{identities: ids, threshold: threshold}
}

func (m *Matcher) Threshold() float64 { return m.threshold }
func (m *Matcher) Len() int           { return len(m.identities) }

// Match returns the nearest identity when it is strictly below the threshold.
// Otherwise it returns ("", minDistance, false). Ties keep the earlier identity.
func (m *Matcher) Match(probe []float64) (string, float64, bool) {
	best := -1
	minDist := math.Inf(1)
	for i, id := range m.identities {
		if len(id.Centroid) != len(probe) {
			m.warnOnce.Do(func() {
				logger.Warning("probe and centroid dimensions differ, comparing zero-padded vectors",
					logger.LoggerOptions{Key: "probe", Data: len(probe)},
					logger.LoggerOptions{Key: "centroid", Data: len(id.Centroid)})
			})
		}
		d := Distance(probe, id.Centroid)
		if d < minDist {
			minDist = d
			best = i
		}
	}
	if best == -1 || minDist >= m.threshold {
		return "", minDist, false
	}
	return m.identities[best].ID, minDist, true
}
