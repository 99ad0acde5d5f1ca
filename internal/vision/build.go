package vision

import (
	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/types"
)

// NewDetector assembles the tier chain: remote, trained detector, cascade,
// then the locator when the run encodes with the trained model. Tiers whose
// models fail to load are left out for the whole run.
func NewDetector(cfg *config.Config, method types.EncodingMethod, rc RemoteDetector) *TieredDetector {
	var tiers []Tier

	if rc != nil {
		tiers = append(tiers, NewRemoteTier(rc, cfg.Detection.Confidence))
	}

	if t, err := NewDNNTier(cfg.ModelPath(cfg.Models.SSDConfig), cfg.ModelPath(cfg.Models.SSDWeights), cfg.Detection.Confidence); err == nil {
		tiers = append(tiers, t)
	} else {
		logModelUnavailable("dnn", err)
	}

	if t, err := NewCascadeTier(cfg.ModelPath(cfg.Models.Cascade), cfg.Detection.CascadeScale, cfg.Detection.CascadeNeighbors, cfg.Detection.CascadeMinSize); err == nil {
		tiers = append(tiers, t)
	} else {
		logModelUnavailable("cascade", err)
	}

	if method == types.MethodModel {
		if t, err := NewLocatorTier(cfg.ModelPath(cfg.Models.Locator), cfg.Detection.LocatorConfidence); err == nil {
			tiers = append(tiers, t)
		} else {
			logModelUnavailable("locator", err)
		}
	}

	if len(tiers) == 0 {
		logger.Error("no detector tier available, every frame will report zero faces")
	}
	return NewTieredDetector(tiers...)
}

func logModelUnavailable(tier string, err error) {
	logger.Warning("detector tier excluded for this run",
		logger.LoggerOptions{Key: "tier", Data: tier},
		logger.LoggerOptions{Key: "error", Data: err.Error()})
}
