package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/enroll"
	"github.com/andresmejia3/faceguard/internal/remote"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/andresmejia3/faceguard/internal/vision"
	"github.com/andresmejia3/faceguard/internal/worker"
	"github.com/schollz/progressbar/v3"
)

// chooseMethod fixes the encoding method for the whole run. An empty forced
// value prefers the trained model and falls back to descriptors.
func chooseMethod(cfg *config.Config, forced string) (types.EncodingMethod, error) {
	switch types.EncodingMethod(forced) {
	case types.MethodModel, types.MethodDescriptor:
		return types.EncodingMethod(forced), nil
	case "":
		enc := vision.NewEncoder(cfg)
		defer enc.Close()
		return enc.Method(), nil
	}
	return "", fmt.Errorf("unknown encoding method %q (use model or descriptor)", forced)
}

// remoteDetector returns the remote collaborator as a detector tier, or nil
// when none is configured.
func remoteDetector(cfg *config.Config) (vision.RemoteDetector, *remote.Client) {
	rc := remote.New(cfg.Remote)
	if rc == nil {
		// A nil *remote.Client must not end up inside the interface.
		return nil, nil
	}
	return rc, rc
}

// enrollIdentities encodes the enrollment directory with the run's method.
// Enrollment runs on the local tiers only, the remote service is never asked.
func enrollIdentities(ctx context.Context, cfg *config.Config, opts Options, method types.EncodingMethod) (enroll.Result, error) {
	images, err := enroll.LoadDir(opts.EnrollDir)
	if err != nil {
		return enroll.Result{}, err
	}
	if len(images) == 0 {
		return enroll.Result{}, fmt.Errorf("no enrollment images in %s: %w", opts.EnrollDir, enroll.ErrEnrollmentEmpty)
	}

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("🪪 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// Enrollment photos keep their own resolution, so no enhancer.
	factory := worker.NewFactory(cfg, method, worker.Options{})
	e := enroll.New(factory, opts.NumEngines)
	e.Fallback = opts.Labels
	e.OnImage = func(string, bool) { bar.Add(1) }

	res, err := e.Enroll(ctx, images)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return res, err
}

func loadSite(path string) *config.Site {
	site, err := config.LoadSite(path)
	if err != nil {
		utils.Die("Failed to load site file", err, nil)
	}
	return site
}
