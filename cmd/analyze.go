package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/andresmejia3/faceguard/internal/notify"
	"github.com/andresmejia3/faceguard/internal/pipeline"
	"github.com/andresmejia3/faceguard/internal/risk"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/andresmejia3/faceguard/internal/video"
	"github.com/andresmejia3/faceguard/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a video or a frame directory against enrolled identities",
	Run: func(cmd *cobra.Command, args []string) {
		runAnalyze(cmd.Context(), analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.VideoPath, "video", "i", "", "Path to video")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.FramesDir, "frames", "f", "", "Directory of still frames (alternative to --video)")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.EnrollDir, "enroll", "E", "", "Directory of enrollment images")
	analyzeCmd.Flags().StringSliceVarP(&analyzeOpts.Labels, "label", "l", nil, "Identity label for unlabeled enrollment images (used when exactly one is given)")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.SitePath, "site", "s", "", "Site file with zones, authorized identities and risk scores")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.Zone, "zone", "z", "", "Zone the camera covers (default: the site's default_zone)")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.NumEngines, "engines", "e", 0, "Number of parallel engine workers (default: FACEGUARD_ENGINES or 1)")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.NthFrame, "nth-frame", "n", 0, "Analyze every nth frame of the video (default 5)")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.MaxFrames, "max-frames", "m", 0, "Maximum number of sampled frames (default 500)")
	analyzeCmd.Flags().StringVar(&analyzeOpts.Method, "method", "", "Force the encoding method (model or descriptor)")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.NoEnhance, "no-enhance", false, "Skip resizing and contrast enhancement")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.Denoise, "denoise", false, "Apply non-local means denoising before detection")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.JSONPath, "json", "j", "", "Write the full result as JSON to this file")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.Notify, "notify", false, "Publish filtered alerts to Kafka")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.DebugFrames, "debug-frames", "d", "", "Save annotated frames with detected faces to this directory")

	analyzeCmd.MarkFlagRequired("enroll")
	rootCmd.AddCommand(analyzeCmd)
}

// runAnalyze wires enrollment, the frame source, the engine pool and the outputs together.
func runAnalyze(ctx context.Context, opts Options) {
	if err := validateAnalyzeFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}
	applyOptions(&opts)
	if err := Cfg.Validate(); err != nil {
		utils.Die("Invalid configuration", err, nil)
	}

	site := loadSite(opts.SitePath)
	method, err := chooseMethod(Cfg, opts.Method)
	if err != nil {
		utils.Die("Failed to select encoding method", err, nil)
	}
	rd, rc := remoteDetector(Cfg)
	if rc != nil && !rc.Probe(ctx) {
		fmt.Fprintf(os.Stderr, "⚠️  Remote face service unreachable, using local detectors until it recovers.\n")
	}
	fmt.Fprintf(os.Stderr, "🧠 Encoding method: %s\n", method)

	// 1. Enrollment
	enrolled, err := enrollIdentities(ctx, Cfg, opts, method)
	if err != nil {
		utils.Die("Enrollment failed", err, nil)
	}
	fmt.Fprintf(os.Stderr, "👥 Enrolled %d identities (%d images skipped)\n", len(enrolled.Identities), len(enrolled.Skipped))

	// 2. Frame source
	var src video.Source
	var ffsrc *video.FFmpegSource
	if opts.VideoPath != "" {
		ffsrc, err = video.NewFFmpegSource(opts.VideoPath, Cfg.Sampling)
		src = ffsrc
	} else {
		src, err = video.NewDirSource(opts.FramesDir, Cfg.Sampling.MaxFrames)
	}
	if err != nil {
		utils.Die("Failed to open input", err, nil)
	}
	fmt.Fprintf(os.Stderr, "📼 Processing Source ID: %s\n", src.ID()[:12])
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", Cfg.Engines)

	// 3. Orchestrator
	factory := worker.NewFactory(Cfg, method, worker.Options{
		Enhance:  !opts.NoEnhance,
		DebugDir: opts.DebugFrames,
		Remote:   rd,
	})
	orch, err := pipeline.New(factory, enrolled.Identities, pipeline.Options{
		Engines:  Cfg.Engines,
		Method:   method,
		Zone:     opts.Zone,
		Matching: Cfg.Matching,
		Risk:     Cfg.Risk,
		Site:     site,
	})
	if err != nil {
		utils.Die("Failed to start pipeline", err, nil)
	}
	defer orch.Close()

	total := src.Estimate()
	if total <= 0 {
		// Fallback to a spinner when the frame count is unknown
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 FaceGuard Analyzing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	orch.OnFrame = func(types.FrameReport) { bar.Add(1) }

	// 4. Run
	res, err := orch.Process(ctx, src)
	bar.Finish()
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "\n🛑 Analysis interrupted. Reporting the %d frames processed so far.\n", res.Summary.TotalFramesSampled)
	case errors.Is(err, pipeline.ErrNoFrames):
		utils.Die("No frame could be decoded", err, nil)
	case err != nil:
		var cmdLogs *utils.SafeCommand
		if ffsrc != nil {
			cmdLogs = ffsrc.Cmd
		}
		utils.Die("Analysis failed", err, cmdLogs)
	}

	printSummary(res)

	// 5. Outputs. Use Background so an interrupted run is still recorded.
	if opts.JSONPath != "" {
		if err := writeJSON(opts.JSONPath, res); err != nil {
			utils.ShowError("Failed to write JSON report", err, nil)
		} else {
			fmt.Fprintf(os.Stderr, "📝 Report written to %s\n", opts.JSONPath)
		}
	}
	if DB != nil {
		if err := DB.SaveRun(context.Background(), res); err != nil {
			utils.ShowError("Failed to persist run", err, nil)
		} else {
			fmt.Fprintf(os.Stderr, "🗄️  Run %s saved.\n", res.RunID)
		}
	}
	if opts.Notify {
		publishAlerts(context.Background(), res.RunID, res.Events)
	}
}

// publishAlerts sends a run's anomaly events through the Kafka notifier.
func publishAlerts(ctx context.Context, runID string, events []types.AnomalyEvent) {
	n, err := notify.NewKafkaNotifier(Cfg.Kafka, notify.Filter{MinRisk: Cfg.Risk.AlertHigh})
	if err != nil {
		utils.ShowError("Notifier unavailable", err, nil)
		return
	}
	defer n.Close()

	ev := risk.NewEvaluator(Cfg.Risk, nil)
	ack, err := n.Notify(ctx, notify.BuildAlerts(runID, events, ev, time.Now().UTC()))
	if err != nil {
		utils.ShowError("Failed to publish alerts", err, nil)
		return
	}
	fmt.Fprintf(os.Stderr, "📣 Alerts published: %d (filtered %d)\n", ack.Sent, ack.Filtered)
}

// applyOptions copies flag overrides onto the loaded configuration.
func applyOptions(opts *Options) {
	if opts.NumEngines > 0 {
		Cfg.Engines = opts.NumEngines
	}
	if opts.NthFrame > 0 {
		Cfg.Sampling.NthFrame = opts.NthFrame
	}
	if opts.MaxFrames > 0 {
		Cfg.Sampling.MaxFrames = opts.MaxFrames
	}
	if opts.Denoise {
		Cfg.Enhance.Denoise = true
	}
	opts.NumEngines = Cfg.Engines
}

func printSummary(res *pipeline.Result) {
	s := res.Summary
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 ANALYSIS SUMMARY (run %s)\n", res.RunID)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	ids := make([]string, 0, len(s.PerIdentity))
	for id := range s.PerIdentity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := s.PerIdentity[id]
		auth := "authorized"
		if !st.Authorized {
			auth = "NOT authorized"
		}
		fmt.Fprintf(os.Stderr, "\n👤 %s (%s, risk %.0f)\n", id, auth, st.RiskScore)
		fmt.Fprintf(os.Stderr, "   seen %d times, frames %d -> %d (%d frames), avg confidence %.3f\n",
			st.Count, st.FirstFrame, st.LastFrame, st.DurationFrames, st.AvgConfidence)
	}

	if len(res.Anomalies.UnauthorizedAttempts) > 0 {
		fmt.Fprintf(os.Stderr, "\n🚫 Unauthorized access attempts:\n")
		for _, a := range res.Anomalies.UnauthorizedAttempts {
			fmt.Fprintf(os.Stderr, "   frame %d: %s in %s (risk %.0f)\n", a.Frame, a.IdentityID, a.ZoneID, a.RiskScore)
		}
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🎞️  Frames Sampled:       %d (%d skipped)\n", s.TotalFramesSampled, s.FramesSkipped)
	fmt.Fprintf(os.Stderr, "👁️  Faces Detected:       %d\n", s.FacesDetected)
	fmt.Fprintf(os.Stderr, "✅ Faces Recognized:     %d (%.1f%%)\n", s.FacesRecognized, s.RecognitionRate)
	fmt.Fprintf(os.Stderr, "⚠️  Anomalies:            %d (%.1f%%)\n", s.AnomaliesCount, s.AnomalyRate)
	fmt.Fprintf(os.Stderr, "🚨 Threat Level:         %s\n", s.ThreatLevel)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// validateAnalyzeFlags ensures all CLI arguments are valid before starting heavy processes.
func validateAnalyzeFlags(opts *Options) error {
	if (opts.VideoPath == "") == (opts.FramesDir == "") {
		return errors.New("exactly one of --video or --frames is required")
	}
	if opts.VideoPath != "" {
		info, err := os.Stat(opts.VideoPath)
		if err != nil {
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return errors.New("input path is a directory, expected a video file (use --frames for still images)")
		}
	}
	if opts.FramesDir != "" {
		if err := requireDir(opts.FramesDir); err != nil {
			return err
		}
	}
	if err := requireDir(opts.EnrollDir); err != nil {
		return fmt.Errorf("enrollment: %w", err)
	}
	if opts.NthFrame < 0 || opts.MaxFrames < 0 || opts.NumEngines < 0 {
		return errors.New("nth-frame, max-frames and engines must not be negative")
	}
	if opts.Method != "" && opts.Method != string(types.MethodModel) && opts.Method != string(types.MethodDescriptor) {
		return fmt.Errorf("unknown encoding method %q", opts.Method)
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("unable to access %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
