package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/faceguard/internal/pipeline"
	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/andresmejia3/faceguard/internal/worker"
	"github.com/spf13/cobra"
)

var (
	frameOpts    Options
	frameHistory int
)

var frameCmd = &cobra.Command{
	Use:   "frame <image_path>",
	Short: "Analyze a single still frame for real-time monitoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFrame(cmd.Context(), args[0], frameOpts)
	},
}

func init() {
	frameCmd.Flags().StringVarP(&frameOpts.EnrollDir, "enroll", "E", "", "Directory of enrollment images")
	frameCmd.Flags().StringSliceVarP(&frameOpts.Labels, "label", "l", nil, "Identity label for unlabeled enrollment images")
	frameCmd.Flags().StringVarP(&frameOpts.SitePath, "site", "s", "", "Site file with zones, authorized identities and risk scores")
	frameCmd.Flags().StringVarP(&frameOpts.Zone, "zone", "z", "", "Zone the camera covers")
	frameCmd.Flags().StringVar(&frameOpts.Method, "method", "", "Force the encoding method (model or descriptor)")
	frameCmd.Flags().BoolVar(&frameOpts.NoEnhance, "no-enhance", false, "Skip resizing and contrast enhancement")
	frameCmd.Flags().StringVarP(&frameOpts.JSONPath, "json", "j", "", "Write the analysis as JSON to this file")
	frameCmd.Flags().IntVar(&frameHistory, "history", 0, "Show this many stored sightings nearest to each face (needs --db)")
	frameCmd.MarkFlagRequired("enroll")
	rootCmd.AddCommand(frameCmd)
}

func runFrame(ctx context.Context, imagePath string, opts Options) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if err := requireDir(opts.EnrollDir); err != nil {
		utils.ShowError("Invalid enrollment directory", err, nil)
		return err
	}

	site := loadSite(opts.SitePath)
	method, err := chooseMethod(Cfg, opts.Method)
	if err != nil {
		utils.ShowError("Failed to select encoding method", err, nil)
		return err
	}
	rd, _ := remoteDetector(Cfg)
	opts.NumEngines = Cfg.Engines

	fmt.Fprintln(os.Stderr, "🚀 Starting Engines...")
	enrolled, err := enrollIdentities(ctx, Cfg, opts, method)
	if err != nil {
		utils.ShowError("Enrollment failed", err, nil)
		return err
	}

	factory := worker.NewFactory(Cfg, method, worker.Options{Enhance: !opts.NoEnhance, Remote: rd})
	orch, err := pipeline.New(factory, enrolled.Identities, pipeline.Options{
		Engines:  1,
		Method:   method,
		Zone:     opts.Zone,
		Matching: Cfg.Matching,
		Risk:     Cfg.Risk,
		Site:     site,
	})
	if err != nil {
		utils.ShowError("Failed to start pipeline", err, nil)
		return err
	}
	defer orch.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing frame...")
	out, err := orch.ProcessFrame(ctx, imgData, "")
	if err != nil {
		utils.ShowError("Frame analysis failed", err, nil)
		return err
	}

	if len(out.Faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "BOX\tIDENTITY\tCONFIDENCE\tRISK\tTHREAT\tACCESS")
	fmt.Fprintln(w, "---\t--------\t----------\t----\t------\t------")
	for _, f := range out.Faces {
		identity := f.IdentityID
		if identity == "" {
			identity = "unknown"
		}
		access := string(f.Access)
		if access == "" {
			access = "-"
		}
		fmt.Fprintf(w, "%d,%d %dx%d\t%s\t%.3f\t%.0f\t%s\t%s\n",
			f.Box.Left, f.Box.Top, f.Box.Width(), f.Box.Height(),
			identity, f.MatchConfidence, f.RiskScore, f.ThreatLevel, access)
	}
	w.Flush()

	for _, a := range out.Anomalies {
		fmt.Printf("⚠️  %s: %s (risk %.0f)\n", a.Type, a.IdentityID, a.RiskScore)
	}

	if frameHistory > 0 {
		printHistory(ctx, out.Faces, frameHistory)
	}

	if opts.JSONPath != "" {
		if err := writeJSON(opts.JSONPath, out); err != nil {
			utils.ShowError("Failed to write JSON report", err, nil)
			return err
		}
	}
	return nil
}

// printHistory lists the stored sightings closest to each face.
func printHistory(ctx context.Context, faces []pipeline.FaceResult, limit int) {
	if DB == nil {
		fmt.Fprintln(os.Stderr, "⚠️  --history needs a database (--db or POSTGRES_HOST).")
		return
	}
	for i, f := range faces {
		if len(f.Vector) == 0 {
			continue
		}
		hits, err := DB.NearestSightings(ctx, f.Vector, limit)
		if err != nil {
			utils.ShowError("History search failed", err, nil)
			return
		}
		fmt.Printf("\n🗄️  Face %d, nearest stored sightings:\n", i+1)
		if len(hits) == 0 {
			fmt.Println("   none recorded")
			continue
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "   SOURCE\tFRAME\tIDENTITY\tDISTANCE")
		for _, h := range hits {
			identity := h.IdentityID
			if identity == "" {
				identity = "unknown"
			}
			fmt.Fprintf(w, "   %s\t%d\t%s\t%.3f\n", filepath.Base(h.Source), h.Frame, identity, h.Distance)
		}
		w.Flush()
	}
}
