package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/faceguard/internal/risk"
	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List analysis runs stored in the audit database",
	Annotations: map[string]string{annotationRequiresDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runs, err := DB.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			utils.Die("Failed to list runs", err, nil)
		}

		if len(runs) == 0 {
			fmt.Println("No runs found in database.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tSOURCE\tMETHOD\tFRAMES\tRECOGNIZED\tANOMALIES\tTHREAT\tSTARTED")
		fmt.Fprintln(w, "---\t------\t------\t------\t----------\t---------\t------\t-------")

		for _, r := range runs {
			threat := string(r.Summary.ThreatLevel)
			if r.Cancelled {
				threat += " (partial)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				r.ID, filepath.Base(r.Source), r.Method, r.Summary.TotalFramesSampled,
				r.Summary.FacesRecognized, r.Summary.AnomaliesCount, threat,
				r.StartedAt.Local().Format("2006-01-02 15:04"))
		}
		w.Flush()
	},
}

var runsAnomaliesCmd = &cobra.Command{
	Use:         "anomalies <run_id>",
	Short:       "Show the anomaly events of a stored run",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationRequiresDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		events, err := DB.RunAnomalies(cmd.Context(), args[0])
		if err != nil {
			utils.Die("Failed to load anomalies", err, nil)
		}
		if len(events) == 0 {
			fmt.Println("No anomalies recorded for this run.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "FRAME\tTYPE\tIDENTITY\tZONE\tRISK")
		fmt.Fprintln(w, "-----\t----\t--------\t----\t----")
		for _, ev := range events {
			zone := ev.ZoneID
			if zone == "" {
				zone = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.0f\n", ev.Frame, ev.Type, ev.IdentityID, zone, ev.RiskScore)
		}
		w.Flush()

		s := risk.Summarize(events)
		fmt.Printf("\nHigh-risk identities: %v\n", s.HighRiskIdentities)
		fmt.Printf("Unauthorized access attempts: %d\n", len(s.UnauthorizedAttempts))
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list")
	runsCmd.AddCommand(runsAnomaliesCmd)
	rootCmd.AddCommand(runsCmd)
}
