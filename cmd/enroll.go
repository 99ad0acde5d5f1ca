package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/spf13/cobra"
)

var enrollOpts Options

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a directory of face images and report per-identity counts",
	Run: func(cmd *cobra.Command, args []string) {
		opts := enrollOpts
		if err := requireDir(opts.EnrollDir); err != nil {
			utils.Die("Invalid enrollment directory", err, nil)
		}
		applyOptions(&opts)

		method, err := chooseMethod(Cfg, opts.Method)
		if err != nil {
			utils.Die("Failed to select encoding method", err, nil)
		}
		res, err := enrollIdentities(cmd.Context(), Cfg, opts, method)
		if err != nil {
			utils.Die("Enrollment failed", err, nil)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tIMAGES\tDIM")
		fmt.Fprintln(w, "--------\t------\t---")
		for _, id := range res.Identities {
			fmt.Fprintf(w, "%s\t%d\t%d\n", id.ID, res.Counts[id.ID], len(id.Centroid))
		}
		w.Flush()

		fmt.Fprintf(os.Stderr, "\n🧠 Method: %s, %d identities, %d images skipped\n", method, len(res.Identities), len(res.Skipped))
		for _, name := range res.Skipped {
			fmt.Fprintf(os.Stderr, "   skipped: %s\n", name)
		}
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollOpts.EnrollDir, "dir", "d", "", "Directory of enrollment images (subdirectories name their identity)")
	enrollCmd.Flags().StringSliceVarP(&enrollOpts.Labels, "label", "l", nil, "Identity label for unlabeled images (used when exactly one is given)")
	enrollCmd.Flags().IntVarP(&enrollOpts.NumEngines, "engines", "e", 0, "Number of parallel engine workers")
	enrollCmd.Flags().StringVar(&enrollOpts.Method, "method", "", "Force the encoding method (model or descriptor)")
	enrollCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(enrollCmd)
}
