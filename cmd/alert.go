package cmd

import (
	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/spf13/cobra"
)

var alertCmd = &cobra.Command{
	Use:         "alert <run_id>",
	Short:       "Re-publish the filtered alerts of a stored run to Kafka",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationRequiresDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		events, err := DB.RunAnomalies(cmd.Context(), args[0])
		if err != nil {
			utils.Die("Failed to load anomalies", err, nil)
		}
		publishAlerts(cmd.Context(), args[0], events)
	},
}

func init() {
	rootCmd.AddCommand(alertCmd)
}
