package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/faceguard/internal/notify"
	"github.com/andresmejia3/faceguard/internal/vision"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which detectors, encoder and collaborators are available",
	Run: func(cmd *cobra.Command, args []string) {
		runStatus(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "COMPONENT\tSTATUS")
	fmt.Fprintln(w, "---------\t------")

	enc := vision.NewEncoder(Cfg)
	method := enc.Method()
	enc.Close()
	fmt.Fprintf(w, "encoder\t%s\n", method)

	rd, rc := remoteDetector(Cfg)
	det := vision.NewDetector(Cfg, method, rd)
	tiers := det.Tiers()
	det.Close()
	if len(tiers) == 0 {
		fmt.Fprintln(w, "detector tiers\tnone loaded")
	} else {
		fmt.Fprintf(w, "detector tiers\t%s\n", strings.Join(tiers, " -> "))
	}

	switch {
	case rc == nil:
		fmt.Fprintln(w, "remote service\tnot configured")
	case rc.Probe(ctx):
		fmt.Fprintf(w, "remote service\tavailable (%s)\n", Cfg.Remote.URL)
	default:
		fmt.Fprintf(w, "remote service\tunreachable (%s)\n", Cfg.Remote.URL)
	}

	if len(Cfg.Kafka.Brokers) == 0 {
		fmt.Fprintln(w, "kafka\tnot configured")
	} else if n, err := notify.NewKafkaNotifier(Cfg.Kafka, notify.Filter{}); err == nil {
		if err := n.Ping(ctx); err != nil {
			fmt.Fprintf(w, "kafka\tunreachable (%v)\n", err)
		} else {
			fmt.Fprintf(w, "kafka\tavailable (topic %s)\n", Cfg.Kafka.Topic)
		}
		n.Close()
	}

	if DB != nil {
		fmt.Fprintln(w, "audit store\tconnected")
	} else {
		fmt.Fprintln(w, "audit store\tdisabled")
	}

	fmt.Fprintf(w, "match thresholds\tmodel %.2f, descriptor %.2f\n", Cfg.Matching.ThresholdModel, Cfg.Matching.ThresholdDescriptor)
	fmt.Fprintf(w, "sampling\tevery %d frames, max %d, %dx%d\n", Cfg.Sampling.NthFrame, Cfg.Sampling.MaxFrames, Cfg.Sampling.Width, Cfg.Sampling.Height)
}
