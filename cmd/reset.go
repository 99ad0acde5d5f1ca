package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/faceguard/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB       bool
	resetDebug    bool
	resetDebugDir string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (audit database, debug frames)",
	Long:  "Clears stored runs and debug output. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing everything
		if !resetDB && !resetDebug {
			resetDB = true
			resetDebug = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Println("ℹ️  Audit database not configured, skipping.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all audit tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetDebug {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all debug frames in %s?", resetDebugDir)) {
				fmt.Println("🗑️  Clearing Debug Frames...")
				removeDir(resetDebugDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the PostgreSQL audit tables")
	resetCmd.Flags().BoolVar(&resetDebug, "debug", false, "Clear debug frames")
	resetCmd.Flags().StringVar(&resetDebugDir, "debug-dir", "debug_frames", "Directory holding debug frames")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r io.Reader, prompt string) bool {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := br.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
