// -----------------------------------------------------------------------
// jobsengine-demo: a small CLI exercising the jobsengine library end to
// end — priority scheduling, parent/child aggregation, delayed starts,
// per-type timeouts, and a cron-driven submission feed.
// -----------------------------------------------------------------------

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/jobsengine/internal/common"
)

var (
	configFiles []string
	config      *common.Config
	logger      arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "jobsengine-demo",
	Short: "Demo CLI for the jobsengine concurrent jobs engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfigAndLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"configuration file path (.toml or .yaml; may be repeated, later files override earlier ones)")
	rootCmd.AddCommand(versionCmd, runCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfigAndLogger performs the teacher's required startup order:
// 1. load config (defaults -> file1 -> file2 -> ... -> env)
// 2. initialize the logger from the resolved config
func loadConfigAndLogger() error {
	if len(configFiles) == 0 {
		if _, err := os.Stat("jobsengine.toml"); err == nil {
			configFiles = append(configFiles, "jobsengine.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: "15:04:05",
			TextOutput: true,
		})
		tempLogger.Fatal().Err(err).Msg("failed to load configuration")
		return err
	}

	logger = common.SetupLogger(config)
	return nil
}
