package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the demo binary's startup banner.
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("JOBSENGINE")
	b.PrintCenteredText("Concurrent Jobs Engine Demo")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Engine threads", fmt.Sprintf("%d", config.Engine.ThreadsCount), 15)
	b.PrintKeyValue("Groups", fmt.Sprintf("%d", len(config.Groups)), 15)
	b.PrintKeyValue("Types", fmt.Sprintf("%d", len(config.Types)), 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("instance_id", NewInstanceID()).
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Int("engine_threads", config.Engine.ThreadsCount).
		Int("groups", len(config.Groups)).
		Int("types", len(config.Types)).
		Msg("jobsengine demo started")
}

// PrintShutdownBanner displays the demo binary's shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("JOBSENGINE")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("jobsengine demo shutting down")
}

// PrintColorizedMessage prints a message with the given color. It does not
// log: the logger argument is unused, and the Print* helpers below log the
// message themselves.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints and logs a success message in green.
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("✓ %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints and logs an error message in red.
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("✗ %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints and logs a warning message in yellow.
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints and logs an info message in cyan.
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("ℹ %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
