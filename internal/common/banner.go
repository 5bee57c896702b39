package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner: version, the store
// this service is pointed at, and what it registered (worker concurrency,
// scheduled reports) before the Queue starts consuming jobs.
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("DOCJOBS")
	b.PrintCenteredText("Document-Store Job Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Store Domain", config.Store.Domain, 15)
	b.PrintKeyValue("Concurrency", fmt.Sprintf("%d", config.Queue.Concurrency), 15)
	if config.Metrics.Enabled {
		b.PrintKeyValue("Metrics", config.Metrics.ListenAddress+config.Metrics.Path, 15)
	}
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Str("store_domain", config.Store.Domain).
		Int("concurrency", config.Queue.Concurrency).
		Int("reports", len(config.Reports)).
		Msg("Service started")

	printCapabilities(config, logger)
	fmt.Printf("\n")
}

// printCapabilities lists the reports this service will run on their cron
// schedules, the closest thing docjobs has to "enabled features".
func printCapabilities(config *Config, logger arbor.ILogger) {
	fmt.Printf("Scheduled reports:\n")

	reportNames := make([]string, 0, len(config.Reports))
	if len(config.Reports) == 0 {
		fmt.Printf("   • none configured\n")
	}
	for _, r := range config.Reports {
		fmt.Printf("   • %s (%s)\n", r.Name, r.Schedule)
		reportNames = append(reportNames, r.Name)
	}

	logger.Info().
		Strs("reports", reportNames).
		Msg("Report schedules loaded")
}

// PrintShutdownBanner displays the shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("DOCJOBS")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("Service shutting down")
}

// PrintColorizedMessage prints a message in the given color.
func PrintColorizedMessage(color, message string) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints and logs a success message.
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("✓ %s", message))
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints and logs an error message.
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("✗ %s", message))
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints and logs a warning message.
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message))
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints and logs an informational message.
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("ℹ %s", message))
	logger.Info().Str("type", "info").Msg(message)
}
