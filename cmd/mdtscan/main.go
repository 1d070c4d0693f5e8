// cmd/mdtscan/main.go
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mdt-discovery/internal/config"
	"mdt-discovery/internal/report"
	"mdt-discovery/internal/service"
	"mdt-discovery/internal/utils"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mdtscan",
	Short: "Find Thorlabs MDT piezo controllers on serial ports",
	Long: `mdtscan probes every serial port visible to the host for a Thorlabs
MDT piezo controller. Each port is opened briefly at the MDT baud rate
(115200 8N1), sent a handful of non-destructive identification commands,
and classified from its replies.

Generic USB-serial adapters (e.g. Prolific) hide the instrument behind a
vendor-neutral identity; active protocol probing finds it anyway.`,
	RunE:          runScan,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = utils.CloseLogger(logger) }()

	var opts service.ScanOptions
	if cmd.Flags().Changed("baud") {
		opts.BaudRate, _ = cmd.Flags().GetInt("baud")
	}
	if cmd.Flags().Changed("timeout") {
		opts.ReadTimeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("workers") {
		opts.Workers, _ = cmd.Flags().GetInt("workers")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scanService := service.NewScanService(cfg, logger, nil)

	result, err := scanService.Scan(ctx, opts)
	if err != nil {
		return err
	}

	if err := report.WriteSummary(os.Stdout, result); err != nil {
		return err
	}

	// The JSON document is written after the summary; a write failure is
	// reported but does not fail the invocation.
	jsonPath, _ := cmd.Flags().GetString("json")
	if jsonPath != "" {
		pretty, _ := cmd.Flags().GetBool("pretty")
		if err := report.WriteFile(jsonPath, result, pretty || cfg.Output.Pretty); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write JSON: %v\n", err)
		} else {
			fmt.Printf("Saved %d entries to JSON: %s\n", result.Len(), jsonPath)
		}
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./config, /etc/mdt-discovery)")

	rootCmd.Flags().IntP("baud", "b", 115200, "baud rate")
	rootCmd.Flags().DurationP("timeout", "t", 300*time.Millisecond, "per-read timeout")
	rootCmd.Flags().IntP("workers", "w", 4, "maximum concurrent port probes")
	rootCmd.Flags().StringP("json", "j", "", "write results to JSON file (optional filename)")
	rootCmd.Flags().Lookup("json").NoOptDefVal = "mdt_devices.json"
	rootCmd.Flags().Bool("pretty", false, "pretty-print JSON output")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
