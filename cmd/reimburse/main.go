// Package main provides the reimburse command: an HTTP service and CLI that
// enters expense claims into the Darwinbox portal through a real browser
// the user has logged into.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/reimburse/pkg/extract"
)

const (
	version      = "0.1.0"
	defaultModel = extract.DefaultModel
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPath  string
	CatalogPath string
	APIKey      string
	BaseURL     string
	Model       string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "reimburse",
	Short: "Submit expense claims to Darwinbox from receipts",
	Long: `reimburse drives a logged-in Darwinbox session in a real browser window
to enter expense claims: it reads receipts with a vision model, maps them to
portal categories, and fills and saves one claim per receipt.

Run "reimburse serve" to expose the HTTP API used by the chat bot, or use the
subcommands directly from a terminal.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reimburse v%s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "Path to config file (default ~/.reimburse/config.json)")
	pf.StringVar(&flags.CatalogPath, "catalog", "", "YAML category catalog overriding the built-in one")
	pf.StringVar(&flags.APIKey, "api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	pf.StringVar(&flags.BaseURL, "base-url", "", "OpenAI API base URL (or set OPENAI_BASE_URL env var)")
	pf.StringVar(&flags.Model, "model", defaultModel, "Vision model used to read receipts")

	rootCmd.AddCommand(
		serveCmd,
		loginCmd,
		statusCmd,
		logoutCmd,
		initLoginCmd,
		extractCmd,
		classifyCmd,
		submitCmd,
		batchCmd,
		watchCmd,
		configCmd,
		versionCmd,
	)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		log.Fatalf("Error: %v", err)
	}
	cancel()
}
