package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/reimburse/pkg/config"
)

var configReset bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or write the config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings of every section",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(flags.ConfigPath); err != nil {
			return err
		}
		return printSections(cmd.OutOrStdout(), config.Global())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write every section to the config file",
	Long: `Writes the current settings of every section, defaults included, to the
config file so they can be edited by hand. With --reset, values already in the
file are replaced by the defaults.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(flags.ConfigPath); err != nil {
			return err
		}
		m := config.Global()
		if configReset {
			m.ResetAll()
		}
		if err := m.SaveAll(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", m.Path())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configReset, "reset", false, "Replace stored values with defaults")
	configCmd.AddCommand(configShowCmd, configInitCmd)
}

func printSections(w io.Writer, m *config.Manager) error {
	fmt.Fprintf(w, "# %s\n", m.Path())
	for _, s := range m.Sections() {
		data := s.Data()
		if key, ok := data["api_key"].(string); ok && key != "" {
			data["api_key"] = maskSecret(key)
		}
		body, err := yaml.Marshal(map[string]any{s.ID(): data})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n# %s: %s\n%s", s.Title(), s.Description(), body)
	}
	return nil
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
