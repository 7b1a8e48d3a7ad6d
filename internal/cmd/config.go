package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/qscaler/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View qscaler configuration",
	Long: `View the effective qscaler configuration.

Settings come from, in increasing priority: defaults, the config file,
QSCALER_* environment variables and command-line flags.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file in use, or where one is looked for",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "# config file: %s\n", used)
	} else {
		fmt.Fprintln(w, "# config file: (none - using defaults, environment and flags)")
	}
	_, err = w.Write(out)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(w, used)
		return nil
	}
	fmt.Fprintf(w, "no config file found; searched: %s\n", strings.Join(config.SearchPaths(), ", "))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	return nil
}
