// Package cmd implements the sctctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xll-gen/sct"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	outputFormat string
	configPath   string
	regionPath   string
	verbose      bool

	// cfg is loaded before every command runs.
	cfg *sct.Config

	okFmt   = color.New(color.FgGreen).SprintFunc()
	infoFmt = color.New(color.FgYellow).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "sctctl",
	Short: "Drive and inspect SCT shared-memory regions",
	Long: `sctctl runs either end of an SCT transport over a file-backed region
and dumps the state of a live region.

Run "sctctl board" in one terminal and "sctctl host" in another, pointing
both at the same --region file.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		if configPath != "" {
			cfg, err = sct.LoadConfig(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = sct.DefaultConfig()
		}
		cfg.LoadFromEnv()
		if regionPath != "" {
			cfg.RegionPath = regionPath
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		level, _ := cfg.Level()
		sct.SetLogLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&regionPath, "region", "", "Region file (overrides config and SCT_REGION)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, errFmt("error:"), err)
	}
	return err
}

// formatOutput writes data as json or yaml. Table output is handled by
// each command.
func formatOutput(w io.Writer, data any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "table":
		return nil
	}
	return fmt.Errorf("unknown output format %q", outputFormat)
}
