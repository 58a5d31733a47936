// Shroud CLI - obfuscates scripts into self-decrypting bytecode artifacts
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/shroud/manifest"
)

var (
	configDir string
	verbosity int

	// cfg is loaded before any subcommand runs.
	cfg *manifest.Manifest
)

var rootCmd = &cobra.Command{
	Use:   "shroud",
	Short: "Obfuscate scripts into self-decrypting bytecode artifacts",
	Long: `shroud minifies a JavaScript file, encrypts it and embeds it in a small
bytecode program together with the interpreter that decrypts and runs it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadManifest(configDir); err != nil {
			return err
		}
		if verbosity < cfg.Log.Verbosity {
			verbosity = cfg.Log.Verbosity
		}
		commonlog.Configure(verbosity, cfg.LogFilePath())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "", "Directory containing shroud.toml (default: search upward from .)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")

	rootCmd.AddCommand(buildCmd, runCmd, disasmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest loads shroud.toml from dir, or searches upward from the
// working directory when dir is empty. A missing file yields defaults.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}
