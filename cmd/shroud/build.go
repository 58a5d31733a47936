package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/shroud/bundle"
	"github.com/chazu/shroud/cipher"
	"github.com/chazu/shroud/obfuscate"
)

var buildFlags struct {
	key              string
	output           string
	bundle           string
	noMinify         bool
	noMinifyArtifact bool
	keepVarNames     bool
}

var buildCmd = &cobra.Command{
	Use:   "build script.js",
	Short: "Obfuscate a script into a standalone artifact",
	Long: `Minify and encrypt a script, compile it to bytecode and write the
rendered artifact. Flags override values from shroud.toml. Without a key
from either source a random one is generated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, args[0])
	},
}

func init() {
	f := buildCmd.Flags()
	f.StringVarP(&buildFlags.key, "key", "k", "", "Encryption key")
	f.StringVarP(&buildFlags.output, "output", "o", "", "Artifact path (default from shroud.toml, else vm.js)")
	f.StringVarP(&buildFlags.bundle, "bundle", "b", "", "Also write a CBOR program bundle to this path")
	f.BoolVar(&buildFlags.noMinify, "no-minify", false, "Do not minify the script before encryption")
	f.BoolVar(&buildFlags.noMinifyArtifact, "no-minify-artifact", false, "Do not minify the rendered artifact")
	f.BoolVar(&buildFlags.keepVarNames, "keep-var-names", false, "Do not rename local variables while minifying")
}

func runBuild(cmd *cobra.Command, scriptPath string) error {
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return err
	}

	opts := obfuscate.Options{
		Key:            cfg.Build.Key,
		Minify:         *cfg.Build.Minify && !buildFlags.noMinify,
		MinifyArtifact: *cfg.Build.MinifyArtifact && !buildFlags.noMinifyArtifact,
		KeepVarNames:   cfg.Build.KeepVarNames || buildFlags.keepVarNames,
	}
	if buildFlags.key != "" {
		opts.Key = buildFlags.key
	}
	if opts.Key == "" {
		opts.Key = cipher.GenerateKey()
	}

	res, err := obfuscate.Script(string(source), opts)
	if err != nil {
		return fmt.Errorf("%s: %w", scriptPath, err)
	}

	output := cfg.OutputPath()
	if buildFlags.output != "" {
		output = buildFlags.output
	}
	if err := writeFile(output, []byte(res.Artifact)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved script to %s\n", output)

	bundlePath := cfg.BundlePath()
	if buildFlags.bundle != "" {
		bundlePath = buildFlags.bundle
	}
	if bundlePath == "" {
		return nil
	}

	b, err := bundle.New(filepath.Base(scriptPath), res.Program, res.DerivedKey)
	if err != nil {
		return err
	}
	data, err := bundle.Marshal(b)
	if err != nil {
		return err
	}
	if err := writeFile(bundlePath, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved bundle %s to %s\n", b.ID, bundlePath)
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
