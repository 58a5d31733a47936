package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/shroud/bundle"
	"github.com/chazu/shroud/pkg/bytecode"
	"github.com/chazu/shroud/script"
)

var trace bool

var runCmd = &cobra.Command{
	Use:   "run bundle.shb",
	Short: "Execute a program bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := readBundle(args[0])
		if err != nil {
			return err
		}
		p, err := b.Decode()
		if err != nil {
			return err
		}

		globals := bytecode.NewGlobals()
		globals.BindAll(script.Builtins(cmd.OutOrStdout()))

		vm := bytecode.NewVM(globals, script.NewEvaluator())
		vm.Trace = trace
		result, err := vm.Run(p)
		if err != nil {
			return err
		}
		if result != nil {
			fmt.Fprintln(cmd.OutOrStdout(), result)
		}
		return nil
	},
}

var disasmCmd = &cobra.Command{
	Use:   "disasm bundle.shb",
	Short: "Print the bytecode listing of a program bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := readBundle(args[0])
		if err != nil {
			return err
		}
		p, err := b.Decode()
		if err != nil {
			return err
		}
		name := b.Name
		if name == "" {
			name = b.ID.String()
		}
		fmt.Fprint(cmd.OutOrStdout(), p.DisassembleWithName(name))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&trace, "trace", false, "Log every decoded instruction (needs -vv)")
}

func readBundle(path string) (*bundle.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bundle.Unmarshal(data)
}
