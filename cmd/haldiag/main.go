// haldiag runs UART driver diagnostics against the simulated board.
// Scenarios come built in or from a YAML file:
//
//	haldiag list
//	haldiag run blocking-loopback abort-storm
//	haldiag run --file scenarios.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "haldiag",
		Short:         "UART HAL diagnostics on the simulated board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(listCmd(), runCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "haldiag:", err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range builtinScenarios() {
				fmt.Printf("%-20s mode=%s\n", s.Name, s.Mode)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var file string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios by name, or all from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var scenarios []Scenario
			switch {
			case file != "":
				loaded, err := loadScenarios(file)
				if err != nil {
					return err
				}
				scenarios = loaded
			case len(args) > 0:
				for _, name := range args {
					s, ok := findBuiltin(name)
					if !ok {
						return fmt.Errorf("unknown scenario %q (see haldiag list)", name)
					}
					scenarios = append(scenarios, s)
				}
			default:
				scenarios = builtinScenarios()
			}

			failed := 0
			for _, s := range scenarios {
				fmt.Printf("=== %s (%s)\n", s.Name, s.Mode)
				if err := runScenario(s, verbose); err != nil {
					fmt.Printf("FAIL %s: %v\n", s.Name, err)
					failed++
					continue
				}
				fmt.Printf("ok   %s\n", s.Name)
			}
			if failed > 0 {
				return fmt.Errorf("%d scenario(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML scenario file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "per-iteration output")
	return cmd
}
