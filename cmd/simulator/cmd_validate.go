package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/swarm-simulator/core"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenario.json...]",
		Short: "Validate the configuration and scenario files",
		Long: `Validate loads the configuration the run command would use and checks
every section. Each scenario file given as an argument is checked against the
scenario schema and placed into an empty world.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration ok")

			for _, path := range args {
				n, err := validateScenarioFile(cmd, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(out, "%s ok (%d entities)\n", path, n)
			}
			return nil
		},
	}
	return cmd
}

func validateScenarioFile(cmd *cobra.Command, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sf, err := core.LoadScenarioFile(f)
	if err != nil {
		return 0, err
	}
	var wc core.WorldConfig
	if sf.World != nil {
		wc = *sf.World
	}
	w := core.NewWorld(wc)
	if err := sf.Populate(cmd.Context(), w); err != nil {
		return 0, err
	}
	return len(w.Entities()), nil
}
