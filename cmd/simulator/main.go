package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/swarm-simulator/internal/scenario"
	"github.com/signalsfoundry/swarm-simulator/internal/solution"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simulator",
		Short: "Round-based swarm simulator on a hexagonal grid",
		Long: `simulator runs particle swarms on a hexagonal grid, one round at a time.

A run combines a scenario (the initial placement) with a solution (the
per-round particle behaviour), such as push-sum gossip population counting or
opportunistic message routing.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newScenariosCmd(),
		newSolutionsCmd(),
		newValidateCmd(),
		newTraceCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]string{"version": version})
			}
			fmt.Fprintf(out, "simulator version %s\n", version)
			return nil
		},
	}
}

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the built-in scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return printCatalog(cmd.OutOrStdout(), jsonOut, scenario.Names(), scenario.Describe)
		},
	}
}

func newSolutionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solutions",
		Short: "List the registered solutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return printCatalog(cmd.OutOrStdout(), jsonOut, solution.Names(), solution.Describe)
		},
	}
}

type catalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func printCatalog(out io.Writer, jsonOut bool, names []string, describe func(string) string) error {
	entries := make([]catalogEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, catalogEntry{Name: name, Description: describe(name)})
	}
	if jsonOut {
		return json.NewEncoder(out).Encode(entries)
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%-12s %s\n", e.Name, e.Description)
	}
	return nil
}
