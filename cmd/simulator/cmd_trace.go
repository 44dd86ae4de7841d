package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/swarm-simulator/internal/persistence/tracelog"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <file.jsonl.zst>",
		Short: "Print the rounds stored in a trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			every, _ := cmd.Flags().GetInt("every")
			if every < 1 {
				every = 1
			}
			return printTrace(cmd.OutOrStdout(), args[0], every, jsonOut)
		},
	}
	cmd.Flags().Int("every", 1, "print every n-th round")
	return cmd
}

func printTrace(out io.Writer, path string, every int, jsonOut bool) error {
	r, err := tracelog.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	enc := json.NewEncoder(out)
	rounds := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rounds++
		if e.Snapshot.Round%every != 0 {
			continue
		}
		if jsonOut {
			if err := enc.Encode(e); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("round %5d  entities %4d", e.Snapshot.Round, len(e.Snapshot.Entities))
		if s := e.Stats; s != nil {
			line += fmt.Sprintf("  live %4d  mean %7.2f  min %4.0f  max %4.0f  std %5.2f%%", s.Actual, s.Mean, s.Min, s.Max, s.StdDevPercent)
		}
		fmt.Fprintln(out, line)
	}
	if !jsonOut {
		fmt.Fprintf(out, "%d rounds in %s\n", rounds, path)
	}
	return nil
}
