package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"courieropt/internal/dispatch"
	"courieropt/internal/model"
)

var (
	solveFile      string
	solveProblemID string
	solveTimeLimit time.Duration
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a snapshot file and print the result as JSON",
}

var solveAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign orders to partners",
	RunE: func(cmd *cobra.Command, args []string) error {
		var prob model.AssignmentProblem
		if err := readSnapshot(solveFile, &prob); err != nil {
			return err
		}
		if solveTimeLimit > 0 {
			prob.TimeLimitMs = int(solveTimeLimit.Milliseconds())
		}
		planner := dispatch.NewPlanner(cfg.Solver, nil, logger)
		defer planner.Close(cmd.Context())
		res, err := planner.OptimizeAssignment(cmd.Context(), solveProblemID, prob)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var solveRouteCmd = &cobra.Command{
	Use:   "route",
	Short: "Sequence the stops of one vehicle",
	RunE: func(cmd *cobra.Command, args []string) error {
		var prob model.RouteProblem
		if err := readSnapshot(solveFile, &prob); err != nil {
			return err
		}
		if solveTimeLimit > 0 {
			prob.TimeLimitMs = int(solveTimeLimit.Milliseconds())
		}
		planner := dispatch.NewPlanner(cfg.Solver, nil, logger)
		defer planner.Close(cmd.Context())
		plan, err := planner.OptimizeRoute(cmd.Context(), solveProblemID, prob)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

func init() {
	for _, c := range []*cobra.Command{solveAssignCmd, solveRouteCmd} {
		c.Flags().StringVarP(&solveFile, "file", "f", "-", "snapshot JSON file, - for stdin")
		c.Flags().StringVar(&solveProblemID, "problem-id", "cli", "problem id of the solve")
		c.Flags().DurationVar(&solveTimeLimit, "time-limit", 0, "override the configured time limit")
	}
}

// readSnapshot decodes a snapshot file. Snapshots saved from an API envelope
// are unwrapped from their "data" field.
func readSnapshot(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("snapshot %s is not valid JSON", path)
	}
	if inner := gjson.GetBytes(data, "data"); inner.IsObject() {
		data = []byte(inner.Raw)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
