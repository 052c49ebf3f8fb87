package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/orchestrator"
	"github.com/contextcore/coyote/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage incident resolution runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Create a run for a new incident",
	Long: `Create a pipeline run from an error message and optional stack trace.
The run starts in pending; use "coyote run advance" to execute stages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		errMsg, _ := cmd.Flags().GetString("error")
		traceFile, _ := cmd.Flags().GetString("trace-file")
		severity, _ := cmd.Flags().GetString("severity")
		source, _ := cmd.Flags().GetString("source")
		service, _ := cmd.Flags().GetString("service")

		var trace string
		if traceFile != "" {
			data, err := os.ReadFile(traceFile)
			if err != nil {
				return fmt.Errorf("read trace file: %w", err)
			}
			trace = string(data)
		}

		opts := []incident.Option{}
		if severity != "" {
			opts = append(opts, incident.WithSeverity(incident.Severity(severity)))
		}
		if source != "" {
			opts = append(opts, incident.WithSource(source))
		}
		if service != "" {
			opts = append(opts, incident.WithContext("service", service))
		}
		inc := incident.FromError(errMsg, trace, opts...)

		rt, cleanup, err := newRuntime(true)
		if err != nil {
			return err
		}
		defer cleanup()

		runID, err := rt.orch.Start(inc, orchestrator.StartOpts{
			Stages:      rt.cfg.StageNames(),
			Checkpoints: rt.cfg.Checkpoints(),
			MaxAttempts: rt.cfg.AttemptBudgets(),
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Created %s for incident %s\n", runID, inc.ID)
		fmt.Fprintf(w, "  %s\n", inc.Title)

		if auto, _ := cmd.Flags().GetBool("auto"); auto {
			return advanceAll(cmd, rt, runID)
		}
		return nil
	},
}

var runAdvanceCmd = &cobra.Command{
	Use:   "advance <run-id>",
	Short: "Execute the next pending stage of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := newRuntime(true)
		if err != nil {
			return err
		}
		defer cleanup()

		if all, _ := cmd.Flags().GetBool("all"); all {
			return advanceAll(cmd, rt, args[0])
		}

		run, err := rt.orch.Advance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTransition(cmd, run)
		return nil
	},
}

// advanceAll executes stages until the run reaches a checkpoint or a terminal
// status.
func advanceAll(cmd *cobra.Command, rt *runtime, runID string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		run, err := rt.orch.Advance(ctx, runID)
		if err != nil {
			var pending *pipeline.CheckpointPendingError
			if errors.As(err, &pending) {
				fmt.Fprintf(cmd.OutOrStdout(),
					"Run %s awaiting approval after %s. Resolve with:\n  coyote run approve %s --decision proceed\n",
					runID, pending.Stage, runID)
				return nil
			}
			return err
		}
		printTransition(cmd, run)
		if run.Status.Terminal() || run.Status == pipeline.RunAwaitingCheckpoint {
			return nil
		}
	}
}

func printTransition(cmd *cobra.Command, run *pipeline.PipelineRun) {
	w := cmd.OutOrStdout()
	switch run.Status {
	case pipeline.RunSucceeded:
		fmt.Fprintf(w, "Run %s succeeded (%d stages)\n", run.ID, len(run.Stages))
	case pipeline.RunFailed:
		fmt.Fprintf(w, "Run %s failed at %s: %s\n", run.ID, run.CurrentStage(), run.LastError())
	case pipeline.RunAborted:
		fmt.Fprintf(w, "Run %s aborted\n", run.ID)
	case pipeline.RunAwaitingCheckpoint:
		fmt.Fprintf(w, "Run %s awaiting approval after %s\n", run.ID, run.CurrentStage())
	default:
		stage := run.CurrentStage()
		if stage == "" {
			fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.Status)
			return
		}
		// Still running: report what just happened at the cursor.
		if res := run.LastResult(stage); res != nil && res.Status == pipeline.StageFailed {
			fmt.Fprintf(w, "Stage %s attempt %d failed (%d/%d attempts used): %s\n",
				stage, res.Attempt, run.Attempts(stage), run.AttemptBudget(stage), res.Error)
			return
		}
		fmt.Fprintf(w, "Advanced to stage %s (%d/%d)\n", stage, run.Cursor+1, len(run.Stages))
	}
}

var runApproveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Resolve a checkpoint",
	Long: `Resolve a run waiting at a checkpoint. Decisions:
  proceed      accept the gated stage's output and continue
  reject       abort the run permanently
  retry-stage  discard the output and re-run the gated stage`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decision, _ := cmd.Flags().GetString("decision")

		rt, cleanup, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := rt.orch.Approve(args[0], orchestrator.Decision(decision))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %s (decision: %s)\n", run.ID, run.Status, decision)
		return nil
	},
}

var runAbortCmd = &cobra.Command{
	Use:   "abort <run-id>",
	Short: "Abort a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := rt.orch.Abort(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s aborted\n", run.ID)
		return nil
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show detailed run status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := rt.store.Get(args[0])
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			data, _ := json.MarshalIndent(run, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s\n", run.ID)
		if run.Incident != nil {
			fmt.Fprintf(w, "  Incident: %s (%s)\n", run.Incident.ID, run.Incident.Severity)
			fmt.Fprintf(w, "  Title:    %s\n", run.Incident.Title)
		}
		fmt.Fprintf(w, "  Status:   %s\n", run.Status)
		if stage := run.CurrentStage(); stage != "" {
			fmt.Fprintf(w, "  Cursor:   %d (%s)\n", run.Cursor, stage)
		} else {
			fmt.Fprintf(w, "  Cursor:   %d (past last stage)\n", run.Cursor)
		}
		fmt.Fprintf(w, "  Created:  %s\n", run.CreatedAt)
		fmt.Fprintf(w, "  Updated:  %s\n", run.UpdatedAt)

		fmt.Fprintln(w, "  Stages:")
		for i, name := range run.Stages {
			marker := " "
			if i == run.Cursor {
				marker = ">"
			}
			gate := ""
			if run.RequiresCheckpoint(name) {
				gate = " [checkpoint]"
			}
			outcome := "-"
			if res := run.LastResult(name); res != nil {
				outcome = string(res.Status)
				if res.Status == pipeline.StageFailed {
					outcome += ": " + res.Error
				} else if res.Summary != "" {
					outcome += ": " + res.Summary
				}
			}
			fmt.Fprintf(w, "   %s %-12s attempts %d/%d  %s%s\n",
				marker, name, run.Attempts(name), run.AttemptBudget(name), outcome, gate)
		}
		return nil
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer cleanup()

		statusFilter, _ := cmd.Flags().GetString("status")
		runs, err := rt.store.List(pipeline.RunStatus(statusFilter))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return nil
		}

		fmt.Fprintf(w, "%-42s %-20s %-14s %s\n", "RUN", "STATUS", "STAGE", "TITLE")
		fmt.Fprintf(w, "%-42s %-20s %-14s %s\n",
			strings.Repeat("-", 42),
			strings.Repeat("-", 20),
			strings.Repeat("-", 14),
			strings.Repeat("-", 5))
		for _, run := range runs {
			title := ""
			if run.Incident != nil {
				title = run.Incident.Title
			}
			title = truncate(title, 50)
			fmt.Fprintf(w, "%-42s %-20s %-14s %s\n", run.ID, run.Status, run.CurrentStage(), title)
		}
		return nil
	},
}

var runDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its persisted state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := rt.store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

// truncate shortens s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func init() {
	runStartCmd.Flags().String("error", "", "Error message that triggered the incident")
	runStartCmd.Flags().String("trace-file", "", "File containing the raw stack trace")
	runStartCmd.Flags().String("severity", "", "Incident severity: critical, high, medium, low, info")
	runStartCmd.Flags().String("source", "", "Where the error was detected: manual, log, alert")
	runStartCmd.Flags().String("service", "", "Service name used for observability queries")
	runStartCmd.Flags().Bool("auto", false, "Advance until a checkpoint or terminal status")
	runStartCmd.MarkFlagRequired("error")

	runAdvanceCmd.Flags().Bool("all", false, "Advance until a checkpoint or terminal status")
	runApproveCmd.Flags().String("decision", "proceed", "Checkpoint decision: proceed, reject, retry-stage")
	runStatusCmd.Flags().String("format", "text", "Output format: text or json")
	runListCmd.Flags().String("status", "", "Filter by run status")

	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runAdvanceCmd)
	runCmd.AddCommand(runApproveCmd)
	runCmd.AddCommand(runAbortCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runDeleteCmd)
}
