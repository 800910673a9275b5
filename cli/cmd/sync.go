package cmd

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/syncer"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: groupUserFacing,
		Short:   "Plan and run customer tree synchronizations",
		Long: `Reconcile one customer tree from the source platform into GCDR.

A run fetches the customer with its assets and devices, diffs the snapshot
against the recorded GCDR links, and applies the resulting plan in dependency
order. Resolved GCDR IDs are written back to the source platform so following
runs converge to no-ops.`,
		Example: `  # See what a run would do
  gcdr-sync sync plan --customer 3f2a91c0

  # Apply the plan without the confirmation prompt
  gcdr-sync sync run --customer 3f2a91c0 --yes

  # Review recent runs
  gcdr-sync sync history`,
	}

	cmd.AddCommand(newSyncPlanCommand())
	cmd.AddCommand(newSyncRunCommand())
	cmd.AddCommand(newSyncHistoryCommand())

	return cmd
}

func newSyncPlanCommand() *cobra.Command {
	var customerID string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync run would do without writing anything",
		Example: `  gcdr-sync sync plan --customer 3f2a91c0
  gcdr-sync sync plan --customer 3f2a91c0 --context staging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(customerID) == "" {
				return usageError(cmd, "--customer is required")
			}

			engine, cleanup, err := loadEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := commandContext(cmd)
			statusf(cmd, "Fetching customer %s from %s...", customerID, engine.context.Source.BaseURL)
			snapshot, links, err := engine.fetcher.Fetch(ctx, customerID)
			if err != nil {
				return err
			}

			plan, err := engine.planner.Plan(snapshot, links)
			if err != nil {
				return err
			}

			renderPlan(cmd, plan)
			return nil
		},
	}

	cmd.Flags().StringVar(&customerID, "customer", "", "Source platform customer ID to sync")
	return cmd
}

func newSyncRunCommand() *cobra.Command {
	var (
		customerID  string
		skipPrompt  bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile one customer tree into GCDR",
		Example: `  gcdr-sync sync run --customer 3f2a91c0
  gcdr-sync sync run --customer 3f2a91c0 --yes
  gcdr-sync sync run --customer 3f2a91c0 --metrics-addr :9115`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(customerID) == "" {
				return usageError(cmd, "--customer is required")
			}

			engine, cleanup, err := loadEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if metricsAddr != "" {
				server := &http.Server{Addr: metricsAddr, Handler: engine.metrics.Handler()}
				go func() { _ = server.ListenAndServe() }()
				defer server.Close()
			}

			ctx := commandContext(cmd)
			statusf(cmd, "Fetching customer %s from %s...", customerID, engine.context.Source.BaseURL)
			snapshot, links, err := engine.fetcher.Fetch(ctx, customerID)
			if err != nil {
				return err
			}

			plan, err := engine.planner.Plan(snapshot, links)
			if err != nil {
				return err
			}
			renderPlan(cmd, plan)

			if plan.Attempted() == 0 {
				successf(cmd, "Nothing to do: %q is already in sync", snapshot.Customer.Name)
				return nil
			}

			if err := confirmAction(cmd, skipPrompt,
				fmt.Sprintf("Apply %d actions to %s?", plan.Attempted(), engine.context.GCDR.BaseURL)); err != nil {
				return err
			}

			progress := func(current int, total int, entityName string) {
				statusf(cmd, "[%d/%d] %s", current, total, entityName)
			}
			result, runErr := engine.executor.Execute(ctx, plan, progress)

			if engine.history != nil {
				if err := engine.history.RecordRun(ctx, engine.context.Name, customerID, result, runErr); err != nil {
					statusf(cmd, "warning: failed to record run history: %v", err)
				}
			}

			renderResult(cmd, result)
			if runErr != nil {
				return runErr
			}
			if !result.Converged() {
				return fmt.Errorf("sync did not converge: %d of %d actions failed", len(result.Failed), plan.Attempted())
			}
			successf(cmd, "Synced %q in %s", snapshot.Customer.Name, result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&customerID, "customer", "", "Source platform customer ID to sync")
	cmd.Flags().BoolVarP(&skipPrompt, "yes", "y", false, "Apply the plan without asking for confirmation")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address for the duration of the run")
	return cmd
}

func newSyncHistoryCommand() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs recorded in the local history",
		Example: `  gcdr-sync sync history
  gcdr-sync sync history --limit 5
  gcdr-sync sync history --run 6e1f... # failure details of one run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, cleanup, err := loadHistory()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := commandContext(cmd)
			if strings.TrimSpace(runID) != "" {
				failures, err := history.Failures(ctx, runID)
				if err != nil {
					return err
				}
				if len(failures) == 0 {
					infof(cmd, "run %s recorded no failures", runID)
					return nil
				}
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "KIND\tNAME\tACTION\tERROR")
				for _, failure := range failures {
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", failure.Kind, failure.Name, failure.Action, failure.Message)
				}
				return writer.Flush()
			}

			runs, err := history.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				infof(cmd, "no runs recorded yet")
				return nil
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "RUN\tSTARTED\tCONTEXT\tCUSTOMER\tSTATUS\tOK\tFAILED\tSKIPPED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					run.RunID,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.Context,
					run.Customer,
					run.Status,
					run.Succeeded,
					run.Failed,
					run.Skipped,
					run.Duration.Round(time.Millisecond),
				)
			}
			return writer.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show the failure details of one run instead of the run list")
	return cmd
}

func renderPlan(cmd *cobra.Command, plan syncer.Plan) {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ACTION\tKIND\tNAME\tGCDR ID")
	for _, action := range orderForDisplay(plan.Actions) {
		gcdrID := action.GCDRID
		if gcdrID == "" {
			gcdrID = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", action.Type, action.Kind, action.Name, gcdrID)
	}
	_ = writer.Flush()

	infof(cmd, "")
	infof(cmd, "Plan: %d to create, %d to update, %d to recreate, %d up to date",
		plan.ToCreate, plan.ToUpdate, plan.ToRecreate, plan.ToSkip)
}

// orderForDisplay mirrors execution order: customer, then assets, then
// devices, stable within each kind.
func orderForDisplay(actions []syncer.Action) []syncer.Action {
	ordered := make([]syncer.Action, len(actions))
	copy(ordered, actions)
	rank := func(action syncer.Action) int {
		switch action.Kind {
		case gcdr.KindCustomer:
			return 0
		case gcdr.KindAsset:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

func renderResult(cmd *cobra.Command, result syncer.Result) {
	for _, outcome := range result.Succeeded {
		if outcome.Warning != "" {
			statusf(cmd, "warning: %s %q: %s", outcome.Action.Kind, outcome.Action.Name, outcome.Warning)
		}
	}
	for _, outcome := range result.Failed {
		statusf(cmd, "failed: %s %q (%s): %s", outcome.Action.Kind, outcome.Action.Name, outcome.Action.Type, outcome.Err)
	}
	infof(cmd, "Run %s: %d succeeded, %d failed, %d skipped",
		result.RunID, len(result.Succeeded), len(result.Failed), len(result.Skipped))
}
