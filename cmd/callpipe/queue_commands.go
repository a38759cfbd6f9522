package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/services"
	"callpipe/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the call queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

// callStatusOrder fixes the display order of the status summary.
var callStatusOrder = []store.CallStatus{
	store.CallPending,
	store.CallProcessing,
	store.CallCompleted,
	store.CallFailed,
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline queue summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				callCounts, err := st.CallCounts(cmd.Context())
				if err != nil {
					return err
				}
				stageCounts, err := st.StateCounts(cmd.Context())
				if err != nil {
					return err
				}
				transcripts, err := st.TranscriptCount(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()

				var rows [][]string
				for _, status := range callStatusOrder {
					if count := callCounts[status]; count > 0 {
						rows = append(rows, []string{string(status), strconv.Itoa(count)})
					}
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Call Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))

				stages := make([]string, 0, len(stageCounts))
				for stage := range stageCounts {
					stages = append(stages, stage)
				}
				sort.Strings(stages)
				rows = rows[:0]
				for _, stage := range stages {
					rows = append(rows, []string{stage, strconv.Itoa(stageCounts[stage])})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable(
						[]string{"Transcription Stage", "Count"},
						rows,
						[]columnAlignment{alignLeft, alignRight},
					))
				}

				fmt.Fprintf(out, "Transcripts stored: %d\n", transcripts)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				calls, err := st.ListCallsByStatus(cmd.Context(), store.CallStatus(statusFlag), limitFlag)
				if err != nil {
					return err
				}
				if len(calls) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No calls found")
					return nil
				}

				rows := make([][]string, 0, len(calls))
				for _, call := range calls {
					rows = append(rows, []string{
						call.CallUID,
						call.FeedID,
						string(call.Status),
						call.Tier,
						formatScore(call.QualityScore),
						fmt.Sprintf("%.1fs", call.Duration),
						call.CallTime().Format(time.RFC3339),
						truncate(call.ErrorMessage, 48),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Call", "Feed", "Status", "Tier", "Score", "Duration", "Received", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFlag, "status", "s", "", "Filter by call status (pending, processing, completed, failed)")
	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 50, "Maximum number of calls to show")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <call-uid>...",
		Short: "Return failed or parked calls to the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				out := cmd.OutOrStdout()
				for _, uid := range args {
					call, err := st.GetCall(cmd.Context(), uid)
					if err != nil {
						return err
					}
					if call.Status == store.CallFailed {
						if err := st.ReleaseCallForRetry(cmd.Context(), uid, ""); err != nil {
							return err
						}
					}
					if err := st.ResetState(cmd.Context(), uid); err != nil && !errors.Is(err, services.ErrNotFound) {
						return err
					}
					fmt.Fprintf(out, "Requeued %s\n", uid)
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete calls and their transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				status := store.CallStatus("")
				if failedOnly {
					status = store.CallFailed
				}
				deleted, err := st.DeleteCallsByStatus(cmd.Context(), status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d calls\n", deleted)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only delete terminally failed calls")
	return cmd
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *score)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
