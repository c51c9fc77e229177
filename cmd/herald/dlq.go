package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
)

func newDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead letter entries",
	}
	cmd.AddCommand(newDLQListCmd(), newDLQReplayCmd())
	return cmd
}

func newDLQListCmd() *cobra.Command {
	var (
		limit   int
		jobType string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close() //nolint:errcheck // best effort on exit

			svc := dlq.NewService(be.queue, be.queue)
			entries, err := svc.List(cmd.Context(), dlq.ListOpts{Limit: limit, JobType: jobType})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("dead letter queue is empty")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tUSER\tATTEMPTS\tFAILED\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.JobType, e.UserID, e.AttemptsMade,
					e.FailedAt.Format(time.RFC3339), e.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	cmd.Flags().StringVar(&jobType, "type", "", "only show this job type")
	return cmd
}

func newDLQReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <entry-id>",
		Short: "Re-enqueue a dead letter entry as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return fmt.Errorf("invalid entry id: %w", err)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close() //nolint:errcheck // best effort on exit

			j, err := dlq.NewService(be.queue, be.queue).Replay(cmd.Context(), entryID)
			if err != nil {
				return err
			}
			cmd.Printf("replayed %s as job %s\n", entryID, j.ID)
			return nil
		},
	}
}
