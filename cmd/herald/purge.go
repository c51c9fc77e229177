package main

import (
	"github.com/spf13/cobra"

	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/retention"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run one retention sweep now",
		Long: "Deletes finished jobs older than HERALD_RETENTION_JOB_TTL and dead\n" +
			"letter entries older than HERALD_RETENTION_DLQ_TTL.",
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

			sw := retention.NewSweeper(be.queue, dlq.NewService(be.queue, be.queue), nil, cfg.RetentionSettings(), logger)
			res, err := sw.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("purged %d jobs and %d dead letter entries\n", res.Jobs, res.DLQEntries)
			return nil
		},
	}
}
