package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"legalflow/internal/events"
)

func newEventsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the domain event stream",
	}
	var count int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent workflow events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is not set; events are only written to the API log")
			}
			publisher, err := events.NewRedisPublisher(cfg.RedisURL, cfg.EventsStream)
			if err != nil {
				return err
			}
			defer publisher.Close()

			recent, err := publisher.Recent(cmd.Context(), count)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tOWNER\tSTAGE\tACTOR\tSTATUS")
			for _, e := range recent {
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
					e.OccurredAt.Format(time.RFC3339), e.Type, e.OwnerType, e.OwnerID,
					dash(e.Stage), dash(e.ActorNIK), dash(e.Status))
			}
			return w.Flush()
		},
	}
	tail.Flags().Int64VarP(&count, "count", "n", 20, "number of events to show")
	cmd.AddCommand(tail)
	return cmd
}
