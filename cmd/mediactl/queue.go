package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/spf13/cobra"
)

func newQueueCmd(a *app) *cobra.Command {
	var consumer string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the dispatch queue",
	}
	cmd.PersistentFlags().StringVar(&consumer, "consumer", "", "Worker id whose in-flight list to use (default: hostname)")

	consumerName := func() (string, error) {
		if consumer != "" {
			return consumer, nil
		}
		return os.Hostname()
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print ready, delayed and in-flight task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := consumerName()
			if err != nil {
				return err
			}
			c, err := a.redis(cmd.Context())
			if err != nil {
				return err
			}
			s, err := queue.NewRedisQueue(c.Client(), name).Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ready=%d delayed=%d inflight(%s)=%d\n", s.Ready, s.Delayed, name, s.Inflight)
			return nil
		},
	}

	requeue := &cobra.Command{
		Use:   "requeue-inflight",
		Short: "Move a stopped worker's in-flight tasks back onto the ready list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if consumer == "" {
				return fmt.Errorf("--consumer is required")
			}
			c, err := a.redis(cmd.Context())
			if err != nil {
				return err
			}
			n, err := queue.NewRedisQueue(c.Client(), consumer).RequeueInflight(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d tasks from %s\n", n, consumer)
			return nil
		},
	}

	cmd.AddCommand(stats, requeue)
	return cmd
}
