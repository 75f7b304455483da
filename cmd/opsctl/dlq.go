package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autolinehq/autoline-be/internal/dlq"
	"github.com/autolinehq/autoline-be/internal/queue"
)

func newDLQCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage the dead letter queue",
	}

	cmd.AddCommand(
		newDLQCountCmd(a),
		newDLQListCmd(a),
		newDLQStatsCmd(a),
		newDLQGetCmd(a),
		newDLQRemoveCmd(a),
		newDLQRequeueCmd(a),
		newDLQClearCmd(a),
	)
	return cmd
}

func (a *app) dlqQueue() (*dlq.Queue, error) {
	redisClient, err := a.getRedis()
	if err != nil {
		return nil, err
	}
	return dlq.New(redisClient.GetRedis(), a.logger.Logger), nil
}

func newDLQCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			count, err := q.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
}

func newDLQListCmd(a *app) *cobra.Command {
	var offset, limit int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			entries, err := q.List(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Dead letter queue is empty")
				return nil
			}
			for _, entry := range entries {
				fmt.Printf("%s\t%s\t%s\t%s\n", entry.Timestamp, entry.JobKey, entry.ErrorType, entry.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "Number of entries to skip")
	cmd.Flags().Int64Var(&limit, "limit", 50, "Maximum number of entries to print")
	return cmd
}

func newDLQStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate dead-lettered jobs by function and error type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Total: %d\n", stats.Total)
			fmt.Println("\nBy function:")
			for function, count := range stats.ByFunction {
				fmt.Printf("  %-30s %d\n", function, count)
			}
			fmt.Println("\nBy error type:")
			for errorType, count := range stats.ByErrorType {
				fmt.Printf("  %-30s %d\n", errorType, count)
			}
			if len(stats.Sample) > 0 {
				fmt.Println("\nNewest entries:")
				for _, entry := range stats.Sample {
					fmt.Printf("  %s\t%s\t%s\n", entry.Timestamp, entry.JobKey, entry.ErrorMessage)
				}
			}
			return nil
		},
	}
}

func newDLQGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-key>",
		Short: "Print one dead-lettered job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			entry, err := q.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no dead letter record for job key %q", args[0])
			}
			out, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newDLQRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-key>",
		Short: "Delete one dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			removed, err := q.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no dead letter record for job key %q", args[0])
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func newDLQRequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-key>",
		Short: "Rebuild a dead-lettered job from its record and enqueue it again",
		Long: `Rebuild a dead-lettered job from its stored details and put it back on
the queue, then remove the dead letter record. Message text in the record is
truncated to 100 characters, so a requeued inbound message may carry a
shortened prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			entry, err := q.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no dead letter record for job key %q", args[0])
			}

			kind, payload, err := rebuildJob(entry)
			if err != nil {
				return err
			}

			redisClient, err := a.getRedis()
			if err != nil {
				return err
			}
			client := queue.NewClient(redisClient.GetRedis(), &queue.Config{
				WaitingChannel:  a.cfg.Queue.WaitingChannel,
				DelayedChannel:  a.cfg.Queue.DelayedChannel,
				ReservedChannel: a.cfg.Queue.ReservedChannel,
				FailedChannel:   a.cfg.Queue.FailedChannel,
				MaxAttempts:     a.cfg.Queue.MaxAttempts,
				JobTimeout:      a.cfg.Queue.JobTimeout,
				KeepResult:      a.cfg.Queue.KeepResult,
			}, a.logger.Logger)

			// Enqueue without an idempotency key: the original enqueue-time
			// reservation may still be live, and the executor re-derives the
			// processing key from the payload anyway.
			job, err := client.Enqueue(cmd.Context(), kind, payload)
			if err != nil {
				return fmt.Errorf("failed to requeue job: %w", err)
			}

			if _, err := q.Remove(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("job requeued as %s but dead letter record was not removed: %w", job.ID, err)
			}

			fmt.Printf("Requeued %s as job %s (%s)\n", args[0], job.ID, kind)
			return nil
		},
	}
}

// rebuildJob reconstructs the job kind and payload from a dead letter
// record's details, which carry a "function" field plus the payload fields
// the executor logged when the job failed.
func rebuildJob(entry *dlq.Entry) (queue.Kind, interface{}, error) {
	var details struct {
		Function    string `json:"function"`
		URL         string `json:"url"`
		CustomerID  string `json:"customer_id"`
		FromNumber  string `json:"from_number"`
		UserMessage string `json:"user_message"`
		MessageID   string `json:"message_id"`
		To          string `json:"to"`
		Content     string `json:"content"`
	}
	if err := json.Unmarshal([]byte(entry.JobDetails), &details); err != nil {
		return "", nil, fmt.Errorf("failed to parse job details: %w", err)
	}

	switch queue.Kind(details.Function) {
	case queue.KindFetchContent:
		if details.URL == "" {
			return "", nil, fmt.Errorf("dead letter record has no url")
		}
		return queue.KindFetchContent, queue.FetchContentPayload{URL: details.URL}, nil
	case queue.KindHandleInboundMessage:
		if details.FromNumber == "" {
			return "", nil, fmt.Errorf("dead letter record has no from_number")
		}
		return queue.KindHandleInboundMessage, queue.InboundMessagePayload{
			CustomerID:  details.CustomerID,
			FromNumber:  details.FromNumber,
			MessageText: details.UserMessage,
			MessageID:   details.MessageID,
		}, nil
	case queue.KindSendReply:
		if details.To == "" {
			return "", nil, fmt.Errorf("dead letter record has no recipient")
		}
		return queue.KindSendReply, queue.SendReplyPayload{
			To:        details.To,
			Content:   details.Content,
			MessageID: details.MessageID,
		}, nil
	default:
		return "", nil, fmt.Errorf("dead letter record has unknown function %q", details.Function)
	}
}

func newDLQClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every dead-lettered job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			q, err := a.dlqQueue()
			if err != nil {
				return err
			}
			count, err := q.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d entries\n", count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
