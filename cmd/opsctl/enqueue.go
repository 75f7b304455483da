package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autolinehq/autoline-be/internal/queue"
)

func newEnqueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Put a job on the queue by hand",
	}
	cmd.AddCommand(
		newEnqueueFetchContentCmd(a),
		newEnqueueSendReplyCmd(a),
	)
	return cmd
}

func (a *app) queueClient() (*queue.Client, error) {
	redisClient, err := a.getRedis()
	if err != nil {
		return nil, err
	}
	return queue.NewClient(redisClient.GetRedis(), &queue.Config{
		WaitingChannel:  a.cfg.Queue.WaitingChannel,
		DelayedChannel:  a.cfg.Queue.DelayedChannel,
		ReservedChannel: a.cfg.Queue.ReservedChannel,
		FailedChannel:   a.cfg.Queue.FailedChannel,
		MaxAttempts:     a.cfg.Queue.MaxAttempts,
		JobTimeout:      a.cfg.Queue.JobTimeout,
		KeepResult:      a.cfg.Queue.KeepResult,
	}, a.logger.Logger), nil
}

func enqueueOptions(key string, deferBy time.Duration) []queue.Option {
	var opts []queue.Option
	if key != "" {
		opts = append(opts, queue.WithKey(key))
	}
	if deferBy > 0 {
		opts = append(opts, queue.WithDefer(deferBy))
	}
	return opts
}

func newEnqueueFetchContentCmd(a *app) *cobra.Command {
	var (
		url     string
		key     string
		deferBy time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch-content",
		Short: "Enqueue a fetch_content job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.queueClient()
			if err != nil {
				return err
			}
			job, err := client.Enqueue(cmd.Context(), queue.KindFetchContent,
				queue.FetchContentPayload{URL: url},
				enqueueOptions(key, deferBy)...,
			)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued job %s\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to fetch (required)")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key")
	cmd.Flags().DurationVar(&deferBy, "defer", 0, "Delay before the job becomes ready")
	cmd.MarkFlagRequired("url")
	return cmd
}

func newEnqueueSendReplyCmd(a *app) *cobra.Command {
	var (
		to      string
		content string
		key     string
		deferBy time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send-reply",
		Short: "Enqueue a send_reply job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.queueClient()
			if err != nil {
				return err
			}
			job, err := client.Enqueue(cmd.Context(), queue.KindSendReply,
				queue.SendReplyPayload{To: to, Content: content},
				enqueueOptions(key, deferBy)...,
			)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued job %s\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient phone number (required)")
	cmd.Flags().StringVar(&content, "content", "", "Message text (required)")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key")
	cmd.Flags().DurationVar(&deferBy, "defer", 0, "Delay before the job becomes ready")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("content")
	return cmd
}
