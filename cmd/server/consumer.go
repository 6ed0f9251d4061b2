package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nammalwarsai/skill3-cie/internal/queue"
)

func auditConsumerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-consumer",
		Short: "Consume audit events from RabbitMQ into a log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("file")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = queue.StartAuditConsumer(ctx, cfg.RabbitURL, path, log.With().Str("component", "audit-consumer").Logger())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("file", queue.DefaultAuditLogPath, "audit log file")
	return cmd
}
