package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/transfa/savings-service/internal/app"
	"github.com/transfa/savings-service/internal/config"
	"github.com/transfa/savings-service/internal/store"
	rmrabbit "github.com/transfa/savings-service/pkg/rabbitmq"
)

func newSweepCmd() *cobra.Command {
	var (
		databaseURL string
		rabbitURL   string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Promote every due plan and investment to matured once",
		Long: `Runs the same maturity sweep the service schedules, once, against the database.
Lifecycle events are published when --rabbitmq-url (or RABBITMQ_URL) is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(databaseURL) == "" {
				return errors.New("a database url is required: pass --database-url or set DATABASE_URL")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			dbpool, err := pgxpool.New(ctx, databaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer dbpool.Close()

			var events rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
			if strings.TrimSpace(rabbitURL) != "" {
				producer, err := rmrabbit.NewEventProducer(rabbitURL)
				if err != nil {
					return fmt.Errorf("rabbitmq connection failed: %w", err)
				}
				defer producer.Close()
				events = producer
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			jobs := app.NewJobs(store.NewPostgresRepository(dbpool), events, nil, logger, config.Config{})

			result, err := jobs.RunMaturitySweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plans matured: %d\ninvestments matured: %d\n", result.PlansMatured, result.InvestmentsMatured)
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.Flags().StringVar(&rabbitURL, "rabbitmq-url", os.Getenv("RABBITMQ_URL"), "RabbitMQ url for lifecycle events")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall sweep timeout")
	return cmd
}
