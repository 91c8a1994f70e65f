package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/timeline/internal/app"
	"github.com/atvirokodosprendimai/timeline/internal/core/usecase"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "timeline",
		Usage: "Entity change timeline: capture, store and replay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Value:   "dev",
				Sources: cli.EnvVars("TIMELINE_ENV"),
				Usage:   "Runtime environment; prod switches logs to JSON",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./timeline.sqlite",
				Sources: cli.EnvVars("TIMELINE_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "store",
				Value:   app.StoreSQLite,
				Sources: cli.EnvVars("TIMELINE_STORE"),
				Usage:   "Timeline record store: sqlite or postgres",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Sources: cli.EnvVars("TIMELINE_DATABASE_URL"),
				Usage:   "PostgreSQL URL when --store=postgres",
			},
			&cli.StringFlag{
				Name:    "queue",
				Value:   app.QueueMemory,
				Sources: cli.EnvVars("TIMELINE_QUEUE"),
				Usage:   "Dispatch queue: memory or redis",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("TIMELINE_REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Sources: cli.EnvVars("TIMELINE_REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Sources: cli.EnvVars("TIMELINE_REDIS_DB"),
			},
			&cli.StringFlag{
				Name:    "redis-key",
				Value:   "timeline:messages",
				Sources: cli.EnvVars("TIMELINE_REDIS_KEY"),
			},
			&cli.StringFlag{
				Name:    "empty-diff-policy",
				Value:   string(usecase.EmptyDiffRecord),
				Sources: cli.EnvVars("TIMELINE_EMPTY_DIFF_POLICY"),
				Usage:   "What to do with updates that change nothing: record or skip",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("TIMELINE_WEBHOOK_URL"),
				Usage:   "Publish stored records to this URL",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("TIMELINE_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "webhook-timeout",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("TIMELINE_WEBHOOK_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Sources: cli.EnvVars("TIMELINE_S3_BUCKET"),
				Usage:   "Bucket for timeline exports; empty disables archiving",
			},
			&cli.StringFlag{
				Name:    "s3-region",
				Value:   "us-east-1",
				Sources: cli.EnvVars("TIMELINE_S3_REGION", "AWS_REGION"),
			},
			&cli.StringFlag{
				Name:    "s3-endpoint",
				Sources: cli.EnvVars("TIMELINE_S3_ENDPOINT"),
				Usage:   "Custom endpoint for MinIO or LocalStack",
			},
			&cli.StringFlag{
				Name:    "s3-prefix",
				Value:   "timeline",
				Sources: cli.EnvVars("TIMELINE_S3_PREFIX"),
			},
			&cli.StringFlag{
				Name:    "s3-access-key-id",
				Sources: cli.EnvVars("TIMELINE_S3_ACCESS_KEY_ID"),
			},
			&cli.StringFlag{
				Name:    "s3-secret-access-key",
				Sources: cli.EnvVars("TIMELINE_S3_SECRET_ACCESS_KEY"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			historyCommand(),
			replayCommand(),
			archiveCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logging.NewLogger(os.Getenv("TIMELINE_ENV")).Error("timeline failed", "err", err)
		os.Exit(1)
	}
}

func configFrom(c *cli.Command) app.Config {
	return app.Config{
		Addr:              c.String("addr"),
		DBPath:            c.String("db-path"),
		Store:             c.String("store"),
		DatabaseURL:       c.String("database-url"),
		Queue:             c.String("queue"),
		RedisAddr:         c.String("redis-addr"),
		RedisPassword:     c.String("redis-password"),
		RedisDB:           int(c.Int("redis-db")),
		RedisKey:          c.String("redis-key"),
		EmptyDiffPolicy:   c.String("empty-diff-policy"),
		WebhookURL:        c.String("webhook-url"),
		WebhookSecret:     c.String("webhook-secret"),
		WebhookTimeout:    c.Duration("webhook-timeout"),
		S3Bucket:          c.String("s3-bucket"),
		S3Region:          c.String("s3-region"),
		S3Endpoint:        c.String("s3-endpoint"),
		S3Prefix:          c.String("s3-prefix"),
		S3AccessKeyID:     c.String("s3-access-key-id"),
		S3SecretAccessKey: c.String("s3-secret-access-key"),
		BootstrapAPIKey:   c.String("bootstrap-api-key"),
		BootstrapTenant:   c.String("bootstrap-tenant"),
		BootstrapKeyName:  c.String("bootstrap-key-name"),
	}
}

func openApp(ctx context.Context, c *cli.Command) (*app.App, *slog.Logger, error) {
	logger := logging.NewLogger(c.String("env"))
	a, err := app.New(ctx, configFrom(c), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create app: %w", err)
	}
	return a, logger, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and process captured changes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("TIMELINE_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("TIMELINE_BOOTSTRAP_API_KEY"),
				Usage:   "Optional API key to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-tenant",
				Value:   "default",
				Sources: cli.EnvVars("TIMELINE_BOOTSTRAP_TENANT"),
				Usage:   "Tenant for bootstrap API key",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Value:   "bootstrap",
				Sources: cli.EnvVars("TIMELINE_BOOTSTRAP_KEY_NAME"),
				Usage:   "Name for bootstrap API key",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, logger, err := openApp(ctx, c)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					logger.Error("close resources", "err", closeErr)
				}
			}()
			a.Start(context.Background())

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", a.Server.Addr)
				errCh <- a.Server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
			case sig := <-sigCh:
				logger.Info("received signal", "signal", sig.String())
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return a.Server.Shutdown(shutdownCtx)
		},
	}
}

func elementFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "type", Value: "Article", Usage: "Element type"},
		&cli.StringFlag{Name: "id", Required: true, Usage: "Element id"},
		&cli.StringFlag{Name: "tenant", Usage: "Restrict to one tenant"},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Print the timeline of one element as JSON lines",
		Flags: elementFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			a, _, err := openApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			var events any
			if tenant := c.String("tenant"); tenant != "" {
				events, err = a.Timeline.ElementTimeline(ctx, tenant, c.String("type"), c.String("id"))
			} else {
				events, err = a.Timeline.History(ctx, c.String("type"), c.String("id"))
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Rebuild the current state of every element of a type from its timeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Value: "Article", Usage: "Element type"},
			&cli.StringFlag{Name: "tenant", Required: true},
			&cli.IntFlag{Name: "batch-size", Value: 500},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Also print elements whose last record is DELETED"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, _, err := openApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(os.Stdout)
			includeDeleted := c.Bool("include-deleted")
			return usecase.ReplayTenant(ctx, a.Timeline, a.Timeline.Reconstructor(), c.String("tenant"), c.String("type"), int(c.Int("batch-size")),
				func(state usecase.ElementState) error {
					if state.Deleted && !includeDeleted {
						return nil
					}
					return enc.Encode(state)
				})
		},
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Export the timeline of one element to object storage",
		Flags: elementFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			a, _, err := openApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			tenant := c.String("tenant")
			if tenant == "" {
				return errors.New("--tenant is required for archive")
			}
			key, err := a.Archive.ExportElement(ctx, tenant, c.String("type"), c.String("id"))
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}
