package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/nsiitk/killbill/internal/addon"
	"github.com/nsiitk/killbill/internal/bus"
	busservice "github.com/nsiitk/killbill/internal/bus/service"
	"github.com/nsiitk/killbill/internal/catalog"
	"github.com/nsiitk/killbill/internal/clock"
	"github.com/nsiitk/killbill/internal/config"
	"github.com/nsiitk/killbill/internal/migration"
	"github.com/nsiitk/killbill/internal/notification"
	notificationservice "github.com/nsiitk/killbill/internal/notification/service"
	"github.com/nsiitk/killbill/internal/observability"
	"github.com/nsiitk/killbill/internal/subscription"
	"github.com/nsiitk/killbill/pkg/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "killbill",
		Short:   "Subscription lifecycle engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the subscription engine workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the engine workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runServe()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		catalog.Module,
		addon.Module,
		bus.Module,
		notification.Module,
		subscription.Module,
		fx.Invoke(startWorkers),
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}

// startWorkers runs the deferred-notification dispatcher and the outbox
// publisher for the lifetime of the app.
func startWorkers(lc fx.Lifecycle, d *notificationservice.Dispatcher, p *busservice.Publisher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go d.RunForever(ctx)
			go p.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return p.Close()
		},
	})
}
