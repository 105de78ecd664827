package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/history"
	"github.com/zb-ss/opencode-workflows-sub001/internal/api"
	"github.com/zb-ss/opencode-workflows-sub001/internal/events"
	"github.com/zb-ss/opencode-workflows-sub001/internal/janitor"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inspection API server",
	Long: `Serve the HTTP inspection API: workflow listings, pending gates,
history queries, a server-sent-events stream of workflow changes, and
Prometheus metrics.

Serve mode also watches the active data root for record changes and
runs scheduled maintenance (expired marker sweep, auto-archive of
completed workflows).

Examples:
  # Start with defaults (127.0.0.1:8844)
  ocw serve

  # Bind elsewhere
  ocw serve --host 0.0.0.0 --port 9000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"host address to bind to (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"port to listen on (default from config)")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	machine, err := rt.openMachine()
	if err != nil {
		return err
	}
	store := rt.openStore()
	registry := rt.openRegistry(store)

	bus := events.New(100)
	defer bus.Close()

	opts := []api.ServerOption{
		api.WithLogger(rt.log),
		api.WithCORSOrigins(rt.cfg.Server.CORSOrigins),
	}

	var hist *history.Store
	if rt.cfg.History.Enabled {
		hist, err = history.NewStore(rt.cfg.History.Path)
		if err != nil {
			rt.log.Warn("history disabled, database unavailable",
				"path", rt.cfg.History.Path, "error", err)
		} else {
			defer hist.Close()
			opts = append(opts, api.WithHistory(hist))
		}
	}

	if rt.cfg.Server.Metrics {
		opts = append(opts, api.WithMetrics(prometheus.NewRegistry()))
	}

	server := api.NewServer(store, machine, bus, opts...)

	watcher, err := api.NewStateWatcher(store, bus, store.ActiveRoot(), rt.log)
	if err != nil {
		return fmt.Errorf("creating state watcher: %w", err)
	}

	jopts := []janitor.Option{janitor.WithBus(bus)}
	if hist != nil {
		jopts = append(jopts, janitor.WithHistory(hist))
	}
	jan := janitor.New(janitor.Config{
		Schedule:    rt.cfg.Janitor.Schedule,
		MarkerTTL:   rt.cfg.Janitor.MarkerTTLDuration(24 * time.Hour),
		AutoArchive: rt.cfg.Janitor.AutoArchive,
	}, store, registry, machine, rt.log, jopts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting state watcher: %w", err)
	}
	defer watcher.Stop()

	if err := jan.Start(ctx); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer jan.Stop()

	addr := fmt.Sprintf("%s:%d", rt.cfg.Server.Host, rt.cfg.Server.Port)
	rt.log.Info("inspection server starting",
		"addr", addr,
		"metrics", rt.cfg.Server.Metrics,
		"history", hist != nil,
		"janitor_schedule", rt.cfg.Janitor.Schedule)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		logBusEvents(gctx, bus, rt.log)
		return nil
	})

	err = g.Wait()
	rt.log.Info("inspection server stopped")
	return err
}

// logBusEvents mirrors bus traffic into the log so serve mode leaves an
// audit trail even with no SSE client attached.
func logBusEvents(ctx context.Context, bus *events.EventBus, log *logging.Logger) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			log.Debug("event",
				"type", ev.EventType(),
				"workflow_id", ev.WorkflowID())
		}
	}
}
