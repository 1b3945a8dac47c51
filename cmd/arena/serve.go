package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marvijo-code/ultimate-llm-arena/internal/mcp"
	"github.com/marvijo-code/ultimate-llm-arena/internal/schedule"
	"github.com/marvijo-code/ultimate-llm-arena/web/api"
)

var (
	servePort     int
	serveSchedule bool
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the suite scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "run scheduled suites even when disabled in config")
	rootCmd.AddCommand(serveCmd)

	// mcp command
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the arena as an MCP server over stdio",
		RunE:  runMCP,
	}
	rootCmd.AddCommand(mcpCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Web.Port
	if servePort > 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Web.Host, port)
	server := api.NewServer(a.ctrl, a.batch(false), addr, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	if a.cfg.Schedule.Enabled || serveSchedule {
		sched, watcher, err := a.startSchedule(gctx, server)
		if err != nil {
			cancel()
			g.Wait()
			return err
		}
		defer watcher.Stop()
		g.Go(func() error {
			sched.Start(gctx, a.suiteRunner(server))
			return nil
		})
	}

	fmt.Fprintf(os.Stderr, "Serving on http://%s\n", addr)
	return g.Wait()
}

// startSchedule loads the suites file and watches it for edits
func (a *app) startSchedule(ctx context.Context, server *api.Server) (*schedule.Scheduler, *schedule.Watcher, error) {
	path := a.cfg.Schedule.SuitesFile
	suites, err := schedule.LoadSuites(path)
	if err != nil {
		return nil, nil, err
	}
	sched, err := schedule.NewScheduler(suites, a.logger)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, err
	}
	watcher, err := schedule.NewWatcher(path, schedule.ReloadInto(sched, a.logger), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("watching %s: %w", path, err)
	}
	watcher.Start(ctx)

	a.logger.Info("scheduler started", "suites", len(suites), "file", path)
	sched.LogPlan()
	return sched, watcher, nil
}

// suiteRunner runs a scheduled suite as a batch and announces the result
func (a *app) suiteRunner(server *api.Server) schedule.RunFunc {
	return func(ctx context.Context, suite schedule.Suite) error {
		result, err := a.batch(!suite.Notify).RunBatch(ctx, suite.BatchRequest(), nil)
		if err != nil {
			return err
		}
		server.Broadcast(api.SSEEvent{Type: api.EventBatchComplete, Data: result})
		if winner, ok := result.Winner(); ok {
			a.logger.Info("suite finished", "suite", suite.Name, "winner", winner.Model, "status", winner.Status)
		}
		return nil
	}
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return mcp.New(a.ctrl, a.batch(false), version, a.logger).ServeStdio()
}
