package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marvijo-code/ultimate-llm-arena/internal/config"
	"github.com/marvijo-code/ultimate-llm-arena/internal/credentials"
	"github.com/marvijo-code/ultimate-llm-arena/internal/llm"
	"github.com/marvijo-code/ultimate-llm-arena/internal/notify"
	"github.com/marvijo-code/ultimate-llm-arena/internal/prompts"
	"github.com/marvijo-code/ultimate-llm-arena/internal/repotest"
	"github.com/marvijo-code/ultimate-llm-arena/internal/runstore"
	"github.com/marvijo-code/ultimate-llm-arena/internal/telemetry"
	"github.com/marvijo-code/ultimate-llm-arena/internal/testrun"
	"github.com/marvijo-code/ultimate-llm-arena/internal/tools"
	"github.com/marvijo-code/ultimate-llm-arena/internal/workspace"
)

// app holds the wired components shared by the commands
type app struct {
	cfg      *config.Config
	store    *runstore.Store
	ctrl     *repotest.Controller
	notifier notify.Notifier
	logger   *slog.Logger

	shutdownTelemetry telemetry.Shutdown
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens only the run store, for commands that never run tools
func openStore() (*config.Config, *runstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, store, err := openStore()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	loader := prompts.DefaultLoader(cfg.General.PromptsDir)
	prompts.SetDefaultLoader(loader)

	creds := credentials.Chain{store, credentials.EnvSource{}}
	client := llm.NewClient(llm.Config{
		BaseURL: cfg.OpenRouter.BaseURL,
		Referer: cfg.OpenRouter.Referer,
		Title:   cfg.OpenRouter.Title,
		Timeout: cfg.OpenRouter.Timeout.Duration,
	})

	defs, err := tools.LoadDefinitions(cfg.General.ToolsFile)
	if err != nil {
		store.Close()
		return nil, err
	}
	registry, err := tools.Build(defs, tools.Deps{
		Credentials: creds,
		Completer:   client,
		Direct: tools.DirectSettings{
			Temperature: &cfg.OpenRouter.Temperature,
			MaxTokens:   cfg.OpenRouter.MaxTokens,
			TreeDepth:   cfg.Runner.TreeDepth,
			MaxFiles:    cfg.Runner.ContextFiles,
			MaxLines:    cfg.Runner.ContextLines,
			Prompts:     loader,
		},
		ProviderBaseURL: client.BaseURL(),
		Logger:          logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	wsOpts := []workspace.Option{
		workspace.WithCloneDepth(cfg.Runner.CloneDepth),
		workspace.WithLogger(logger),
	}
	if cfg.Runner.SkipInstall {
		wsOpts = append(wsOpts, workspace.WithoutInstall())
	}

	ctrl := repotest.NewController(
		registry,
		workspace.NewManager(cfg.General.ScratchDir, wsOpts...),
		testrun.NewRunner(cfg.Runner.MaxOutput),
		store,
		repotest.Options{
			RetryExcerpt: cfg.Runner.RetryExcerpt,
			ToolExcerpt:  cfg.Runner.ToolExcerpt,
			StepTimeout:  cfg.Runner.StepTimeout.Duration,
			Prompts:      loader,
			Logger:       logger,
		},
	)

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier())
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	return &app{
		cfg:               cfg,
		store:             store,
		ctrl:              ctrl,
		notifier:          notify.NewMultiNotifier(notifiers...),
		logger:            logger,
		shutdownTelemetry: shutdown,
	}, nil
}

// batch returns a coordinator; quiet ones never send notifications
func (a *app) batch(quiet bool) *repotest.Batch {
	opts := repotest.BatchOptions{
		MaxParallel: a.cfg.Runner.MaxParallel,
		Logger:      a.logger,
	}
	if !quiet {
		opts.Notifier = a.notifier
	}
	return repotest.NewBatch(a.ctrl, opts)
}

func (a *app) Close() error {
	var errs []error
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(context.Background()))
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
