package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/config"
	"github.com/hochfrequenz/repo-rlm/internal/engine"
	"github.com/hochfrequenz/repo-rlm/internal/executor"
	"github.com/hochfrequenz/repo-rlm/internal/logging"
	"github.com/hochfrequenz/repo-rlm/internal/notify"
	"github.com/hochfrequenz/repo-rlm/internal/prompts"
)

// CatalogFile is the sqlite run index inside the state directory
const CatalogFile = "catalog.db"

// app bundles the engine with the resources it holds open
type app struct {
	cfg      *config.Config
	root     string
	stateDir string
	engine   *engine.Engine
	catalog  *catalog.Store
	log      *logging.Logger
}

func loadConfig(root string) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindLocalConfig(root)
	}
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func openApp() (*app, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}

	stateDir := cfg.StatePath(root)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	log, err := logging.NewLogger(stateDir, cfg.General.LogLevel)
	if err != nil {
		return nil, err
	}

	exec, err := buildExecutor(cfg, stateDir)
	if err != nil {
		log.Close()
		return nil, err
	}

	cat, err := catalog.New(filepath.Join(stateDir, CatalogFile))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	eng, err := engine.New(engine.Options{
		StateDir:  stateDir,
		Defaults:  cfg.Defaults,
		Partition: cfg.Partition.Limits(),
		Executor:  exec,
		Catalog:   cat,
		Notifier:  notify.New(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook),
		Logger:    log,
	})
	if err != nil {
		cat.Close()
		log.Close()
		return nil, err
	}

	return &app{cfg: cfg, root: root, stateDir: stateDir, engine: eng, catalog: cat, log: log}, nil
}

func (a *app) Close() {
	a.catalog.Close()
	a.log.Close()
}

func buildExecutor(cfg *config.Config, stateDir string) (executor.TaskExecutor, error) {
	switch cfg.Executor.Kind {
	case "claude":
		timeout := time.Duration(cfg.Claude.TimeoutSeconds) * time.Second
		return executor.NewClaude(cfg.Claude.Binary, cfg.Claude.Model, timeout, prompts.DefaultLoader(stateDir)), nil
	case "heuristic", "":
		var rules []executor.Rule
		if cfg.Executor.RulesFile != "" {
			loaded, err := executor.LoadRules(cfg.Executor.RulesFile)
			if err != nil {
				return nil, fmt.Errorf("load review rules: %w", err)
			}
			rules = loaded
		}
		return executor.NewHeuristic(rules)
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Executor.Kind)
	}
}
