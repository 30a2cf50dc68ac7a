package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/kestrelworks/stagecraft/internal/api"
	"github.com/kestrelworks/stagecraft/internal/checks"
	"github.com/kestrelworks/stagecraft/internal/config"
	"github.com/kestrelworks/stagecraft/internal/exec"
	"github.com/kestrelworks/stagecraft/internal/implement"
	"github.com/kestrelworks/stagecraft/internal/pipeline"
	"github.com/kestrelworks/stagecraft/internal/plan"
	"github.com/kestrelworks/stagecraft/internal/ratelimit"
	"github.com/kestrelworks/stagecraft/internal/signal"
	"github.com/kestrelworks/stagecraft/internal/status"
	"github.com/kestrelworks/stagecraft/internal/store"
	"github.com/kestrelworks/stagecraft/internal/validation"
)

// runtime bundles everything a pipeline command needs.
type runtime struct {
	orchestrator *pipeline.Orchestrator
	store        store.HandoffStore
	watcher      *signal.Watcher
	usage        *api.TokenTracker
	closers      []func() error
}

func (rt *runtime) close() {
	if rt.watcher != nil {
		rt.watcher.Close()
	}
	for _, closer := range rt.closers {
		closer()
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// buildRuntime wires the configured stages, store, checks and sinks
// into an orchestrator rooted at the target directory.
func buildRuntime(cfg *config.Config, target string) (*runtime, error) {
	rt := &runtime{}

	handoffs, closer, err := openStore(cfg, target)
	if err != nil {
		return nil, err
	}
	rt.store = handoffs
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	producer, usage, err := buildProducer(cfg)
	if err != nil {
		return nil, err
	}
	rt.usage = usage

	providers, err := checks.Build(cfg.Checks, exec.NewRunner(), target)
	if err != nil {
		return nil, fmt.Errorf("configure checks: %w", err)
	}
	evaluator, err := validation.NewEvaluator(providers)
	if err != nil {
		return nil, fmt.Errorf("configure evaluator: %w", err)
	}

	var executor implement.StepExecutor = implement.LogExecutor{}
	if cfg.Implement.Command != "" {
		executor = implement.NewCommandExecutor(cfg.Implement.Command)
	}

	orchestratorCfg := pipeline.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
		Sleep:       time.Sleep,
	}
	rt.orchestrator = pipeline.New(
		plan.NewStage(producer),
		validation.NewStage(evaluator),
		implement.NewStage(executor, evaluator, target),
		handoffs,
		orchestratorCfg,
	)

	if cfg.Status.Dir != "" {
		sink, err := status.NewFileSink(resolvePath(target, cfg.Status.Dir))
		if err != nil {
			return nil, fmt.Errorf("configure status sink: %w", err)
		}
		rt.orchestrator.SetSink(sink)
	}

	watcher, err := signal.NewWatcher(target)
	if err != nil {
		return nil, fmt.Errorf("configure signal watcher: %w", err)
	}
	rt.watcher = watcher
	rt.orchestrator.SetCancelChecker(watcher)

	return rt, nil
}

func openStore(cfg *config.Config, target string) (store.HandoffStore, func() error, error) {
	if cfg.Store.Path == "" {
		return store.NewMemoryStore(), nil, nil
	}
	s, err := store.Open(resolvePath(target, cfg.Store.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("open handoff store: %w", err)
	}
	return s, s.Close, nil
}

// buildProducer also returns the client's token tracker when the
// producer talks to the API; it is nil for local producers.
func buildProducer(cfg *config.Config) (plan.Producer, *api.TokenTracker, error) {
	switch cfg.Producer.Kind {
	case "file":
		if cfg.Producer.PlanFile == "" {
			return nil, nil, fmt.Errorf("producer.plan_file is required for the file producer")
		}
		return plan.NewFileProducer(cfg.Producer.PlanFile), nil, nil

	case "claude":
		apiKey, err := config.GetAPIKey(cfg)
		if err != nil && !cfg.Anthropic.UseBedrock {
			return nil, nil, err
		}
		client, err := api.NewClient(api.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        apiKey,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create API client: %w", err)
		}
		limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		return api.NewPlanner(client, limiter), client.Tracker(), nil

	default:
		return nil, nil, fmt.Errorf("unknown producer kind %q", cfg.Producer.Kind)
	}
}

func resolvePath(target, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(target, path)
}

func workingDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}
