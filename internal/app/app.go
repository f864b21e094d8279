package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/config"
	"github.com/billie-coop/personabot/internal/filter"
	"github.com/billie-coop/personabot/internal/llm"
	"github.com/billie-coop/personabot/internal/llm/queue"
	"github.com/billie-coop/personabot/internal/recorder"
)

// App holds all the core services shared by the front ends
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Blocked  *filter.BlockList
	Client   *llm.Client
	Recorder *recorder.Recorder // nil when call_log_path is empty
	Queue    *queue.Manager

	Roster   *character.Roster
	Registry *character.Registry
	Rotator  *character.Rotator
}

// New creates an app with all services initialized. Nothing is started.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	blocked, err := filter.Load(cfg.BlockedTermsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked terms: %w", err)
	}
	a.Blocked = blocked
	logger.Info("Loaded blocked terms", zap.String("path", cfg.BlockedTermsPath), zap.Int("terms", blocked.Len()))

	a.Client = llm.NewClient(cfg.APIURL,
		llm.WithAPIKey(cfg.APIKey),
		llm.WithTimeout(cfg.Timeout()),
		llm.WithRetries(cfg.TransportRetries),
		llm.WithLogger(logger.Named("llm")),
	)

	opts := []queue.ManagerOption{queue.WithLogger(logger.Named("queue"))}
	if cfg.CallLogPath != "" {
		rec, err := recorder.Open(cfg.CallLogPath, recorder.WithLogger(logger.Named("recorder")))
		if err != nil {
			return nil, fmt.Errorf("failed to open call log: %w", err)
		}
		a.Recorder = rec
		opts = append(opts, queue.WithObserver(rec))
		logger.Info("Recording attempts", zap.String("path", cfg.CallLogPath))
	}
	a.Queue = queue.NewManager(a.Client, blocked, cfg.Policy(), opts...)

	a.Roster = cfg.Roster()
	initial, _ := a.Roster.Get(character.DefaultID)
	a.Registry = character.NewRegistry(initial)
	a.Rotator = character.NewRotator(a.Roster, a.Registry, cfg.AutoSwitchCharacters, nil)
	a.Rotator.SetLogger(logger.Named("rotator"))

	a.Registry.OnChange(func(prev, next character.Character) {
		logger.Info("Current character changed",
			zap.String("from", prev.ID),
			zap.String("to", next.ID),
			zap.String("model", next.Model))
	})

	return a, nil
}

// Start starts the generation worker.
func (a *App) Start() error {
	return a.Queue.Start()
}

// Close stops the worker and releases the call log. Safe to call when
// Start was never called.
func (a *App) Close() error {
	var errs []error
	if err := a.Queue.Stop(); err != nil && !errors.Is(err, queue.ErrNotStarted) {
		errs = append(errs, err)
	}
	if a.Recorder != nil {
		if err := a.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close call log: %w", err))
		}
	}
	return errors.Join(errs...)
}
