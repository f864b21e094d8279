package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/billie-coop/personabot/internal/app"
	"github.com/billie-coop/personabot/internal/bot"
	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/config"
	"github.com/billie-coop/personabot/internal/console"
	"github.com/billie-coop/personabot/internal/llm"
	"github.com/billie-coop/personabot/internal/logging"
)

var (
	consoleLog         string
	consoleTemperature float64
	initForce          bool
)

// runCmd starts the Discord bot
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve requests",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

// consoleCmd starts the terminal front end
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the characters in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runConsole,
}

// checkCmd validates config and backend
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and probe the completion backend",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

// initCmd writes a starter config
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml and blocked terms file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.DiscordToken == "" {
		return errors.New("discord_token is empty; set it in the config or DISCORD_TOKEN")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Shutdown error", zap.Error(err))
		}
	}()

	b, err := bot.New(bot.Options{
		Token:            cfg.DiscordToken,
		Generator:        a.Queue,
		Roster:           a.Roster,
		Registry:         a.Registry,
		Rotator:          a.Rotator,
		RotateEvery:      cfg.CharacterChangeInterval(),
		AnnounceChannels: cfg.AnnounceChannels,
		ElevatedRoles:    cfg.ElevatedRoles,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start generation worker: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	err = b.Run(ctx)
	logger.Info("Shutting down")
	return err
}

func runConsole(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = logging.NewConsole(consoleLog, verbose)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Shutdown error", zap.Error(err))
		}
	}()
	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start generation worker: %w", err)
	}

	var temperature *float64
	if consoleTemperature > 0 {
		temperature = &consoleTemperature
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return console.Run(gctx, console.Options{
			Generator:   a.Queue,
			Roster:      a.Roster,
			Registry:    a.Registry,
			Temperature: temperature,
			Logger:      logger,
		})
	})
	g.Go(func() error {
		a.Rotator.Run(gctx, cfg.CharacterChangeInterval(), func(_ context.Context, ch character.Character) {
			a.Registry.Set(ch)
		})
		return nil
	})
	return g.Wait()
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config %s is valid (%d characters)\n", configPath, len(cfg.Characters))

	client := llm.NewClient(cfg.APIURL,
		llm.WithAPIKey(cfg.APIKey),
		llm.WithTimeout(10*time.Second),
		llm.WithRetries(0),
		llm.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("backend %s is not reachable: %w", cfg.APIURL, err)
	}
	fmt.Fprintf(out, "Backend %s is reachable\n", cfg.APIURL)

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	return reportModels(out, cfg, models)
}

// reportModels prints which configured models the backend serves. Missing
// models are warnings: some backends load models on demand.
func reportModels(out io.Writer, cfg *config.Config, models []llm.Model) error {
	roster := cfg.Roster()
	missing := 0
	for _, ch := range roster.All() {
		if llm.HasModel(models, ch.Model) {
			fmt.Fprintf(out, "  ok       %-12s %s\n", ch.ID, ch.Model)
			continue
		}
		missing++
		fmt.Fprintf(out, "  missing  %-12s %s\n", ch.ID, ch.Model)
	}
	if missing > 0 {
		fmt.Fprintf(out, "Warning: %d character model(s) not reported by the backend\n", missing)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.DiscordToken = "${DISCORD_TOKEN}"

	if err := writeIfAbsent(configPath, func() error { return cfg.Save(configPath) }); err != nil {
		return err
	}
	if err := writeIfAbsent(cfg.BlockedTermsPath, func() error {
		return os.WriteFile(cfg.BlockedTermsPath, nil, 0o644)
	}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", configPath, cfg.BlockedTermsPath)
	return nil
}

func writeIfAbsent(path string, write func() error) error {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	return write()
}
