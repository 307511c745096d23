package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/HKUDS/imagebot-go/pkg/bus"
	"github.com/HKUDS/imagebot-go/pkg/channels"
	"github.com/HKUDS/imagebot-go/pkg/config"
	"github.com/HKUDS/imagebot-go/pkg/cron"
	"github.com/HKUDS/imagebot-go/pkg/dialog"
	"github.com/HKUDS/imagebot-go/pkg/imagegen"
	"github.com/HKUDS/imagebot-go/pkg/session"
	"github.com/HKUDS/imagebot-go/pkg/utils"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "run":
		err = runBot(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	case "onboard":
		err = runOnboard(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: imagebot <command> [args]")
	fmt.Println("Commands: run, generate, onboard")
}

// setup loads the config and builds the logger. The returned closer flushes the
// log file.
func setup(configPath string) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("loading config: %w", err)
	}
	logger, closer, err := utils.SetupLogger(cfg.Log.Dir, cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("setting up logger: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}
	return cfg, logger, closer, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBot(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	cfg, logger, closer, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.RequireTelegram(); err != nil {
		logger.Error().Err(err).Msg("cannot start without a Telegram token")
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	preferred, err := imagegen.ParseProvider(cfg.Generation.PreferredProvider)
	if err != nil {
		return err
	}

	messageBus := bus.NewMessageBus()
	sessions := session.NewManager(preferred)
	tgChannel := channels.NewTelegramChannel(&cfg.Telegram, messageBus, &logger)
	controller := dialog.NewController(
		messageBus,
		sessions,
		newOrchestrator(cfg, logger),
		newRetrier(cfg, logger),
		tgChannel,
		&logger,
	)

	cronService := cron.NewService(&logger)
	if err := cronService.Add("prune-sessions", cfg.Session.PruneSchedule, func(context.Context) {
		if n := sessions.Prune(cfg.Session.IdleTTL); n > 0 {
			logger.Debug().Int("removed", n).Msg("pruned idle sessions")
		}
	}); err != nil {
		return err
	}
	cronService.Start()
	defer cronService.Stop()

	if err := tgChannel.Start(ctx); err != nil {
		return fmt.Errorf("starting Telegram channel: %w", err)
	}

	logger.Info().Str("preferred_provider", string(preferred)).Msg("bot started, press Ctrl+C to stop")
	done := make(chan struct{})
	go func() {
		controller.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	tgChannel.Stop()
	messageBus.Stop()
	<-done
	return nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	prompt := fs.String("p", "", "Image prompt")
	providerName := fs.String("provider", "", "Preferred provider: stability or huggingface")
	output := fs.String("o", "image.png", "Output file")
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	cfg, logger, closer, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	if *providerName == "" {
		*providerName = cfg.Generation.PreferredProvider
	}
	preferred, err := imagegen.ParseProvider(*providerName)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	result, err := newOrchestrator(cfg, logger).Orchestrate(ctx, *prompt, preferred)
	if err != nil {
		return err
	}
	if !result.Outcome.Succeeded() {
		return fmt.Errorf("generation failed (%s): %w", result.Outcome.Reason(), result.Outcome.Err())
	}

	if err := os.WriteFile(*output, result.Outcome.Image(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", *output, err)
	}
	fmt.Printf("Prompt: %s\nTranslation: %s\nProvider: %s\nSaved to %s\n",
		result.Request.RawPrompt, result.Request.TranslatedPrompt, result.Provider.Label(), *output)
	return nil
}

func runOnboard(args []string) error {
	fs := flag.NewFlagSet("onboard", flag.ExitOnError)
	configPath := fs.String("c", config.DefaultPath(), "Path to config file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Printf("Config file already exists at %s\n", *configPath)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.DefaultConfig().Save(*configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	fmt.Printf("Created config file at %s\n", *configPath)
	fmt.Println("Set TELEGRAM_TOKEN, STABILITY_API_KEY and HF_TOKEN in the environment or a .env file.")
	return nil
}
