package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/platescan/platescan/internal/blob"
	"github.com/platescan/platescan/internal/channel"
	"github.com/platescan/platescan/internal/config"
	"github.com/platescan/platescan/internal/diag"
	"github.com/platescan/platescan/internal/session"
	"github.com/platescan/platescan/internal/upload"
	"github.com/platescan/platescan/internal/view"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	logPath := flag.String("log", "platescan.log", "Path to log file (the TUI owns the terminal)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(logFile).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.HasCredentials() {
		log.Warn().Msg("no storage credentials configured; relying on the AWS default chain")
	}

	diag.LogStartup(log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := blob.NewS3Store(ctx, cfg.Storage.Bucket, cfg.Storage.Region,
		cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage setup: %v\n", err)
		os.Exit(1)
	}

	coordinator := upload.NewCoordinator(store, cfg.Upload.PartSize, cfg.Upload.Concurrency)
	manager := channel.NewManager(cfg.Channel.Endpoint)
	defer manager.Close()

	events := make(chan tea.Msg, 32)
	controller := session.NewController(coordinator, manager, cfg.Storage.Bucket,
		cfg.Channel.ResultWindow, func(s session.Status) {
			pushEvent(events, view.StatusMsg(s))
		})
	defer controller.Close()

	manager.OnMessage(controller.HandleFrame)
	manager.OnStateChange(func(s channel.State, err error) {
		controller.HandleChannelState(s, err)
		pushEvent(events, view.ConnStateMsg{State: s})
	})

	// One connect attempt per process lifetime; a failed dial leaves the
	// channel disconnected and sends failing until restart.
	go func() {
		if err := manager.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("channel connect failed")
		}
	}()

	program := tea.NewProgram(
		view.New(ctx, controller, events, cfg.UI.StartDir),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("ui error")
		os.Exit(1)
	}
	log.Info().Msg("shutting down")
}

// pushEvent delivers msg without ever blocking a controller callback. When
// the buffer is full the oldest event is dropped; the latest status wins.
func pushEvent(ch chan tea.Msg, msg tea.Msg) {
	select {
	case ch <- msg:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}
