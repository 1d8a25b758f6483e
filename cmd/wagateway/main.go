// Command wagateway serves the WhatsApp send gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/broadcastio/wagateway/pkg/api"
	"github.com/broadcastio/wagateway/pkg/attachment"
	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/config"
	"github.com/broadcastio/wagateway/pkg/delivery"
	"github.com/broadcastio/wagateway/pkg/events"
	"github.com/broadcastio/wagateway/pkg/logger"
	"github.com/broadcastio/wagateway/pkg/send"
	"github.com/broadcastio/wagateway/pkg/session"
	"github.com/broadcastio/wagateway/pkg/whatsapp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	envPath := flag.String("env", ".env", "Path to .env file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	if err := run(*configPath, *envPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "wagateway: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, port int) error {
	if err := loadDotEnv(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Gateway.Port = port
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.Configure(os.Stderr, cfg.Log.Format, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	manager := session.NewManager(session.QRFileSink{Path: cfg.WhatsApp.QRPath}, msgBus)
	client := whatsapp.NewBridgeClient(whatsapp.BridgeConfig{
		URL:          cfg.WhatsApp.BridgeURL,
		ReconnectMin: cfg.WhatsApp.ReconnectMin,
		ReconnectMax: cfg.WhatsApp.ReconnectMax,
	})

	opts := send.Options{
		Timeout:  cfg.WhatsApp.SendTimeout,
		Resolver: attachment.Resolver{AllowedDir: cfg.WhatsApp.AttachmentDir},
		Bus:      msgBus,
	}

	// Interfaces stay nil when the log is disabled.
	var (
		deliveries api.DeliveryLog
		stats      delivery.StatsSource
	)
	if cfg.Delivery.DBPath != "" {
		store, err := delivery.Open(cfg.Delivery.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
		deliveries = store
		stats = store
	}

	if cfg.Delivery.StatusCron != "" {
		reporter, err := delivery.NewReporter(cfg.Delivery.StatusCron, manager, stats, msgBus)
		if err != nil {
			return err
		}
		go reporter.Run(ctx)
	}

	pipeline := send.NewPipeline(manager, client, opts)

	go client.Run(ctx)
	go manager.Run(ctx, client.Events())

	server := api.NewServer(cfg, manager, pipeline, deliveries, msgBus)
	if err := server.Start(ctx); err != nil {
		return err
	}

	msgBus.PublishSystem(events.New(events.SystemStarted, "main", events.SystemEventData{
		State:   manager.State().String(),
		Message: "gateway listening on " + cfg.Addr(),
	}))
	logger.InfoCF("main", "Gateway started", map[string]interface{}{
		"addr":   cfg.Addr(),
		"bridge": cfg.WhatsApp.BridgeURL,
	})

	<-ctx.Done()

	logger.InfoC("main", "Shutting down")
	msgBus.PublishSystem(events.New(events.SystemStopping, "main", events.SystemEventData{
		State: manager.State().String(),
		Ready: manager.IsReady(),
	}))
	if err := server.Stop(); err != nil {
		logger.ErrorCF("main", "Server shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	// Run must be out of Apply before the scan writers are awaited.
	<-manager.Done()
	manager.WaitScans()
	return nil
}

// loadDotEnv merges path into the environment. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
