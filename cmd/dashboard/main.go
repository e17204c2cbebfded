package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/control"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/logger"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		cfg = config.GetDefaultConfig()
		fmt.Fprintln(os.Stderr, "using default config")
	}
	if *listen != "" {
		cfg.Control.Listen = *listen
	}

	log := logger.Setup(cfg.Log)

	reader, closeReader, err := snapshotReader(cfg, log)
	if err != nil {
		log.Fatalf("failed to open snapshot source: %v", err)
	}
	defer closeReader()

	supervisor := control.NewSupervisor(cfg.Control.Command, cfg.Control.StopTimeout, log)
	server := &http.Server{
		Addr:              cfg.Control.Listen,
		Handler:           control.NewServer(supervisor, reader, cfg.Control.WebRoot, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("dashboard running on http://%s", cfg.Control.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("dashboard server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down dashboard")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Control.StopTimeout+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("dashboard shutdown: %v", err)
	}
	if err := supervisor.Stop(shutdownCtx); err != nil {
		log.Errorf("stop poller: %v", err)
	}
}

// snapshotReader reads from Redis when the poller publishes there, otherwise
// from the snapshot file.
func snapshotReader(cfg *config.Config, log *logrus.Logger) (storage.Reader, func(), error) {
	if cfg.Publish.Redis.Enabled {
		mq, err := storage.NewMessageQueue(cfg.Publish.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		return mq, func() { mq.Close() }, nil
	}
	return storage.NewFileStore(cfg.Publish.FilePath, log), func() {}, nil
}
