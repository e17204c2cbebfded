package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/logger"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/poller"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "config file path")
	host := flag.String("host", "", "scanner host (overrides config)")
	port := flag.Int("port", 0, "scanner TCP port (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SDS200 poller v%s (Build: %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		cfg = config.GetDefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "using default config")
	}
	if *host != "" {
		cfg.Scanner.Host = *host
	}
	if *port != 0 {
		cfg.Scanner.Port = *port
	}

	log := logger.Setup(cfg.Log)
	log.Infof("SDS200 poller v%s starting", Version)
	log.Infof("config file: %s", *configFile)

	svc, err := poller.NewService(cfg, log)
	if err != nil {
		log.Fatalf("failed to create poller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("poller failed: %v", err)
	}
}
