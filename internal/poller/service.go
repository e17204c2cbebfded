package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/link"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/monitor"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/snapshot"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/storage"
	"github.com/sirupsen/logrus"
)

// Service wires a Poller to its link, sinks and metrics from configuration.
type Service struct {
	config     *config.Config
	poller     *Poller
	store      *snapshot.Store
	publishers []storage.Publisher
	monitor    *monitor.Monitor
	log        *logrus.Logger
}

func NewService(cfg *config.Config, log *logrus.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store := snapshot.NewStore()
	publishers := []storage.Publisher{store}

	if cfg.Publish.FilePath != "" {
		publishers = append(publishers, storage.NewFileStore(cfg.Publish.FilePath, log))
	}

	if cfg.Publish.Redis.Enabled {
		mq, err := storage.NewMessageQueue(cfg.Publish.Redis, log)
		if err != nil {
			closeAll(publishers, log)
			return nil, err
		}
		publishers = append(publishers, mq)
	}

	if cfg.Publish.MQTT.Enabled {
		pub, err := storage.NewMQTTPublisher(cfg.Publish.MQTT, log)
		if err != nil {
			closeAll(publishers, log)
			return nil, err
		}
		publishers = append(publishers, pub)
	}

	scanner := link.NewLink(cfg.Scanner, log)

	return &Service{
		config:     cfg,
		poller:     NewPoller(cfg.Poller, scanner, log, publishers...),
		store:      store,
		publishers: publishers,
		monitor:    monitor.NewMonitor(log),
		log:        log,
	}, nil
}

// Store exposes the in-memory snapshot for in-process readers.
func (s *Service) Store() *snapshot.Store {
	return s.store
}

// Run blocks until ctx is cancelled, then releases the sinks.
func (s *Service) Run(ctx context.Context) error {
	if s.config.Monitor.Enabled {
		s.monitor.StartMetricsServer(s.config.Monitor.MetricsPort)
		s.monitor.StartRuntimeMonitor(ctx, 10*time.Second)
	}

	s.log.Infof("polling scanner at %s", s.config.Scanner.Addr())
	err := s.poller.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.monitor.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("error stopping metrics server: %v", err)
	}

	closeAll(s.publishers, s.log)
	s.log.Info("poller stopped")
	return err
}

func closeAll(publishers []storage.Publisher, log *logrus.Logger) {
	for _, pub := range publishers {
		if err := pub.Close(); err != nil {
			log.Errorf("error closing %s sink: %v", pub.Name(), err)
		}
	}
}
