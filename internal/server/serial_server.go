package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/internal/handler"
	"serial-logger/internal/history"
	"serial-logger/internal/monitor"
	"serial-logger/internal/parser"
	"serial-logger/internal/serialport"
	"serial-logger/internal/storage"
	"serial-logger/pkg/protocol"
)

// LineSource yields one line per call, or an empty line when the read
// timed out.
type LineSource interface {
	Name() string
	ReadLine() ([]byte, error)
	Close() error
}

type SerialServer struct {
	config     *config.Config
	source     LineSource
	handler    *handler.LineHandler
	history    *history.Store
	publishers []storage.Publisher
	monitor    *monitor.Monitor
	log        *logrus.Logger
}

// NewSerialServer opens the port, checks the history file and connects
// the enabled publishers. A missing or unreadable history fails here,
// before any line is read.
func NewSerialServer(cfg *config.Config, log *logrus.Logger) (*SerialServer, error) {
	store := history.NewStore(cfg.History, log)
	if cfg.History.CreateIfMissing {
		if _, err := store.Init(); err != nil {
			return nil, err
		}
	}
	count, err := store.Count()
	if err != nil {
		return nil, err
	}
	monitor.HistoryEvents.Set(float64(count))
	log.Infof("History %s holds %d events", store.Path(), count)

	var publishers []storage.Publisher
	if cfg.Redis.Enabled {
		mq, err := storage.NewMessageQueue(cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, mq)
	}
	if cfg.MQTT.Enabled {
		mp, err := storage.ConnectMQTT(cfg.MQTT, log)
		if err != nil {
			closePublishers(publishers, log)
			return nil, err
		}
		publishers = append(publishers, mp)
	}

	port, err := serialport.Open(cfg.Serial)
	if err != nil {
		closePublishers(publishers, log)
		return nil, err
	}
	log.Infof("Serial port %s opened (%d baud, read timeout %s)", cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.ReadTimeout)

	return newSerialServer(cfg, port, store, publishers, log), nil
}

func newSerialServer(
	cfg *config.Config,
	source LineSource,
	store *history.Store,
	publishers []storage.Publisher,
	log *logrus.Logger,
) *SerialServer {
	h := handler.NewLineHandler(
		source.Name(),
		parser.NewParser(),
		store,
		publishers,
		cfg.Parser.OnMalformed,
		log,
	)

	return &SerialServer{
		config:     cfg,
		source:     source,
		handler:    h,
		history:    store,
		publishers: publishers,
		monitor:    monitor.NewMonitor(log),
		log:        log,
	}
}

// Start runs until SIGINT or SIGTERM, then releases every resource.
func (s *SerialServer) Start() error {
	if s.config.Monitor.Enabled {
		s.monitor.StartMetricsServer(s.config.Monitor.MetricsPort)
		s.monitor.StartRuntimeMonitor()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := s.Run(ctx)
	if runErr == nil {
		s.log.Info("Shutdown signal received")
	}

	if err := s.Close(); err != nil {
		s.log.Errorf("Close failed: %v", err)
	}

	s.log.Info("Logger stopped")
	return runErr
}

// Run reads and records one line per iteration until ctx is cancelled.
// The context is checked before each read; the read itself returns at
// least once per serial read timeout. An over-long line goes through the
// malformed-line policy like a short one.
func (s *SerialServer) Run(ctx context.Context) error {
	s.log.Infof("Logging %s to %s", s.source.Name(), s.history.Path())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := s.source.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			if err := s.handler.Reject(err); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			monitor.Errors.WithLabelValues(monitor.StageRead).Inc()
			return fmt.Errorf("read from %s: %w", s.source.Name(), err)
		}

		// A line already read is recorded even if shutdown began meanwhile.
		if err := s.handler.Handle(context.WithoutCancel(ctx), line); err != nil {
			return err
		}
	}
}

// Close releases the serial port, the publishers and the metrics server.
func (s *SerialServer) Close() error {
	var errs []error

	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.source.Name(), err))
	}
	errs = append(errs, closePublishers(s.publishers, s.log)...)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.monitor.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop monitor: %w", err))
	}

	return errors.Join(errs...)
}

func closePublishers(publishers []storage.Publisher, log *logrus.Logger) []error {
	var errs []error
	for _, p := range publishers {
		if err := p.Close(); err != nil {
			log.Errorf("Close %s publisher failed: %v", p.Name(), err)
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errs
}

var _ LineSource = (*serialport.Port)(nil)
