package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/internal/monitor"
	"serial-logger/internal/parser"
	"serial-logger/internal/storage"
	"serial-logger/pkg/protocol"
)

// Recorder persists one event and returns the resulting EVENT count.
type Recorder interface {
	Append(ctx context.Context, e *protocol.Event) (int, error)
}

type LineHandler struct {
	source     string
	parser     *parser.Parser
	history    Recorder
	publishers []storage.Publisher
	policy     string
	log        *logrus.Logger
}

func NewLineHandler(
	source string,
	parser *parser.Parser,
	history Recorder,
	publishers []storage.Publisher,
	policy string,
	log *logrus.Logger,
) *LineHandler {
	if policy == "" {
		policy = config.PolicyFail
	}
	return &LineHandler{
		source:     source,
		parser:     parser,
		history:    history,
		publishers: publishers,
		policy:     policy,
		log:        log,
	}
}

// Handle processes one raw line. Empty readings are dropped. A malformed
// line is returned as an error under the fail policy and dropped under the
// skip policy. A history failure is always returned; publisher failures
// are only logged.
func (h *LineHandler) Handle(ctx context.Context, raw []byte) error {
	monitor.LinesRead.Inc()
	monitor.BytesReceived.Add(float64(len(raw)))

	result := h.parser.Parse(h.source, raw)

	if result.Error != nil {
		return h.Reject(result.Error)
	}

	if result.Skipped {
		monitor.LinesSkipped.WithLabelValues(monitor.ReasonEmpty).Inc()
		h.log.Tracef("Empty line [%s]", h.source)
		return nil
	}

	h.log.WithField("fields", result.Reading.Fields).Debugf("Reading [%s]", h.source)

	return h.record(ctx, result.Data)
}

// Reject applies the malformed-line policy to a line that could not be
// used: nil under skip, the wrapped cause under fail.
func (h *LineHandler) Reject(cause error) error {
	monitor.Errors.WithLabelValues(monitor.StageParse).Inc()
	if h.policy == config.PolicySkip {
		monitor.LinesSkipped.WithLabelValues(monitor.ReasonMalformed).Inc()
		h.log.Warnf("Dropping malformed line [%s]: %v", h.source, cause)
		return nil
	}
	return fmt.Errorf("parse line from %s: %w", h.source, cause)
}

func (h *LineHandler) record(ctx context.Context, event *protocol.Event) error {
	startTime := time.Now()

	count, err := h.history.Append(ctx, event)
	if err != nil {
		monitor.Errors.WithLabelValues(monitor.StageHistory).Inc()
		return fmt.Errorf("record event: %w", err)
	}

	duration := time.Since(startTime).Seconds()
	monitor.AppendDuration.Observe(duration)
	monitor.EventsRecorded.Inc()
	monitor.HistoryEvents.Set(float64(count))

	h.log.Debugf("Recorded event [%s]: %s:%s:%s:%s:%s at %s, total=%d, took=%.3fms",
		h.source,
		event.Byte0,
		event.Byte1,
		event.Byte2,
		event.Byte3,
		event.Act,
		event.DateTime,
		count,
		duration*1000,
	)

	for _, p := range h.publishers {
		if err := p.Publish(ctx, event); err != nil {
			monitor.Errors.WithLabelValues(monitor.StagePublish).Inc()
			h.log.Errorf("Publish to %s failed [%s]: %v", p.Name(), h.source, err)
			continue
		}
		monitor.EventsPublished.WithLabelValues(p.Name()).Inc()
	}

	return nil
}
