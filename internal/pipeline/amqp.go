package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/scanline/fingerprinter/internal/model"
)

// CloudEvent is the CNCF CloudEvents 1.0 envelope used by the optional
// AMQP sink, matching the teacher's publisher.CloudEvent shape.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	ID              string      `json:"id"`
	Time            string      `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`
}

// scanReportEventData is the CloudEvent payload for one completed session.
type scanReportEventData struct {
	Domain      string                  `json:"domain,omitempty"`
	IP          string                  `json:"ip"`
	TotalTimeMs int64                   `json:"total_time_ms"`
	Protocols   []model.ProtocolResult `json:"protocols"`
}

// amqpSink publishes one CloudEvent per ScanReport to a RabbitMQ
// exchange. Each publish blocks the writer for at most its 5-second
// timeout; a publish failure is logged and never fails the
// file-format writer (spec.md §7 "Output-write-failure" policy,
// SPEC_FULL.md §8.3).
type amqpSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.SugaredLogger
}

func newAMQPSink(url, exchange string, logger *zap.SugaredLogger) (*amqpSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp sink: connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp sink: open channel: %w", err)
	}

	return &amqpSink{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

func (s *amqpSink) Close() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *amqpSink) publish(report model.ScanReport) {
	event := CloudEvent{
		SpecVersion:     "1.0",
		Type:            "fingerprint.target.scanned",
		Source:          "/fingerprinter/scanner",
		ID:              uuid.New().String(),
		Time:            time.Now().UTC().Format(time.RFC3339),
		DataContentType: "application/json",
		Data: scanReportEventData{
			Domain:      report.Target.HostName,
			IP:          report.Target.ResolvedIP,
			TotalTimeMs: report.TotalTimeMs,
			Protocols:   report.Protocols,
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Warnw("amqp sink: marshal failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.channel.PublishWithContext(ctx, s.exchange, "target.scanned", false, false, amqp.Publishing{
		ContentType: "application/cloudevents+json",
		Body:        body,
		MessageId:   event.ID,
		Timestamp:   time.Now(),
	})
	if err != nil {
		s.logger.Warnw("amqp sink: publish failed", "error", err, "event_id", event.ID)
		return
	}

	s.logger.Debugw("event published", "type", event.Type, "id", event.ID)
}
