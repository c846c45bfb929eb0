package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"guardian-server/pkg/errors"
	"guardian-server/pkg/metrics"
)

// AMQPConfig holds the audit queue settings
type AMQPConfig struct {
	URL       string
	QueueName string
}

// AMQPLog publishes audit records to a durable AMQP queue. While the
// broker is unreachable, records accumulate in a bounded memory buffer and
// are flushed after reconnect. Append never returns an error: audit
// failures are logged, not propagated.
type AMQPLog struct {
	config    AMQPConfig
	logger    *logrus.Logger
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.Mutex
	fallback  *MemoryBuffer
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewAMQPLog creates the audit log. With no URL configured the log runs in
// buffer-only mode and records are kept in memory until shutdown.
func NewAMQPLog(config AMQPConfig, logger *logrus.Logger) *AMQPLog {
	if config.QueueName == "" {
		config.QueueName = "guardian.alerts"
	}

	log := &AMQPLog{
		config:   config,
		logger:   logger,
		fallback: NewMemoryBuffer(1000),
		stopChan: make(chan struct{}),
	}

	if config.URL == "" {
		logger.Warn("AMQP_URL not set, audit records will only be buffered in memory")
		return log
	}

	if err := log.connect(); err != nil {
		logger.WithError(err).Warning("Audit log starting disconnected, will retry in background")
	}
	go log.monitorConnection()

	return log
}

// connect establishes the AMQP connection and declares the durable queue
func (l *AMQPLog) connect() error {
	l.connMutex.Lock()
	defer l.connMutex.Unlock()

	if l.connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(l.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	select {
	case result := <-connChan:
		if result.err != nil {
			return fmt.Errorf("failed to connect to AMQP server: %w", result.err)
		}
		conn = result.conn
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		l.config.QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare audit queue: %w", err)
	}

	l.conn = conn
	l.channel = channel
	l.connected = true

	l.logger.WithField("queue", l.config.QueueName).Info("Audit log connected to AMQP")
	return nil
}

// monitorConnection reconnects after failures and flushes the fallback
// buffer once the broker is reachable again
func (l *AMQPLog) monitorConnection() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.connMutex.Lock()
			connected := l.connected
			l.connMutex.Unlock()

			if !connected {
				if err := l.connect(); err != nil {
					l.logger.WithError(err).Debug("Audit log reconnect attempt failed")
					continue
				}
			}
			l.flushFallback()
		}
	}
}

// flushFallback republishes buffered records in order
func (l *AMQPLog) flushFallback() {
	for {
		batch := l.fallback.Drain(50)
		if len(batch) == 0 {
			return
		}
		for i, record := range batch {
			if err := l.publish(record); err != nil {
				// Put the unpublished remainder back in front of anything
				// buffered meanwhile and give up this round
				l.fallback.Restore(batch[i:])
				return
			}
		}
		l.logger.WithField("count", len(batch)).Info("Flushed buffered audit records")
	}
}

// Append publishes a record, falling back to the memory buffer on any
// failure. It never blocks the caller on broker trouble.
func (l *AMQPLog) Append(record Record) {
	if err := l.publish(record); err != nil {
		l.fallback.Store(record)
		metrics.RecordAuditWrite("buffered")
		l.logger.WithError(err).WithFields(logrus.Fields{
			"alert_id": record.AlertID,
			"buffered": l.fallback.Len(),
		}).Warning("Audit record buffered, broker unavailable")
		return
	}

	metrics.RecordAuditWrite("published")
	l.logger.WithFields(logrus.Fields{
		"alert_id":   record.AlertID,
		"alert_type": record.AlertType,
		"status":     record.Status,
	}).Debug("Audit record published")
}

func (l *AMQPLog) publish(record Record) error {
	l.connMutex.Lock()
	defer l.connMutex.Unlock()

	if !l.connected {
		return errors.Wrap(errors.ErrAuditUnavailable, "audit log not connected")
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	err = l.channel.Publish(
		"",                 // default exchange
		l.config.QueueName, // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    record.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		// Publish failures usually mean the connection died underneath us
		l.connected = false
		return fmt.Errorf("failed to publish audit record: %w", err)
	}

	return nil
}

// BufferedCount returns the number of records waiting in the fallback
func (l *AMQPLog) BufferedCount() int {
	return l.fallback.Len()
}

// Close stops the reconnect loop and closes the AMQP connection
func (l *AMQPLog) Close() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})

	l.connMutex.Lock()
	defer l.connMutex.Unlock()

	if l.channel != nil {
		l.channel.Close()
	}
	if l.conn != nil {
		l.conn.Close()
	}
	l.connected = false

	if buffered := l.fallback.Len(); buffered > 0 {
		l.logger.WithField("count", buffered).Warning("Audit log closed with unpublished records")
	}
}
