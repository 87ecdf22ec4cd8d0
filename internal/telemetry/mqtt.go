// Package telemetry publishes capture session status to an MQTT broker so
// fleet tooling can see what each kiosk is doing.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dudu/facecap/internal/capture"
	"github.com/dudu/facecap/internal/config"
)

const (
	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second
	queueSize      = 64
)

// Status is the JSON payload published for each transition
type Status struct {
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Terminal  bool      `json:"terminal"`
	At        time.Time `json:"at"`
}

// NewStatus builds the payload for a transition
func NewStatus(deviceID string, t capture.Transition) Status {
	return Status{
		DeviceID:  deviceID,
		SessionID: t.SessionID,
		From:      t.From.String(),
		To:        t.To.String(),
		Reason:    string(t.Reason),
		Terminal:  t.To.Terminal(),
		At:        t.At.UTC(),
	}
}

// client is the subset of mqtt.Client the publisher needs
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends session transitions to MQTT from a background goroutine.
// Publishing never blocks the capture loop; failures are logged and counted.
type Publisher struct {
	client   client
	topic    string
	qos      byte
	deviceID string
	logger   *slog.Logger

	disconnect func()

	queue chan Status
	wg    sync.WaitGroup
	once  sync.Once

	mu        sync.RWMutex
	published uint64
	dropped   uint64
	errors    uint64
}

// Stats contains publisher statistics
type Stats struct {
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// Connect dials the broker described by cfg and returns a running Publisher
func Connect(ctx context.Context, cfg config.TelemetryConfig, deviceID string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	offline, err := json.Marshal(Status{DeviceID: deviceID, To: "offline", At: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal will: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(cfg.Topic, string(offline), cfg.QoS, true)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker)
	}

	c := mqtt.NewClient(opts)
	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)

	token := c.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	p := NewPublisher(c, cfg.Topic, cfg.QoS, deviceID, logger)
	p.disconnect = func() {
		c.Disconnect(250)
		logger.Info("mqtt disconnected")
	}
	return p, nil
}

// NewPublisher starts a publisher on an existing client
func NewPublisher(c client, topic string, qos byte, deviceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		client:   c,
		topic:    topic,
		qos:      qos,
		deviceID: deviceID,
		logger:   logger,
		queue:    make(chan Status, queueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// OnTransition queues t for publishing. It is meant to be registered with
// capture.WithTransitionListener and never blocks.
func (p *Publisher) OnTransition(t capture.Transition) {
	select {
	case p.queue <- NewStatus(p.deviceID, t):
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Warn("telemetry queue full, dropping status",
			"session", t.SessionID,
			"to", t.To.String())
	}
}

// Close flushes queued statuses and disconnects. OnTransition must not be
// called after Close.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.queue)
		p.wg.Wait()
		if p.disconnect != nil {
			p.disconnect()
		}
	})
	return nil
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Published: p.published,
		Dropped:   p.dropped,
		Errors:    p.errors,
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for status := range p.queue {
		if err := p.publish(status); err != nil {
			p.mu.Lock()
			p.errors++
			p.mu.Unlock()
			p.logger.Warn("failed to publish status",
				"topic", p.topic,
				"to", status.To,
				"error", err)
			continue
		}
		p.mu.Lock()
		p.published++
		p.mu.Unlock()
	}
}

func (p *Publisher) publish(status Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	p.logger.Debug("status published",
		"topic", p.topic,
		"to", status.To,
		"size", len(payload))
	return nil
}
