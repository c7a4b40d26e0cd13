// Package mqtt publishes meeting lifecycle events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
	"github.com/cybeform/cybemeeting/internal/logging"
)

// Event types published under <topic>/meetings.
const (
	EventProcessingStarted = "processing-started"
	EventCompleted         = "completed"
	EventFailed            = "failed"
)

// Event is the JSON payload published for each meeting transition.
type Event struct {
	Type      string    `json:"type"`
	MeetingID string    `json:"meeting_id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the meeting event sink. A nil *Client is a valid no-op
// publisher.
type Publisher interface {
	PublishEvent(ctx context.Context, event Event) error
}

// Client wraps the paho MQTT client for meeting event publishing.
type Client struct {
	settings        *conf.MQTTSettings
	clientID        string
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	logger          *slog.Logger
}

const reconnectCooldown = 5 * time.Second

// NewClient creates an MQTT client from settings. Returns nil when MQTT is
// disabled.
func NewClient(settings *conf.MQTTSettings, clientID string) *Client {
	if !settings.Enabled {
		return nil
	}
	return &Client{
		settings: settings,
		clientID: clientID,
		logger:   logging.ForService("mqtt"),
	}
}

// Connect establishes the broker connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < reconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", time.Since(c.lastConnAttempt))
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.settings.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "parse_broker_url").
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("operation", "resolve_broker").
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.settings.Broker)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.logger.Info("connected to mqtt broker", "broker", c.settings.Broker)
	})

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.Newf("mqtt connection timeout").
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("operation", "connect").
			Build()
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// PublishEvent publishes a meeting lifecycle event. A nil client silently
// drops the event.
func (c *Client) PublishEvent(ctx context.Context, event Event) error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient == nil || !c.internalClient.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal_event").
			Build()
	}

	topic := c.settings.Topic + "/meetings"
	token := c.internalClient.Publish(topic, 0, false, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTPublish).
				Context("topic", topic).
				Build()
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Debug("published meeting event", "topic", topic, "type", event.Type, "meeting_id", event.MeetingID)
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(250)
	}
}
