package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloudpico-beacon/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("client stopped")
)

const (
	publishTimeout = 5 * time.Second
	qos            = 1

	scannerOnline  = "online"
	scannerOffline = "offline"
)

// Telemetry is one decoded beacon frame as republished by the scanner.
type Telemetry struct {
	StationID          string    `json:"station_id"`
	Timestamp          time.Time `json:"timestamp"`
	Address            string    `json:"address,omitempty"`
	RSSI               *int16    `json:"rssi,omitempty"`
	Temperature        *float64  `json:"temperature_c,omitempty"`
	Humidity           *float64  `json:"humidity_pct,omitempty"`
	AdvertisementCount *uint32   `json:"adv_count,omitempty"`
	UptimeSeconds      *float64  `json:"uptime_s,omitempty"`
}

// StationHealth is the retained last-seen record of one beacon.
type StationHealth struct {
	StationID string    `json:"station_id"`
	Address   string    `json:"address,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
	Healthy   bool      `json:"healthy"`
}

// Topics lays out the scanner's topic tree:
//
//	<prefix>/<station>/scanner               online|offline (retained, last will)
//	<prefix>/<station>/beacons/<addr>/tlm    Telemetry
//	<prefix>/<station>/beacons/<addr>/health StationHealth (retained)
type Topics struct {
	Prefix string
}

func (t Topics) Scanner(stationID string) string {
	return fmt.Sprintf("%s/%s/scanner", t.Prefix, stationID)
}

func (t Topics) Telemetry(stationID, address string) string {
	return fmt.Sprintf("%s/%s/beacons/%s/tlm", t.Prefix, stationID, addressSegment(address))
}

func (t Topics) Health(stationID, address string) string {
	return fmt.Sprintf("%s/%s/beacons/%s/health", t.Prefix, stationID, addressSegment(address))
}

// addressSegment turns "C0:FF:EE:00:00:01" into "c0ffee000001".
func addressSegment(address string) string {
	if address == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(address, ":", ""))
}

type Client struct {
	client    mqtt.Client
	topics    Topics
	stationID string
	logger    *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt broker not configured")
	}

	c := &Client{
		topics:    Topics{Prefix: cfg.MQTTTopicPrefix},
		stationID: cfg.DeviceStationID,
		logger:    logger.With("component", "mqtt"),
		stopCh:    make(chan struct{}),
	}

	statusTopic := c.topics.Scanner(c.stationID)

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.MQTTClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30*time.Second).
		SetPingTimeout(10*time.Second).
		SetWill(statusTopic, scannerOffline, qos, true)

	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		// Runs on every reconnect; the retained status replaces the broker's will.
		cl.Publish(statusTopic, qos, true, scannerOnline)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func brokerURL(cfg config.Config) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort)
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	if c.stopped() {
		return ErrStopped
	}
	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry the token only completes once a connection succeeds.
	token := c.client.Connect()
	for !token.WaitTimeout(200 * time.Millisecond) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// PublishTelemetry publishes one decoded frame under the beacon's tlm topic.
func (c *Client) PublishTelemetry(stationID string, telemetry Telemetry) error {
	topic, data, err := c.telemetryMessage(stationID, telemetry)
	if err != nil {
		return err
	}
	if err := c.publish(topic, false, data); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	c.logger.Debug("published telemetry", "topic", topic)
	return nil
}

// PublishStationHealth publishes a retained last-seen record for one beacon.
func (c *Client) PublishStationHealth(health StationHealth) error {
	topic, data, err := c.healthMessage(health)
	if err != nil {
		return err
	}
	if err := c.publish(topic, true, data); err != nil {
		return fmt.Errorf("publish health: %w", err)
	}
	c.logger.Debug("published station health", "topic", topic, "last_seen", health.LastSeen)
	return nil
}

func (c *Client) publish(topic string, retained bool, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	return token.Error()
}

func (c *Client) telemetryMessage(stationID string, telemetry Telemetry) (string, []byte, error) {
	if stationID == "" {
		stationID = c.stationID
	}
	telemetry.StationID = stationID
	if telemetry.Timestamp.IsZero() {
		telemetry.Timestamp = time.Now()
	}
	data, err := json.Marshal(telemetry)
	if err != nil {
		return "", nil, fmt.Errorf("marshal telemetry: %w", err)
	}
	return c.topics.Telemetry(stationID, telemetry.Address), data, nil
}

func (c *Client) healthMessage(health StationHealth) (string, []byte, error) {
	if health.StationID == "" {
		health.StationID = c.stationID
	}
	if health.LastSeen.IsZero() {
		health.LastSeen = time.Now()
	}
	data, err := json.Marshal(health)
	if err != nil {
		return "", nil, fmt.Errorf("marshal health: %w", err)
	}
	return c.topics.Health(health.StationID, health.Address), data, nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Disconnect marks the scanner offline and closes the session. It is idempotent.
func (c *Client) Disconnect() {
	first := false
	c.stopOnce.Do(func() {
		close(c.stopCh)
		first = true
	})
	if !first {
		return
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.Scanner(c.stationID), qos, true, scannerOffline)
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(250)
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
