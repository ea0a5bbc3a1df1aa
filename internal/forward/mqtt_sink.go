package forward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

const publishTimeout = 5 * time.Second

// ErrNotConnected is returned by Send while the broker connection is down
var ErrNotConnected = errors.New("mqtt client not connected")

// MQTTConfig holds broker settings for the MQTT sink
type MQTTConfig struct {
	Broker    string // e.g. tcp://localhost:1883
	ClientID  string
	Topic     string // prefix; readings go to <Topic>/<StationID>/readings
	StationID int
	QoS       byte
}

// MQTTSink publishes each reading as canonical JSON
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger zerolog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTTSink creates a sink; call Connect before forwarding
func NewMQTTSink(cfg MQTTConfig, logger zerolog.Logger) *MQTTSink {
	s := newMQTTSink(cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		s.logger.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	s.client = mqtt.NewClient(opts)
	return s
}

func newMQTTSink(cfg MQTTConfig, logger zerolog.Logger) *MQTTSink {
	prefix := strings.TrimSuffix(cfg.Topic, "/")
	if prefix == "" {
		prefix = "weather"
	}

	return &MQTTSink{
		topic:  fmt.Sprintf("%s/%d/readings", prefix, cfg.StationID),
		qos:    cfg.QoS,
		logger: logger.With().Str("component", "mqtt").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Connect waits for the first broker connection. Paho keeps retrying in the
// background; this returns when connected, on ctx cancellation or on Close.
func (s *MQTTSink) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return errors.New("mqtt sink stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			s.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return errors.New("mqtt sink stopped")
		default:
		}
	}
}

// Name identifies the sink's cursor
func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Topic returns the topic readings are published to
func (s *MQTTSink) Topic() string {
	return s.topic
}

// Send publishes one reading and waits for the broker to accept it
func (s *MQTTSink) Send(ctx context.Context, reading *models.Reading) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	token := s.client.Publish(s.topic, s.qos, false, data)

	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish timeout for topic %s", s.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}

	s.logger.Debug().Str("topic", s.topic).Int64("id", reading.ID).Msg("Published reading")
	return nil
}

// IsConnected reports whether the broker connection is up
func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Close disconnects from the broker. Safe to call more than once.
func (s *MQTTSink) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info().Msg("MQTT disconnected")
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
