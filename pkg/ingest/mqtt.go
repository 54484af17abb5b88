package ingest

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Sink receives raw payloads from a transport
type Sink interface {
	Submit(raw []byte) bool
}

// MQTTConfig configures the MQTT subscriber
type MQTTConfig struct {
	// Broker is host, host:port or a URL (tcp://, ssl://, ws://, mqtt://)
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// MQTTSubscriber feeds tracker reports published on a topic into a Sink
type MQTTSubscriber struct {
	cfg    MQTTConfig
	sink   Sink
	client mqtt.Client
	logger zerolog.Logger
}

// NewMQTTSubscriber validates the config and builds an unconnected client
func NewMQTTSubscriber(cfg MQTTConfig, sink Sink) (*MQTTSubscriber, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "beacon"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}

	s := &MQTTSubscriber{
		cfg:    cfg,
		sink:   sink,
		logger: log.WithComponent("mqtt"),
	}
	s.client = mqtt.NewClient(s.clientOptions())
	return s, nil
}

// BrokerURL normalizes a broker address into a URL paho accepts
func BrokerURL(broker string, port int) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if port <= 0 {
		port = 1883
	}
	if _, _, err := net.SplitHostPort(broker); err == nil {
		return "tcp://" + broker
	}
	return "tcp://" + net.JoinHostPort(broker, strconv.Itoa(port))
}

func (s *MQTTSubscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(BrokerURL(s.cfg.Broker, s.cfg.Port)).
		SetClientID(s.cfg.ClientID).
		SetKeepAlive(s.cfg.KeepAlive).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			s.logger.Info().Msg("Reconnecting to MQTT broker")
		})

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	return opts
}

// Start connects to the broker. The subscription is (re)established on
// every successful connect. If the broker is unreachable Start returns an
// error after ConnectTimeout while the client keeps retrying in the
// background.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	s.logger.Info().
		Str("broker", BrokerURL(s.cfg.Broker, s.cfg.Port)).
		Str("topic", s.cfg.Topic).
		Msg("Connecting to MQTT broker")

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.ConnectTimeout):
		return fmt.Errorf("timed out connecting to mqtt broker after %s", s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		metrics.UpdateComponent("mqtt", false, err.Error())
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// Stop disconnects, waiting up to 250ms for in-flight work
func (s *MQTTSubscriber) Stop() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	metrics.MQTTConnected.Set(0)
	s.logger.Info().Msg("Disconnected from MQTT broker")
}

// IsConnected reports whether the client currently holds a connection
func (s *MQTTSubscriber) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *MQTTSubscriber) onConnect(c mqtt.Client) {
	metrics.MQTTConnected.Set(1)
	s.logger.Info().Msg("Connected to MQTT broker")

	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	go func() {
		if !token.WaitTimeout(s.cfg.ConnectTimeout) {
			s.logger.Error().Str("topic", s.cfg.Topic).Msg("Timed out subscribing to topic")
			metrics.UpdateComponent("mqtt", false, "subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", s.cfg.Topic).Msg("Failed to subscribe")
			metrics.UpdateComponent("mqtt", false, err.Error())
			return
		}
		s.logger.Info().Str("topic", s.cfg.Topic).Uint8("qos", s.cfg.QoS).Msg("Subscribed to topic")
		metrics.UpdateComponent("mqtt", true, "subscribed")
	}()
}

func (s *MQTTSubscriber) onConnectionLost(_ mqtt.Client, err error) {
	metrics.MQTTConnected.Set(0)
	metrics.UpdateComponent("mqtt", false, "connection lost")
	s.logger.Warn().Err(err).Msg("Lost connection to MQTT broker")
}

func (s *MQTTSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if !s.sink.Submit(msg.Payload()) {
		s.logger.Debug().Str("topic", msg.Topic()).Msg("Report not queued")
	}
}
