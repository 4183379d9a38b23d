package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	CACertPath     string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	MaxReconnect   time.Duration

	// Last will, published by the broker if the connection drops.
	WillTopic   string
	WillPayload string
}

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client     mqtt.Client
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu            sync.Mutex
	subscriptions map[string]subscription
	onConnect     []func()
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger) *MqttService {
	return &MqttService{
		fileClient:    fileClient,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}
}

// Initialize sets up the MQTT client and starts the connection.
func (s *MqttService) Initialize(o Options) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetCleanSession(true)

	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}
	if o.MaxReconnect > 0 {
		opts.SetMaxReconnectInterval(o.MaxReconnect)
	}
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, o.WillPayload, 1, true)
	}

	if o.CACertPath != "" {
		tlsConfig, err := s.tlsConfig(o.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(s.handleConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.logger.Info().Str("broker", o.Broker).Msg("Reconnecting to MQTT broker")
	})

	s.client = mqtt.NewClient(opts)

	// With connect retry enabled the token only completes once connected, so
	// bound the wait and let paho keep retrying in the background.
	token := s.Connect()
	if !token.WaitTimeout(o.ConnectTimeout + 5*time.Second) {
		s.logger.Warn().Str("broker", o.Broker).Msg("MQTT broker not reachable yet, continuing offline")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", o.Broker, err)
	}

	s.logger.Info().Str("broker", o.Broker).Str("client_id", o.ClientID).Msg("Connected to MQTT broker")
	return nil
}

func (s *MqttService) tlsConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := s.fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}
	return &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12}, nil
}

// handleConnect restores subscriptions and runs the registered hooks after
// every successful (re)connect.
func (s *MqttService) handleConnect(client mqtt.Client) {
	s.mu.Lock()
	subs := make(map[string]subscription, len(s.subscriptions))
	for topic, sub := range s.subscriptions {
		subs[topic] = sub
	}
	hooks := append([]func(){}, s.onConnect...)
	s.mu.Unlock()

	for topic, sub := range subs {
		token := client.Subscribe(topic, sub.qos, sub.handler)
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			s.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to resubscribe")
			continue
		}
		s.logger.Debug().Str("topic", topic).Msg("Resubscribed")
	}

	for _, hook := range hooks {
		go hook()
	}
}

// OnConnect registers fn to run after every successful connection.
func (s *MqttService) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// Connect connects to the MQTT broker.
func (s *MqttService) Connect() mqtt.Token {
	return s.client.Connect()
}

// Publish sends a message to the specified topic.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return s.client.Publish(topic, qos, retained, payload)
}

// Subscribe subscribes to the specified topic with a message handler.
// The subscription is replayed on reconnect.
func (s *MqttService) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	s.mu.Lock()
	s.subscriptions[topic] = subscription{qos: qos, handler: callback}
	s.mu.Unlock()
	if !s.IsConnected() {
		// handleConnect subscribes once the broker is reachable
		return completedToken{}
	}
	return s.client.Subscribe(topic, qos, callback)
}

// Unsubscribe unsubscribes from the specified topics.
func (s *MqttService) Unsubscribe(topics ...string) mqtt.Token {
	s.mu.Lock()
	for _, topic := range topics {
		delete(s.subscriptions, topic)
	}
	s.mu.Unlock()
	if !s.IsConnected() {
		return completedToken{}
	}
	return s.client.Unsubscribe(topics...)
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	s.client.Disconnect(quiesce)
}

// IsConnected reports whether the client currently holds a broker connection.
func (s *MqttService) IsConnected() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

// completedToken is returned for operations deferred until the next connect.
type completedToken struct{}

func (completedToken) Wait() bool                     { return true }
func (completedToken) WaitTimeout(time.Duration) bool { return true }
func (completedToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (completedToken) Error() error { return nil }
