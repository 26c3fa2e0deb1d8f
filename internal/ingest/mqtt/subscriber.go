package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopic matches every station's telemetry topic.
const DefaultTopic = "restroom/+/telemetry"

// Config selects the broker and subscription.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectRetries int
	MaxElapsed     time.Duration
}

// Subscriber consumes station telemetry from an MQTT broker.
type Subscriber struct {
	client  paho.Client
	topic   string
	qos     byte
	handler *Handler
	logger  *log.Logger
}

// Connect dials the broker with exponential backoff.
func Connect(cfg Config, logger *log.Logger) (paho.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	if logger == nil {
		logger = log.Default()
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Printf("mqtt: connection lost: %v", err)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 5
	}

	var client paho.Client
	err := backoff.Retry(func() error {
		client = paho.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Printf("mqtt: connect failed: %v", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(retries-1)))
	if err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.BrokerURL, err)
	}
	logger.Printf("mqtt: connected to %s", cfg.BrokerURL)
	return client, nil
}

// NewSubscriber binds a connected client to a handler.
func NewSubscriber(client paho.Client, handler *Handler, cfg Config, logger *log.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("mqtt subscriber: nil client")
	}
	if handler == nil {
		return nil, errors.New("mqtt subscriber: nil handler")
	}
	if logger == nil {
		logger = log.Default()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: client, topic: topic, qos: cfg.QoS, handler: handler, logger: logger}, nil
}

// Run subscribes and blocks until ctx is done, then unsubscribes and disconnects.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.topic, s.qos, func(_ paho.Client, msg paho.Message) {
		_ = s.handler.HandleMessage(ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", s.topic, token.Error())
	}
	s.logger.Printf("mqtt: subscribed to %s", s.topic)

	<-ctx.Done()
	if token := s.client.Unsubscribe(s.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		s.logger.Printf("mqtt: unsubscribe: %v", token.Error())
	}
	s.client.Disconnect(250)
	s.logger.Printf("mqtt: disconnected")
	return nil
}
