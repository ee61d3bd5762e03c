package report

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTimeout = 5 * time.Second

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// MQTTSink publishes reports to a broker topic at QoS 1, not retained.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(mqttTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	log.Printf("report mqtt connected broker=%s topic=%s", cfg.Broker, cfg.Topic)
	return &MQTTSink{client: client, topic: cfg.Topic}, nil
}

func (s *MQTTSink) Send(payload []byte) error {
	token := s.client.Publish(s.topic, 1, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", s.topic)
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.client.Disconnect(250)
	s.client = nil
	return nil
}
