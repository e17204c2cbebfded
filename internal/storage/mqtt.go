package storage

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// MQTTPublisher sends each snapshot to a topic, retained by default so a
// dashboard subscribing late still gets the current state.
type MQTTPublisher struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
	log      *logrus.Logger
}

func NewMQTTPublisher(cfg config.MQTTConfig, log *logrus.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("connected to mqtt broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("mqtt connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return newMQTTPublisher(client, cfg, log), nil
}

func newMQTTPublisher(client mqtt.Client, cfg config.MQTTConfig, log *logrus.Logger) *MQTTPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{
		client:   client,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  timeout,
		log:      log,
	}
}

func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

func (p *MQTTPublisher) Publish(ctx context.Context, snap *protocol.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, p.qos, p.retained, data)
	select {
	case <-token.Done():
	case <-time.After(p.timeout):
		return fmt.Errorf("publish to %s: timed out after %s", p.topic, p.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
