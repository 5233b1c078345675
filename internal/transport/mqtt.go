package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"flappysync/internal/logging"
)

const (
	mqttQoS        = 0
	disconnectWait = 250 // milliseconds
)

// MQTT publishes and subscribes through an MQTT broker using QoS 0. The client reconnects
// on its own and re-subscribes on every connect.
type MQTT struct {
	broker   string
	topic    string
	clientID string
	timeout  time.Duration
	log      *logging.Logger
	counters

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTT prepares an MQTT transport; the connection is made by Run.
func NewMQTT(opts Options) *MQTT {
	opts = opts.withDefaults()
	return &MQTT{
		broker:   normaliseBroker(opts.URL),
		topic:    opts.Topic,
		clientID: opts.ClientID,
		timeout:  opts.ConnectTimeout,
		log:      opts.Logger.With(logging.String("transport", "mqtt")),
	}
}

// normaliseBroker maps the mqtt:// and mqtts:// aliases onto the schemes paho dials.
func normaliseBroker(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch strings.ToLower(parsed.Scheme) {
	case "mqtt":
		parsed.Scheme = "tcp"
	case "mqtts":
		parsed.Scheme = "ssl"
	}
	return parsed.String()
}

func (m *MQTT) options(handler Handler) *mqtt.ClientOptions {
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		m.received.Add(1)
		if handler != nil {
			handler(msg.Payload())
		}
	}
	opts := mqtt.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetCleanSession(true).
		SetConnectTimeout(m.timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(minBackoff * 4).
		SetMaxReconnectInterval(maxBackoff)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		//1.- Subscriptions do not survive a clean-session reconnect, so renew them here.
		m.connected.Store(true)
		token := client.Subscribe(m.topic, mqttQoS, onMessage)
		go func() {
			if token.WaitTimeout(m.timeout) && token.Error() != nil {
				m.log.Warn("mqtt subscribe failed", logging.String("topic", m.topic), logging.Error(token.Error()))
				return
			}
			m.log.Info("mqtt subscribed", logging.String("topic", m.topic))
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		m.log.Warn("mqtt connection lost", logging.Error(err))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		m.reconnects.Add(1)
		m.log.Debug("mqtt reconnecting")
	})
	return opts
}

// Run implements Transport.
func (m *MQTT) Run(ctx context.Context, handler Handler) error {
	client := mqtt.NewClient(m.options(handler))
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(m.timeout) {
		m.log.Warn("mqtt connect still pending, retrying in background",
			logging.String("broker", m.broker), logging.Duration("timeout", m.timeout))
	} else if err := token.Error(); err != nil {
		m.log.Warn("mqtt connect failed, retrying in background", logging.String("broker", m.broker), logging.Error(err))
	}

	<-ctx.Done()
	m.connected.Store(false)
	client.Disconnect(disconnectWait)
	return nil
}

// Publish implements Transport. The publish token is never waited on.
func (m *MQTT) Publish(payload []byte) bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !m.connected.Load() || !client.IsConnectionOpen() {
		m.dropped.Add(1)
		return false
	}
	client.Publish(m.topic, mqttQoS, false, payload)
	m.published.Add(1)
	return true
}

// Status implements Transport.
func (m *MQTT) Status() Status { return m.status("mqtt") }
