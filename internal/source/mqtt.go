package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/buffer"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/types"
)

const mqttConnectTimeout = 10 * time.Second

// MQTT receives samples published on a topic.
//
// The paho callback pushes into a bounded queue; when ingestion falls
// behind the oldest message is dropped.
type MQTT struct {
	client mqtt.Client
	topic  string

	queue  *buffer.RingBuffer[types.RawSample]
	notify chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

// DialMQTT connects to the broker and subscribes to the configured topic.
func DialMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	m := newMQTT(cfg.Topic, cfg.QueueSize)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions do not survive a clean-session reconnect.
			token := c.Subscribe(cfg.Topic, cfg.QoS, m.handle)
			if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
				m.log.Error("mqtt subscribe failed", "topic", cfg.Topic, "error", token.Error())
				return
			}
			m.log.Info("mqtt subscribed", "broker", cfg.Broker, "topic", cfg.Topic)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Source(fmt.Errorf("connect %s: timed out", cfg.Broker))
	}
	if err := token.Error(); err != nil {
		return nil, errors.Source(fmt.Errorf("connect %s: %w", cfg.Broker, err))
	}

	return m, nil
}

func newMQTT(topic string, queueSize int) *MQTT {
	if queueSize <= 0 {
		queueSize = defaults.DefaultSourceQueueSize
	}
	return &MQTT{
		topic:  topic,
		queue:  buffer.New[types.RawSample](queueSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    logging.Component("source").With("source", "mqtt:"+topic),
	}
}

// handle runs on the paho callback goroutine.
func (m *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	if m.queue.PushOverwrite(types.RawSample{Payload: payload, ReceivedAt: time.Now()}) {
		m.log.Debug("mqtt queue full, dropped oldest message", "topic", msg.Topic())
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued message.
// After Close it drains the queue, then returns io.EOF.
func (m *MQTT) Next(ctx context.Context) (types.RawSample, error) {
	for {
		if s, ok := m.queue.Pop(); ok {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return types.RawSample{}, ctx.Err()
		case <-m.done:
			if s, ok := m.queue.Pop(); ok {
				return s, nil
			}
			return types.RawSample{}, io.EOF
		case <-m.notify:
		}
	}
}

// Dropped returns the number of messages evicted from a full queue.
func (m *MQTT) Dropped() int64 {
	return m.queue.Dropped()
}

// Close unsubscribes and disconnects.
func (m *MQTT) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.client != nil && m.client.IsConnected() {
			m.client.Unsubscribe(m.topic).WaitTimeout(time.Second)
			m.client.Disconnect(250)
		}
	})
	return nil
}
