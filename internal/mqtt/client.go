// Package mqtt wraps the paho client behind the two operations the bridge
// needs: a wildcard telemetry subscription feeding an inbound channel, and a
// synchronous command publish. Reconnects and resubscription are handled here
// so router and dispatcher never see connection state.
package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/autofeeder/bridge/internal/config"
)

const (
	qosAtLeastOnce       = 1
	connectRetryInterval = 5 * time.Second
	disconnectQuiesceMs  = 250
)

// Message is one inbound device publication.
type Message struct {
	Topic   string
	Payload string
}

// Client is a connected MQTT session.
type Client struct {
	c pahomqtt.Client
}

// Connect dials the broker and subscribes to the telemetry wildcard topic
// {prefix}/+/+. Every delivered message is pushed onto inbound. The
// subscription is re-established on every reconnect.
func Connect(cfg config.MQTT, inbound chan<- Message) (*Client, error) {
	wildcard := cfg.TopicPrefix + "/+/+"

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetOrderMatters(false) // handlers run concurrently; ordering is not a contract here

	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		zlog.Logger.Warn().Err(err).Msg("mqtt connection lost")
	}

	opts.OnConnect = func(c pahomqtt.Client) {
		zlog.Logger.Info().Str("broker", cfg.BrokerURL()).Msg("connected to mqtt broker")

		token := c.Subscribe(wildcard, qosAtLeastOnce, func(_ pahomqtt.Client, m pahomqtt.Message) {
			inbound <- Message{Topic: m.Topic(), Payload: string(m.Payload())}
		})
		if token.Wait() && token.Error() != nil {
			zlog.Logger.Error().Err(token.Error()).Str("topic", wildcard).Msg("mqtt subscribe failed")
			return
		}

		zlog.Logger.Info().Str("topic", wildcard).Msg("subscribed to telemetry topics")
	}

	client := pahomqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}

	return &Client{c: client}, nil
}

// Publish sends payload to topic with at-least-once QoS and waits for the
// broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.c.Publish(topic, qosAtLeastOnce, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}

	return nil
}

// Disconnect closes the session, allowing in-flight work to drain.
func (c *Client) Disconnect() {
	c.c.Disconnect(disconnectQuiesceMs)
}
