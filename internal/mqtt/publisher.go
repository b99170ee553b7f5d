package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kstaniek/go-dronecan-server/internal/dronecan"
	"github.com/kstaniek/go-dronecan-server/internal/logging"
	"github.com/kstaniek/go-dronecan-server/internal/metrics"
	"github.com/kstaniek/go-dronecan-server/internal/session"
)

// Config selects the broker and topic layout.
type Config struct {
	BrokerURL   string // e.g. tcp://localhost:1883, may embed user:pass@host
	ClientID    string
	TopicPrefix string // default "dronecan"
	QoS         byte
}

// Publisher pushes completed transfer payloads to an MQTT broker. Topics
// encode the identifier so subscribers can filter by wildcard:
//
//	<prefix>/msg/<type_id>/<source_node>
//	<prefix>/srv/<service_type>/<req|resp>/<source_node>/<destination_node>
//	<prefix>/anon/<type_id>
//
// The message body is the raw reassembled payload.
type Publisher struct {
	cli    paho.Client
	prefix string
	qos    byte
}

const connectTimeout = 10 * time.Second

// Connect dials the broker and returns a ready Publisher.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "dronecan"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "dronecan-server"
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(false)
	opts.OnConnect = func(paho.Client) {
		logging.L().Info("mqtt_connected", "broker", cfg.BrokerURL)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logging.L().Warn("mqtt_connection_lost", "error", err)
	}
	cli := paho.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, err)
	}
	return &Publisher{cli: cli, prefix: cfg.TopicPrefix, qos: cfg.QoS}, nil
}

// Publish fires one completed transfer at the broker without waiting for
// the ack; delivery failures surface via the token in the background.
func (p *Publisher) Publish(done *session.Completed) {
	tok := p.cli.Publish(Topic(p.prefix, done.ID), p.qos, false, done.Payload)
	go func() {
		tok.Wait()
		if err := tok.Error(); err != nil {
			metrics.IncError(metrics.ErrMQTTPublish)
			logging.L().Warn("mqtt_publish_error", "error", err)
			return
		}
		metrics.IncMQTTPublished()
	}()
}

// Close disconnects from the broker, allowing in-flight messages to drain.
func (p *Publisher) Close() {
	p.cli.Disconnect(250)
}

// Topic builds the publish topic for an identifier.
func Topic(prefix string, id dronecan.Identifier) string {
	switch id.Kind {
	case dronecan.KindService:
		dir := "resp"
		if id.Request {
			dir = "req"
		}
		return fmt.Sprintf("%s/srv/%d/%s/%d/%d", prefix, id.ServiceType, dir, id.SourceNode, id.DestinationNode)
	case dronecan.KindAnonymous:
		return fmt.Sprintf("%s/anon/%d", prefix, id.TypeID)
	default:
		return fmt.Sprintf("%s/msg/%d/%d", prefix, id.TypeID, id.SourceNode)
	}
}
