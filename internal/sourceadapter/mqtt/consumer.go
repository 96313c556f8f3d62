// Package mqtt adapts github.com/eclipse/paho.mqtt.golang to the
// sourceadapter.Consumer contract for both MQTT and MQTT_5 connection
// types. It is adapted from the teacher's own paho-backed client consumer:
// the same subscribe-with-callback shape, but stripped of its gRPC-facing
// wrapper and wired to the record handler contract this service uses.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/redbco/redb-connect/internal/model"
	"github.com/redbco/redb-connect/internal/sourceadapter"
)

func init() {
	sourceadapter.Register(model.MQTT, func() sourceadapter.Consumer { return &Consumer{connType: model.MQTT} })
	sourceadapter.Register(model.MQTT5, func() sourceadapter.Consumer { return &Consumer{connType: model.MQTT5} })
}

// Consumer is a sourceadapter.Consumer backed by a single paho client
// subscribed to one topic.
type Consumer struct {
	connType model.ConnectionType

	mu     sync.Mutex
	client paho.Client
	topic  string
	qos    byte

	records chan sourceadapter.Record
	stop    chan struct{}
}

// Type implements sourceadapter.Consumer.
func (c *Consumer) Type() model.ConnectionType { return c.connType }

// Connect dials the broker at source.Address and prepares (without yet
// subscribing) the topic from source.MappingRules[0].
func (c *Consumer) Connect(ctx context.Context, source model.Source, specificConfig map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := paho.NewClientOptions()
	opts.AddBroker(source.Address)
	opts.SetClientID(fmt.Sprintf("connectivity-%s", specificConfig["connectionId"]))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	if user := specificConfig["username"]; user != "" {
		opts.SetUsername(user)
		opts.SetPassword(specificConfig["password"])
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt consumer: connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt consumer: connect: %w", err)
	}

	topic := ""
	if len(source.MappingRules) > 0 {
		topic = source.MappingRules[0]
	}

	c.client = client
	c.topic = topic
	c.qos = byte(source.QoS)
	c.records = make(chan sourceadapter.Record, 256)
	c.stop = make(chan struct{})
	return nil
}

// Consume subscribes to the configured topic and streams received messages
// to handler until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler sourceadapter.RecordHandler) error {
	c.mu.Lock()
	client, topic, qos, records := c.client, c.topic, c.qos, c.records
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("mqtt consumer: Connect was not called")
	}

	handlerFunc := func(_ paho.Client, msg paho.Message) {
		rec := sourceadapter.Record{
			Topic:     msg.Topic(),
			Value:     msg.Payload(),
			Timestamp: time.Now(),
		}
		select {
		case records <- rec:
		case <-ctx.Done():
		}
	}

	token := client.Subscribe(topic, qos, handlerFunc)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt consumer: subscribe timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt consumer: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case rec := <-records:
			if err := handler(ctx, rec); err != nil {
				return err
			}
		}
	}
}

// CommitOffset is a no-op for MQTT: the broker has no durable offset
// concept at QoS 0/1 the way Kafka does; acknowledgment happens at the
// transport layer via QoS handshakes, not an explicit commit call.
func (c *Consumer) CommitOffset(ctx context.Context, partition int32, offset int64) error {
	return nil
}

// Close disconnects the underlying paho client.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
	}
	if c.client != nil {
		c.client.Disconnect(250)
	}
	return nil
}
