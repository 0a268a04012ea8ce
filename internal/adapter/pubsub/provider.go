package pubsub

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/im-live-service/config"
)

// Provider builds publishers and subscribers for the configured driver.
type Provider struct {
	cfg     config.PubSubConfig
	logger  watermill.LoggerAdapter
	channel *gochannel.GoChannel

	mu         sync.Mutex
	publishers []message.Publisher
}

func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) *Provider {
	p := &Provider{cfg: cfg.PubSub, logger: logger}
	if p.cfg.Driver == "gochannel" {
		p.channel = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: false,
		}, logger)
	}
	return p
}

// Publisher returns a publisher writing to exchange. Topics passed to Publish
// become routing keys.
func (p *Provider) Publisher(exchange string) (message.Publisher, error) {
	if p.channel != nil {
		return p.channel, nil
	}

	cfg := p.amqpConfig(exchange, "", "")
	pub, err := amqp.NewPublisher(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher %s: %w", exchange, err)
	}

	p.mu.Lock()
	p.publishers = append(p.publishers, pub)
	p.mu.Unlock()
	return pub, nil
}

// Subscriber returns a subscriber consuming queue, bound to exchange with
// routingKey.
func (p *Provider) Subscriber(queue, exchange, routingKey string) (message.Subscriber, error) {
	if p.channel != nil {
		return p.channel, nil
	}

	cfg := p.amqpConfig(exchange, queue, routingKey)
	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp subscriber %s: %w", queue, err)
	}
	return sub, nil
}

func (p *Provider) amqpConfig(exchange, queue, routingKey string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(p.cfg.BrokerURL, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.QueueBind.GenerateRoutingKey = func(string) string { return routingKey }
	return cfg
}

// IngestTopic is the topic the event ingestion consumer subscribes to.
// gochannel has no wildcard routing, so every event shares one topic there.
func (p *Provider) IngestTopic() string {
	if p.channel != nil {
		return p.eventsPrefix()
	}
	return p.cfg.EventsTopic
}

// EventRoutingKey is where an event called name is published so that
// IngestTopic receives it on every node.
func (p *Provider) EventRoutingKey(name string) string {
	if p.channel != nil {
		return p.eventsPrefix()
	}
	return p.eventsPrefix() + "." + name
}

func (p *Provider) eventsPrefix() string {
	return strings.TrimSuffix(p.cfg.EventsTopic, ".#")
}

// Close releases every publisher built by the provider.
func (p *Provider) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, pub := range p.publishers {
		errs = append(errs, pub.Close())
	}
	p.publishers = nil
	return errors.Join(errs...)
}
