// Package kafka carries execution lifecycle events over Kafka so that
// consumers outside the worker process can follow executions.
package kafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Eld3rt/aflow-sub000/pkg/events"
	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// DefaultGroup is the consumer group shared by lifecycle subscribers of one deployment.
const DefaultGroup = "aflow-lifecycle"

var ErrNoBrokers = errors.New("no kafka brokers configured")

// LifecycleConfig describes where lifecycle events are published and how a
// subscriber joins the stream.
type LifecycleConfig struct {
	Brokers []string
	Group   string
	// FromLatest makes a new consumer group skip the events published before it joined.
	FromLatest bool
}

func (c LifecycleConfig) brokers() []string {
	brokers := make([]string, 0, len(c.Brokers))

	for _, broker := range c.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

// partitionByWorkflow keeps every event of one workflow on one partition, so
// its started, paused, resumed and finished events are read in order.
func partitionByWorkflow(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}

// NewLifecycleChannel connects the publisher workers report execution
// outcomes on and the subscriber lifecycle consumers read them from.
func NewLifecycleChannel(logger watermill.LoggerAdapter, config LifecycleConfig) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers := config.brokers()
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	group := config.Group
	if group == "" {
		group = DefaultGroup
	}

	marshaler := kafka.NewWithPartitioningMarshaler(partitionByWorkflow)

	consumerConfig := kafka.DefaultSaramaSubscriberConfig()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	if config.FromLatest {
		consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: consumerConfig,
			ConsumerGroup:         group,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create lifecycle subscriber: %w", err)
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: producerConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, fmt.Errorf("failed to create lifecycle publisher: %w", err)
	}

	return publisher, subscriber, nil
}
