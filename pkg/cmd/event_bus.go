package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Eld3rt/aflow-sub000/pkg/channels/gochannel"
	"github.com/Eld3rt/aflow-sub000/pkg/channels/kafka"
	"github.com/Eld3rt/aflow-sub000/pkg/eventbus"
	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnsupportedEventBus is returned for an unknown event bus provider.
var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// NewEventBus builds the lifecycle event bus. brokers is a comma separated
// Kafka broker list and is only read by the kafka provider.
func NewEventBus(logger *slog.Logger, provider, brokers string) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel", "memory":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.NewLifecycleChannel(wmLogger, kafka.LifecycleConfig{Brokers: splitBrokers(brokers)})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}
}

func splitBrokers(brokers string) []string {
	var out []string

	for _, broker := range strings.Split(brokers, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			out = append(out, broker)
		}
	}

	return out
}
