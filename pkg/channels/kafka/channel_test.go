package kafka_test

import (
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/channels/kafka"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleChannel_RequiresBrokers(t *testing.T) {
	t.Parallel()

	for _, brokers := range [][]string{nil, {""}, {" ", ""}} {
		pub, sub, err := kafka.NewLifecycleChannel(watermill.NopLogger{}, kafka.LifecycleConfig{Brokers: brokers})
		require.ErrorIs(t, err, kafka.ErrNoBrokers)
		require.Nil(t, pub)
		require.Nil(t, sub)
	}
}
