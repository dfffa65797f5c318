package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"order_id":"o-1"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "order-events", zap.NewNop())
	err := pub.Publish(context.Background(), Event{
		ID:          "e-1",
		AggregateID: "o-1",
		Type:        "order.created",
		Payload:     []byte(`{"order_id":"o-1"}`),
		OccurredAt:  time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "order-events", nil)
	err := pub.Publish(context.Background(), Event{ID: "e-1", AggregateID: "o-1", Type: "order.paid"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Contains(t, err.Error(), "order.paid")
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaPublisherWithProducer(producer, "order-events", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, Event{ID: "e-1"}), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(nil)
	assert.NoError(t, pub.Publish(context.Background(), Event{ID: "e-1"}))
	assert.NoError(t, pub.Close())
}
