package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaShipper_PublishesKeyedByActor(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewAsyncProducer(t, cfg)

	var captured *sarama.ProducerMessage
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		captured = msg
		return nil
	})

	k := newKafkaShipper(producer, "")
	entry := &Entry{ID: "e1", Actor: Actor{ID: "a1", Name: "Admin"}, Action: ActionLogin}
	require.NoError(t, k.Ship(context.Background(), entry))

	success := <-producer.Successes()
	assert.Equal(t, defaultKafkaTopic, success.Topic)

	require.NoError(t, k.Close())
	require.NotNil(t, captured)

	key, err := captured.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "a1", string(key))

	value, err := captured.Value.Encode()
	require.NoError(t, err)
	var decoded Entry
	require.NoError(t, json.Unmarshal(value, &decoded))
	assert.Equal(t, "e1", decoded.ID)
	assert.Equal(t, ActionLogin, decoded.Action)
}

func TestKafkaShipper_ProducerErrorsAreDrained(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndFail(errors.New("broker unavailable"))

	k := newKafkaShipper(producer, "audit-topic")
	assert.Equal(t, "audit-topic", k.topic)
	require.NoError(t, k.Ship(context.Background(), &Entry{ID: "e1", Actor: Actor{ID: "a1"}}))

	// Close returns once the error channel has been drained
	assert.NoError(t, k.Close())
}
