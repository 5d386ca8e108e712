package eventbus

import (
	"testing"

	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	require.NoError(t, b.Publish(Event{Kind: EventProofReady, BlockNum: 1}))
	require.NoError(t, b.Close())
}

func TestPublishSendsJSONPayload(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndSucceed()
	b := &Bus{producer: mp, topic: "coordinator.events"}

	require.NoError(t, b.Publish(Event{Kind: EventBlockFinalized, BlockNum: 42, BlockHash: "0xabc"}))
	require.NoError(t, b.Close())
}
