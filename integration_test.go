//go:build integration

package mqttc

import (
	"context"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBroker runs an embedded broker on a local port for the duration of
// the test.
func startBroker(t *testing.T, addr string) {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	tcp := listeners.NewTCP(listeners.Config{ID: "it", Address: addr})
	require.NoError(t, server.AddListener(tcp))

	go func() {
		if err := server.Serve(); err != nil {
			t.Logf("broker stopped: %v", err)
		}
	}()
	t.Cleanup(func() { server.Close() })

	time.Sleep(100 * time.Millisecond)
}

func TestIntegrationPublishSubscribeV5(t *testing.T) {
	const addr = "127.0.0.1:18931"
	startBroker(t, addr)

	subscriber, err := Dial(
		WithServers("tcp://"+addr),
		WithClientID("it-sub"),
		WithProtocolVersion(ProtocolV50),
		WithKeepAlive(5),
	)
	require.NoError(t, err)
	defer subscriber.Disconnect(context.Background())

	got := make(chan *Message, 1)
	subscriber.OnMessage(func(msg *Message) { got <- msg })

	codes, err := subscriber.Subscribe(context.Background(),
		Subscription{Filter: "it/sensors/#", QoS: 1})
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.False(t, codes[0].IsError())

	publisher, err := Dial(
		WithServers("tcp://"+addr),
		WithClientID("it-pub"),
		WithProtocolVersion(ProtocolV50),
		WithKeepAlive(5),
	)
	require.NoError(t, err)
	defer publisher.Disconnect(context.Background())

	id, err := publisher.Publish(context.Background(), &Message{
		Topic:   "it/sensors/t",
		Payload: []byte("22.5"),
		QoS:     1,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	select {
	case msg := <-got:
		assert.Equal(t, "it/sensors/t", msg.Topic)
		assert.Equal(t, []byte("22.5"), msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered end to end")
	}

	require.Eventually(t, func() bool {
		return publisher.InFlight() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIntegrationV311(t *testing.T) {
	const addr = "127.0.0.1:18932"
	startBroker(t, addr)

	client, err := Dial(
		WithServers("tcp://"+addr),
		WithClientID("it-v3"),
		WithProtocolVersion(ProtocolV311),
		WithKeepAlive(5),
	)
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	got := make(chan *Message, 1)
	client.OnMessage(func(msg *Message) { got <- msg })

	_, err = client.Subscribe(context.Background(), Subscription{Filter: "it/v3", QoS: 0})
	require.NoError(t, err)

	_, err = client.Publish(context.Background(), &Message{
		Topic:   "it/v3",
		Payload: []byte("hello"),
	})
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("v3.1.1 loopback failed")
	}
}

func TestIntegrationQoS2(t *testing.T) {
	const addr = "127.0.0.1:18933"
	startBroker(t, addr)

	client, err := Dial(
		WithServers("tcp://"+addr),
		WithClientID("it-q2"),
		WithProtocolVersion(ProtocolV50),
		WithKeepAlive(5),
	)
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	got := make(chan *Message, 1)
	client.OnMessage(func(msg *Message) { got <- msg })

	_, err = client.Subscribe(context.Background(), Subscription{Filter: "it/q2", QoS: 2})
	require.NoError(t, err)

	_, err = client.Publish(context.Background(), &Message{
		Topic: "it/q2", Payload: []byte("once"), QoS: 2,
	})
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, []byte("once"), msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("qos 2 loopback failed")
	}

	require.Eventually(t, func() bool {
		return client.InFlight() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
