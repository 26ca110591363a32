// Package mqttc is an MQTT client library for Go supporting both
// MQTT 3.1.1 and MQTT 5.0 over pluggable byte-stream transports.
//
// The client establishes a session with a broker, publishes application
// messages at QoS 0, 1 and 2, maintains subscriptions, and dispatches
// inbound messages to an application handler. MQTT 5.0 features are
// supported end to end: session expiry, receive-maximum flow control,
// topic aliases, shared subscriptions, server-initiated disconnects with
// reason codes, and user properties.
//
// # Quick start
//
//	client, err := mqttc.Dial(
//	    mqttc.WithServers("tcp://127.0.0.1:1883"),
//	    mqttc.WithClientID("sensor-1"),
//	    mqttc.WithProtocolVersion(mqttc.ProtocolV50),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	client.OnMessage(func(msg *mqttc.Message) {
//	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	})
//
//	_, err = client.Subscribe(context.Background(),
//	    mqttc.Subscription{Filter: "sensors/#", QoS: 1})
//	_, err = client.Publish(context.Background(), &mqttc.Message{
//	    Topic:   "sensors/t",
//	    Payload: []byte("22.5"),
//	    QoS:     1,
//	})
//
// # Transports
//
// The wire codec talks to an opaque byte stream. TCP and TLS dialers are
// built in; Unix sockets, SOCKS5 tunnels and QUIC streams are provided as
// alternative Dialer implementations. Anything satisfying the Dialer
// contract can carry the protocol.
//
// # Session persistence
//
// With clean-session disabled, subscription state and unfinished QoS 2
// exchanges survive reconnects through a SessionStore. A JSON file store,
// a SQLite store and an in-memory store are provided; custom stores only
// need the save/load/delete/exists contract in session.go.
package mqttc
