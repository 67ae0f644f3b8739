// Package mqttv3 provides an MQTT 3.1.1 client.
//
// This package implements the client side of the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - Every MQTT 3.1.1 control packet type
//   - QoS 0, 1 and 2 acknowledgment flows
//   - Topic matching with wildcard support (+, #)
//   - Reconnection with bounded exponential backoff
//   - Transport: TCP, Unix socket, WebSocket, HTTP CONNECT and SOCKS5 proxies
//
// # Packet Types
//
// The package provides structs for the MQTT 3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Liveness check
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket to read/write packets from/to connections:
//
//	// Read a packet sent by a broker
//	pkt, n, err := mqttv3.ReadPacket(conn, mqttv3.ServerToClient, maxPacketSize)
//
//	// Write a packet
//	n, err := mqttv3.WritePacket(conn, packet, maxPacketSize)
//
// PacketBuffer decodes packets from an accumulating byte stream and reports
// ErrIncomplete until a whole packet is buffered.
//
// # Client
//
// Dial connects and sends CONNECT; Run reads and dispatches until Disconnect:
//
//	client, err := mqttv3.Dial(ctx, "tcp://localhost:1883",
//	    mqttv3.WithClientID("my-client"),
//	)
//
//	matcher, _, err := client.Subscribe("sensors/+/temperature", mqttv3.QoS1)
//
//	err = client.Run(ctx, mqttv3.HandlerFuncs{
//	    Message: func(msg *mqttv3.PublishPacket) {
//	        if matcher.MatchesMessage(msg) {
//	            fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	        }
//	    },
//	})
//
// An unexpected close makes Run reconnect with the stored address,
// credentials and will. Disconnect makes Run return nil.
//
// # Topic Matching
//
// Topic filters support wildcards:
//
//   - '+' matches exactly one topic level
//   - '#' matches zero or more remaining levels (must be last)
//
// Use NewTopicMatcher to match topics against filters:
//
//	m, err := mqttv3.NewTopicMatcher("sensors/+/temperature")
//	m.Matches("sensors/kitchen/temperature") // true
package mqttv3
