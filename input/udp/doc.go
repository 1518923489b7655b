// Package udp provides the UDP input component: sensor gateways push
// JSON event datagrams to a UDP port, and the component forwards each
// datagram to the raw-events JetStream subject.
//
// Datagrams are staged in a ring buffer between the socket read loop
// and NATS publishing so short broker outages do not drop packets at
// the socket. When the buffer fills, the oldest staged datagrams are
// dropped first: for live vibration data, fresh readings beat stale
// ones.
package udp
