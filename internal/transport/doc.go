// Package transport defines the byte-stream capability the delivery state
// machine runs on: open a one-way channel between two participants, push a
// byte count into it, and get told when bytes arrive or when a full channel
// can accept more. Payload content is never carried, only counts.
//
// Implementations live in memnet (discrete-event, virtual time) and tcpnet
// (live loopback sockets).
package transport
