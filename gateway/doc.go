// Package gateway is the WebSocket transport adapter. Each accepted
// connection performs a hello handshake, becomes an engine session,
// and exchanges JSON frames: commands in, acks, errors, and signal
// updates out.
package gateway
