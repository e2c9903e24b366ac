// Package natsclient wraps a NATS connection with reconnect handling,
// status reporting, and structured logging. The federation bridge
// builds on it.
package natsclient
