// Package federation bridges committed persistent signals between
// engines over NATS. Each node stamps its outbound envelopes with an
// origin ID so applied remote updates never echo back out.
package federation
