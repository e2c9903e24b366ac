// Package clasp is a stateful signal-distribution engine for creative
// control data: lighting, audio, video, and interactive installations
// speaking one address-addressed protocol.
//
// # Architecture
//
// The engine is transport-agnostic. Its core packages compose in one
// direction:
//
//   - state: the retained address space with per-address revisions
//   - address: path validation and wildcard pattern matching
//   - signal: the five signal kinds (param, event, stream, gesture,
//     timeline) and their operation/update forms
//   - subscription: pattern-matched fan-out with late-joiner snapshots
//     and per-subscription rate caps
//   - router: typed dispatch semantics and gesture phase tracking
//   - scheduler: timestamped atomic bundles
//   - auth: capability tokens scoping reads and writes by pattern
//   - session: connected clients and their delivery queues
//   - engine: the facade serializing commits across all of the above
//
// Around the core sit the adapters: gateway (WebSocket JSON frames),
// federation (NATS bridging between engines), metric and health
// (observability), and cmd/claspd (the daemon).
//
// # Signal model
//
// Every signal lives at a slash-delimited address such as
// /lights/front/1/intensity. Params and timelines are retained with
// monotonic revisions; events, streams, and gestures are ephemeral.
// Subscribers match addresses with * (one segment) and ** (any
// remainder) wildcards and receive a snapshot of retained state before
// live updates, so late joiners never miss the current picture.
package clasp
