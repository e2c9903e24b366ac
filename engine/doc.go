// Package engine assembles the CLASP core: retained state, pattern
// subscriptions, the typed signal router, and the bundle scheduler,
// behind one facade with a single commit order. Transport adapters
// connect sessions to an Engine and translate their wire frames into
// its operations.
package engine
