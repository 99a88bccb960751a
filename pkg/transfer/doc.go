// Package transfer implements tangram's import/export streaming
// protocol (spec.md §4.8 / §6.2): an Exporter walks an object's
// closure over a single ordered event channel, pruning descent into
// any subtree the peer has already acknowledged complete, and an
// Importer writes received items into the store and publishes index
// messages for them.
//
// The channel-plus-stop-signal shape of both halves generalizes the
// teacher's pkg/events.Broker (buffered publish, a dedicated
// distribution goroutine, non-blocking send that drops rather than
// blocks a full buffer) to a single-consumer ordered stream instead of
// a fan-out pub/sub bus.
package transfer
