// Package publish delivers consensus events.
//
// A Publisher is the engine's Notifier. For each committed match it
//
//  1. records a ConsensusEvent in the consensus log (one per room),
//  2. sends the canonical payload to a Sink with bounded retry, and
//  3. marks the event published.
//
// Delivery is at least once. An event whose send failed stays unpublished in
// the log until the Relay resends it or its retention window ends.
package publish
