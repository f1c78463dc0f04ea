// Package engine implements the swipematch vote consensus pipeline.
//
// The pipeline turns one vote into at most one room match:
//
//	change feed -> Dispatcher -> Processor -> consensus.Rule -> Transition -> Notifier
//
// ARCHITECTURE:
//
// No in-process locking:
// The engine is invoked once per change-feed record, possibly by many workers
// with no shared memory. Every correctness guarantee comes from the VoteStore's
// atomic primitives (conditional insert, atomic increment, conditional status
// update). The engine never reads a counter, adds one and writes it back.
//
// Strict step order:
// vote persisted -> counter incremented -> room loaded -> rule evaluated ->
// transition attempted -> notification published. A failure at any step stops
// the remaining steps. A redelivered record re-enters at the top; once its vote
// row exists it is not counted again. A duplicate POSITIVE vote re-reads the
// counter and re-runs the room check and the conditional transition, so a
// transition that failed after the count committed is retried and never
// applied twice.
//
// Expected races are outcomes, not errors:
// A duplicate vote, a room that is already resolved, and a lost transition race
// are reported through Outcome and never as errors, so they do not trigger
// retries or alerts.
//
// Error classes:
//   - *model.ValidationError: malformed input, no writes attempted
//   - model.ErrRoomNotFound: vote for a room the store does not know
//   - model.ErrUnknownStatus: the room holds a status this build cannot handle
//   - *PublishError: the match committed but the notifier failed
//   - anything else: transient storage failure, returned unchanged
package engine
