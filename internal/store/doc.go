// Package store is the SQLite backend for swipematch.
//
// Every method the consensus pipeline depends on is one SQL statement whose
// effect is decided inside SQLite:
//
//   - PutVoteIfAbsent: INSERT ... ON CONFLICT DO NOTHING, RowsAffected
//   - IncrementPositiveCounter: INSERT ... ON CONFLICT DO UPDATE
//     SET positive_count = positive_count + 1 RETURNING positive_count
//   - TransitionRoomToMatched: UPDATE ... WHERE status IN ('ACTIVE','WAITING')
//     AND matched_item_id = '', RowsAffected
//
// The same file also holds the vote change feed (vote_feed, feed_cursors)
// and the consensus log (consensus_events).
package store
