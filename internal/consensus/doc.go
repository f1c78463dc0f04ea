// Package consensus decides whether a room has matched on an item.
//
// The rule is a pure function of the authoritative positive-vote count and
// the room's member count. It performs no I/O and holds no state, so it can be
// evaluated by any number of concurrent workers.
//
// Only POSITIVE votes are ever counted. NEGATIVE, SKIP and UNDECIDED votes
// neither block nor cancel earlier POSITIVE votes: there is no veto.
//
// The quorum is configurable through a Policy. The default, PolicyUnanimous,
// requires every member to vote POSITIVE on the same item; a two-of-three
// room never matches under it.
package consensus
