// Package harness runs YAML scenarios against the real vote pipeline and
// compares the resulting trace with golden files.
//
// # Scenario Format
//
//	name: r1_unanimous_match
//	description: "Two members agree on M1"
//	policy: unanimous            # optional, default unanimous
//	rooms:
//	  - id: R1
//	    members: 2
//	    status: ACTIVE           # optional, default ACTIVE
//	    matched: M2              # optional, start already MATCHED on M2
//	steps:
//	  - vote: { room: R1, item: M1, user: u1, type: POSITIVE }
//	    expect: counted
//	  - submit: { room: R1, item: M1, user: u2, type: POSITIVE }
//	  - dispatch: true
//	  - status: { room: R1, to: PAUSED }
//	  - sink_outage: 1
//	  - relay: true
//	assertions:
//	  - type: room
//	    room: R1
//	    status: MATCHED
//	    matched_item: M1
//	  - type: counter
//	    room: R1
//	    item: M1
//	    count: 2
//
// vote steps call the processor directly and record its outcome. submit
// steps append to the change feed; dispatch drains it through the poller.
//
// # Assertion Types
//
//   - room: status and matched item of a room
//   - counter: positive count of an item
//   - votes: number of stored votes in a room
//   - published: number of consensus messages the sink accepted
//   - trace_count: number of trace events of a type (and outcome)
//
// # Determinism
//
// Every run uses a fresh in-memory store, a testutil.DeterministicClock and
// sequential event ids, so identical scenarios produce identical traces.
package harness
