// Package harness runs scripted link scenarios against the controller and
// checks what it did.
//
// A scenario drives symbols into the primary domain, steps the management
// domain at a fixed ratio, drains the command log through the register
// interface and archives the session. Assertions then inspect the event
// trace, the drained records, the acknowledgment packets and the archive.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: run_prepare
//	description: "What this scenario validates"
//	session_id: test-session-run-prepare
//	agents: { count: 2, latency: 1 }
//	steps:
//	  - command: RunPrepare
//	    payload: [0x01, 0x02, 0x03, 0x04]
//	  - settle: true
//	  - error: { data: 0x12, flags: [parity] }
//	  - hard_reset: 3
//	assertions:
//	  - type: trace_contains
//	    kind: ack
//	    fields: { beat: { run_number: 0x020304 } }
//	  - type: final_state
//	    table: log_records
//	    where: { seq: 1 }
//	    expect: { payload: 0x01020304 }
//
// # Assertion Types
//
//   - trace_contains: an event of the given kind with matching fields
//   - trace_order: event kinds appear in the specified order
//   - trace_count: an event appears exactly N times
//   - record_count, ack_count: drained records and accepted packets
//   - reset_lines, latched: end-of-run engine outputs
//   - final_state: queries an archive table and verifies expected values
//
// # Deterministic Testing
//
// Both clock domains are stepped from one goroutine, the session ID is
// fixed (from scenario.session_id) and the archive is an in-memory SQLite
// database unless WithStore is given. Identical scenarios produce identical
// snapshots, which golden files compare byte for byte.
package harness
