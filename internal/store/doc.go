// Package store provides SQLite-backed archival of drained run-control logs.
//
// A session is one simulation or capture run. Each session archives:
//   - Log records: the 4-word transaction records read through the
//     management port, decoded
//   - Ack packets: acknowledgment beats accepted by the packet bus
//   - Dispatches: transitions accepted by the agent group
//
// # Ordering
//
// Rows carry a per-session seq assigned at write time, in the order the
// caller supplies them. All queries ORDER BY seq ASC so reads return rows
// exactly as they were produced. Sessions are ordered by their own seq.
// No wall-clock time is stored; timestamps are the engine's 48-bit cycle
// counts.
//
// The file is opened in WAL mode with foreign keys enforced and a five
// second busy timeout. Schema changes are tracked in user_version.
package store
