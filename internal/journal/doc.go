// Package journal provides a SQLite-backed trace of evaluation passes.
//
// Every snapshot the runner publishes is appended with its verdicts, so
// `mintgate trace` can show why a group was or was not mintable at a given
// pass. The journal is observational: evaluation never reads it back, and a
// failed write only logs.
//
// # Ordering
//
// Passes are keyed and ordered by their logical sequence number, never by
// wall-clock time. Verdicts keep their group order through a position column.
// Recording the same sequence number twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while `watch` writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Each pass stores the digest of its result (see internal/digest), which
// lets readers detect passes whose verdicts did not change.
package journal
