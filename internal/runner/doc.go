// Package runner drives eligibility evaluation passes.
//
// ARCHITECTURE:
//
// Single-Writer Trigger Loop:
// Triggers (timer tick, wallet change, user action, completed read) are
// enqueued from any goroutine and processed in FIFO order by one Run
// goroutine. Each trigger runs one evaluation pass:
//
//  1. take the next pass number from the PassCounter and capture the epoch
//  2. read chain time once
//  3. fetch machine, candy guard and (if connected) wallet state
//  4. aggregate verdicts for every guard group
//  5. publish to the state holder unless the pass went stale
//
// Staleness:
// The epoch is bumped whenever inputs outside the pass change: a wallet
// connects or disconnects, evaluation is paused for the NFT display, or a
// caller invalidates. Bumping cancels the in-flight pass; a pass whose epoch
// no longer matches is discarded instead of published. The holder also
// refuses a pass older than the one it holds, so the newest pass always wins.
//
// Failures:
// Configuration and integrity errors halt the session; the snapshot carries
// the error for a persistent banner and later passes are refused. Transient
// read failures keep the last verdicts, marked stale, and the next trigger
// retries.
package runner
