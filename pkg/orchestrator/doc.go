// Package orchestrator starts the server as a child process and supervises
// it from the parent.
//
// Run performs the whole startup sequence:
//
//  1. check the requested port and scan forward for a free one
//  2. spawn `locallab serve` as a fresh child process with piped output
//  3. pump both pipes line by line into a bounded logqueue.Queue drained by
//     a single listener goroutine
//  4. after the warm-up, poll GET /health across the health window until
//     one port answers 200 or the startup timeout expires
//  5. optionally provision a public tunnel to the healthy port
//  6. wait for a signal or the child's exit, forwarding SIGTERM and killing
//     the child after the grace period
package orchestrator
