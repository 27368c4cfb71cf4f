// Package poll waits for eventually-consistent remote state.
//
// The [UntilMatch] function probes a remote read once per second until its
// output matches an expected shape or the probe budget runs out. It is used
// for provider-assigned load-balancer addresses and for asynchronous
// operation completion.
package poll
