// Package provisioning sequences a template-provisioning run.
//
// The driver walks a linear state machine: validate preconditions, derive the
// workload's canonical identity, retrieve live cluster facts, assemble the
// instance-template document, submit it, and poll the asynchronous operation
// to completion. Any failed step short-circuits the rest of the run; retries
// and polling live in the retry and poll packages, not here.
package provisioning
