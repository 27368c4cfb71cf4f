// Package gcp provides a wrapper around the Google Cloud compute and
// container APIs.
//
// All provider operations the provisioner needs are declared on the [Client]
// interface so tests can substitute fakes; [RealClient] is the production
// implementation backed by google.golang.org/api.
package gcp
