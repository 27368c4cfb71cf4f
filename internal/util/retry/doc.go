// Package retry provides bounded fixed-interval retries for remote operations.
//
// The [Do] function re-invokes a fallible operation up to a caller-supplied
// attempt budget, sleeping a fixed interval between attempts. It is used for
// Google Cloud API calls and cluster reads that may fail transiently.
package retry
