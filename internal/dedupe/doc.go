// Package dedupe drops client retries of sends that were already accepted,
// keyed by sender and the client-supplied message id within a time window.
package dedupe
