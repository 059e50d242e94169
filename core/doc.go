// Package core holds the tenant domain types, cross-package contracts, error
// envelopes, configuration and the shared observer. Every other package in the
// module depends on core; core depends on none of them.
package core
