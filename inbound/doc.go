// Package inbound is the HTTP boundary of the factory. Each tenant gate is
// mounted at /<tenant>; the router only forwards raw bodies and headers and
// renders the gate outcome.
package inbound
