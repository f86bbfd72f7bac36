// Package rate implements the login lockout limiter on shared Redis
// counters. Counters are incremented with a single INCR and compared against
// the configured ceiling using the returned value, never via
// read-modify-write from process memory, so the 5-attempt cap holds across
// any number of service instances.
package rate
