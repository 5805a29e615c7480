// Package health holds request-time probes and the plain-text liveness and
// readiness handlers served on the public and admin listeners.
//
// [ShutdownGate] flips readiness to failing at the start of drain so load
// balancers stop routing before the listener closes.
package health
