// Package health provides composable probes and the HTTP handlers that
// serve them as liveness and readiness endpoints.
//
// Probes combine with [All] and bound slow checks with [WithTimeout].
// [CheckFunc] adapts a plain function and [Named] prefixes failures so a
// readiness body says which dependency is down.
//
// [ShutdownGate] coordinates graceful shutdown: once set, readiness fails
// immediately so load balancers stop routing new downloads while in-flight
// ones drain.
package health
