// Package health holds the probes behind /healthz and /readyz.
//
// Readiness for the site is the conjunction of the [ShutdownGate], an active
// content snapshot and, when configured, the subscriber database. Probes
// compose with [All], [Any], [Named] and [WithTimeout].
package health
