// Package adapter connects the stress harness to external telemetry and
// health monitoring systems.
package adapter
