// Package app assembles the service: configuration, logging, telemetry,
// the registry store, the ledger client and the HTTP surface. It owns the
// process lifecycle from startup wiring to graceful shutdown.
package app
