// Package domain defines the core domain types and interfaces.
//
// Counters, snapshots, update records and the ports that connect the producer,
// the pub/sub bridge and the connection registry live here. No implementation
// code, just contracts, so adapters can depend on it without import cycles.
package domain
