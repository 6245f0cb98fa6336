// Package ring owns participant state and ring topology.
//
// Ownership boundary:
// - per-connection read/decode/act loop
// - OPENING -> UP -> CLOSING transitions
// - registry of registered participants
// - chain wiring of outbound targets in accept order
//
// The package does not accept connections; see package relay.
package ring
