// Package server implements the Damso real-time group-messaging relay: the
// session and room registries, the protocol router that validates and
// dispatches inbound envelopes, the broadcast fan-out, and the HTTP surface
// (WebSocket upgrades, file uploads, health).
//
// All mutable state lives behind the Hub's mutex so that every envelope, and
// every broadcast it triggers, is handled as one atomic unit in a single
// global order.
package server
