// Package hub is the server side of the chat wire contract: it upgrades
// websocket clients, registers sessions, fans messages out to session rooms,
// and acknowledges every acknowledged request exactly once. cmd/hubctl runs
// it standalone; integration tests run it in-process.
package hub
