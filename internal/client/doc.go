// Package client ties the transport, outbox, and dispatcher together into
// one chat client. It owns the session lifecycle: a two-phase negotiation
// (create-session then join-session) under a single wall clock, a bounded
// retry budget for failed negotiations, and a status signal that UIs
// subscribe to instead of polling.
package client
