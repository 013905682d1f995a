// Package transport owns one physical websocket connection to a chat hub.
// It exposes a coarse connection-state signal, correlates acknowledged
// requests with their ack envelopes, fans push events out to subscribers,
// and reconnects automatically with bounded exponential backoff.
package transport
