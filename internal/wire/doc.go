// Package wire defines the JSON envelope protocol spoken between a chat
// client and a hub over one websocket connection. Client requests may carry
// an ack id; the hub answers each with exactly one ack envelope bearing the
// same id. Server pushes carry no ack id.
package wire
