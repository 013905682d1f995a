// Package dispatch routes inbound hub pushes to typed listeners. One
// Dispatcher decodes each envelope exactly once at the boundary, drops
// duplicate new-message pushes by message id, and shields listeners from
// each other: a panicking listener is logged, never propagated.
package dispatch
