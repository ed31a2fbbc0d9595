// Package rpc implements the RPC-framing layer atop a message-oriented
// transport (spec §4.H): a Fragmenter that chunks large messages and
// reassembles them, and a Promisifier that matches responses to requests
// by id and dispatches incoming service invocations.
//
// Grounded on scm/network.go's "websocket" primitive: its upgrade handler
// exposes exactly the onMessage/send/onClose triad Transport formalizes
// here as an interface, so any duplex (websocket, in-process pipe, test
// double) can sit underneath the same Fragmenter/Promisifier stack.
package rpc

// Transport is a full-duplex, message-oriented connection. Messages are
// either text or binary; Send/OnMessage/OnClose/Close together are the
// same triad scm/network.go's websocket handler returns (send callback,
// onMessage callback, onClose callback).
type Transport interface {
	// Send writes a single message. binary selects the websocket frame
	// type the message is carried in.
	Send(data []byte, binary bool) error

	// OnMessage registers the callback invoked for every message
	// received. Replaces any previously registered callback.
	OnMessage(fn func(data []byte, binary bool))

	// OnClose registers the callback invoked once the transport is
	// closed, locally or by the peer.
	OnClose(fn func())

	// Close tears down the connection.
	Close() error
}
