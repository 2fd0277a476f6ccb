// Package transport carries push frames over a WebSocket.
//
// The transport knows nothing about frame contents: it moves opaque binary
// messages and reports how the socket ended. Frame encoding lives in
// package wire; lifecycle, generations and reconnects live in package
// connection.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR frames (package wire)   │
//	├────────────────────────────────┤
//	│  WebSocket binary messages     │
//	│  subprotocol statsync.v<major> │
//	├────────────────────────────────┤
//	│   HTTP/1.1 upgrade, TLS (wss)  │
//	└────────────────────────────────┘
//
// Close codes and reasons are surfaced for logging only. The caller branches
// on nothing finer than "closed cleanly" versus "errored".
package transport
