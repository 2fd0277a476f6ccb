// Package wire implements the push channel frame encoding.
//
// Frames are CBOR maps with integer keys wrapped in a small envelope:
//
//	{
//	  1: type,     // uint8: 1=subscribe, 2=ping, 3=stats, 4=pong
//	  2: version,  // "major.minor", optional
//	  3: body      // type-specific map
//	}
//
// The client sends subscribe and ping; the collector sends stats and pong.
// Decode is the single deserialization boundary: it matches every known
// frame type exhaustively and turns anything else into a protocol error
// (ErrUnknownFrame, ErrMalformedFrame, ErrIncompatibleVersion). A protocol
// error never tears down the connection; the caller discards and logs the
// frame.
package wire
