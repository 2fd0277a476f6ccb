package transport

import (
	"errors"

	"github.com/gorilla/websocket"
)

// CloseInfo describes how a connection ended.
type CloseInfo struct {
	// Code is the WebSocket close code, or websocket.CloseAbnormalClosure
	// when the socket dropped without a close frame.
	Code int

	// Reason is the peer's close reason or the error text.
	Reason string

	// Clean is true for a normal or going-away close.
	Clean bool
}

// Classify inspects the error returned by Conn.Receive.
func Classify(err error) CloseInfo {
	if err == nil {
		return CloseInfo{Code: websocket.CloseNormalClosure, Clean: true}
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{
			Code:   ce.Code,
			Reason: ce.Text,
			Clean:  ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway,
		}
	}
	if errors.Is(err, ErrClosed) {
		return CloseInfo{Code: websocket.CloseNormalClosure, Reason: err.Error(), Clean: true}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}
