package feed

import "errors"

// ErrNotConnected indicates a command was issued while the transport is closed.
var ErrNotConnected = errors.New("feed: not connected")

// ErrClosed indicates the connection attempt was abandoned by Disconnect.
var ErrClosed = errors.New("feed: client disconnected")
