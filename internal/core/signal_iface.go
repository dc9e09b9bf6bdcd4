package core

import "errors"

// Frame is an encoded event ready for the wire.
type Frame []byte

// ErrBackpressure is returned by TrySend when the peer's queue is full.
var ErrBackpressure = errors.New("backpressure")

// ErrConnClosed is returned by TrySend after Close.
var ErrConnClosed = errors.New("connection closed")

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
