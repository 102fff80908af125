// Package multiplexer carries framed messages between an adapter host and an
// adapter process over a pair of byte streams.
package multiplexer

import (
	"context"
	"io"
)

// Multiplexer sends and receives framed messages.
type Multiplexer interface {
	// WriteMessage sends a message with automatic sequence numbering
	WriteMessage(ctx context.Context, data []byte) error

	// WriteMessageWithSequence sends a message with a specific sequence number
	WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error

	// ReadMessage starts reading and returns the channel of received messages
	ReadMessage(ctx context.Context) (<-chan *Message, error)

	// Close drops any partially received message
	Close() error
}

// New creates a multiplexer reading from reader and writing to writer.
func New(reader io.Reader, writer io.Writer) Multiplexer {
	return NewNode(reader, writer)
}
