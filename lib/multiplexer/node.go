package multiplexer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

const (
	// 1 byte message type, 4 bytes frame sequence, 4 bytes data length
	MessageHeaderSize = 9

	MessageHeaderTypeStart    = uint8(0x01)
	MessageHeaderTypeEnd      = uint8(0x02)
	MessageHeaderTypeData     = uint8(0x03)
	MessageHeaderTypeError    = uint8(0x04)
	MessageHeaderTypeComplete = uint8(0x05)
	MessageHeaderTypeAbort    = uint8(0x06)
)

const (
	MessageChunkSize = 1024
	MaxMessageSize   = 10 * 1024 * 1024
)

// Message is a reassembled frame, or a read error when Type is MessageHeaderTypeError.
type Message struct {
	ID   uint32
	Data []byte
	Type uint8
}

// Node frames messages over a byte stream. Each message is written as a start
// frame, data chunks and an end frame while holding the writer lock, so frames
// of different messages never interleave on the wire.
type Node struct {
	reader io.Reader
	writer io.Writer

	writerLock sync.Mutex
	readerLock sync.RWMutex
	readBuffer map[uint32]*Message

	sequence atomic.Uint32
}

var _ Multiplexer = (*Node)(nil)

func NewNode(reader io.Reader, writer io.Writer) *Node {
	return &Node{
		reader:     reader,
		writer:     writer,
		readBuffer: make(map[uint32]*Message),
	}
}

// ReadMessage starts a reader goroutine and returns the channel it delivers
// completed messages on. The channel is closed when the stream ends or fails.
func (n *Node) ReadMessage(ctx context.Context) (<-chan *Message, error) {
	if n.reader == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	ch := make(chan *Message, 256)
	go func() {
		defer close(ch)

		header := make([]byte, MessageHeaderSize)
		for {
			if ctx.Err() != nil {
				return
			}

			if _, err := io.ReadFull(n.reader, header); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
					n.emit(ctx, ch, &Message{Type: MessageHeaderTypeError, Data: []byte(err.Error())})
				}
				return
			}

			msgType := header[0]
			frameID := binary.BigEndian.Uint32(header[1:5])
			dataLength := binary.BigEndian.Uint32(header[5:9])
			if dataLength > MaxMessageSize {
				n.emit(ctx, ch, &Message{Type: MessageHeaderTypeError, Data: []byte(fmt.Sprintf("data length %d exceeds maximum %d", dataLength, MaxMessageSize))})
				return
			}

			switch msgType {
			case MessageHeaderTypeStart:
				n.readerLock.Lock()
				n.readBuffer[frameID] = &Message{ID: frameID, Type: MessageHeaderTypeStart}
				n.readerLock.Unlock()

			case MessageHeaderTypeData:
				chunk := make([]byte, dataLength)
				if _, err := io.ReadFull(n.reader, chunk); err != nil {
					n.emit(ctx, ch, &Message{Type: MessageHeaderTypeError, Data: []byte(err.Error())})
					return
				}

				n.readerLock.Lock()
				m, ok := n.readBuffer[frameID]
				if ok {
					if len(m.Data)+len(chunk) > MaxMessageSize {
						delete(n.readBuffer, frameID)
						ok = false
					} else {
						m.Data = append(m.Data, chunk...)
					}
				}
				n.readerLock.Unlock()

				if !ok {
					n.emit(ctx, ch, &Message{ID: frameID, Type: MessageHeaderTypeError, Data: []byte(fmt.Sprintf("unknown or oversized frame: %d", frameID))})
				}

			case MessageHeaderTypeEnd, MessageHeaderTypeAbort:
				n.readerLock.Lock()
				m, ok := n.readBuffer[frameID]
				delete(n.readBuffer, frameID)
				n.readerLock.Unlock()

				if !ok {
					n.emit(ctx, ch, &Message{ID: frameID, Type: MessageHeaderTypeError, Data: []byte(fmt.Sprintf("unknown frame ID: %d", frameID))})
					continue
				}
				m.Type = MessageHeaderTypeComplete
				if msgType == MessageHeaderTypeAbort {
					m.Type = MessageHeaderTypeAbort
				}
				if !n.emit(ctx, ch, m) {
					return
				}

			default:
				n.emit(ctx, ch, &Message{Type: MessageHeaderTypeError, Data: []byte(fmt.Sprintf("unknown message type: %d", msgType))})
				return
			}
		}
	}()

	return ch, nil
}

func (n *Node) emit(ctx context.Context, ch chan<- *Message, m *Message) bool {
	select {
	case ch <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

func (n *Node) writeFrame(mesgType uint8, frameID uint32, data []byte) error {
	header := make([]byte, MessageHeaderSize)
	header[0] = mesgType
	binary.BigEndian.PutUint32(header[1:5], frameID)
	binary.BigEndian.PutUint32(header[5:9], uint32(len(data)))
	if _, err := n.writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if mesgType == MessageHeaderTypeData && len(data) > 0 {
		if _, err := n.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}
	return nil
}

// WriteMessageWithSequence writes data as one message tagged with seq. When ctx
// ends mid-message an abort frame is written instead of the end frame.
func (n *Node) WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error {
	if n.writer == nil {
		return fmt.Errorf("writer is nil")
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds maximum %d", len(data), MaxMessageSize)
	}

	n.writerLock.Lock()
	defer n.writerLock.Unlock()

	if err := n.writeFrame(MessageHeaderTypeStart, seq, nil); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			if abortErr := n.writeFrame(MessageHeaderTypeAbort, seq, nil); abortErr != nil {
				return fmt.Errorf("failed to write abort message: %w", abortErr)
			}
			return err
		}

		chunkSize := min(len(data), MessageChunkSize)
		if err := n.writeFrame(MessageHeaderTypeData, seq, data[:chunkSize]); err != nil {
			return fmt.Errorf("failed to write data chunk: %w", err)
		}
		data = data[chunkSize:]
	}

	if err := n.writeFrame(MessageHeaderTypeEnd, seq, nil); err != nil {
		return fmt.Errorf("failed to write end message: %w", err)
	}
	return nil
}

// WriteMessage sends a message with the next local sequence number.
func (n *Node) WriteMessage(ctx context.Context, data []byte) error {
	return n.WriteMessageWithSequence(ctx, n.sequence.Add(1), data)
}

// Close drops partially received messages.
func (n *Node) Close() error {
	n.readerLock.Lock()
	defer n.readerLock.Unlock()
	clear(n.readBuffer)
	return nil
}

// GetPendingMessageCount returns the number of partially received messages.
func (n *Node) GetPendingMessageCount() int {
	n.readerLock.RLock()
	defer n.readerLock.RUnlock()
	return len(n.readBuffer)
}
