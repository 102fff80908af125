package multiplexer_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/snowmerak/sdkloader.go/lib/multiplexer"
)

func TestNewNode(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer)
	if node == nil {
		t.Fatal("NewNode returned nil")
	}
}

func TestNode_WriteMessageWithSequence(t *testing.T) {
	tests := []struct {
		name string
		seq  uint32
		data []byte
	}{
		{name: "empty data", seq: 1, data: []byte{}},
		{name: "small data", seq: 2, data: []byte("hello world")},
		{name: "larger than chunk", seq: 3, data: bytes.Repeat([]byte("x"), multiplexer.MessageChunkSize*3+7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, writer := io.Pipe()
			defer reader.Close()

			node := multiplexer.NewNode(reader, writer)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- node.WriteMessageWithSequence(ctx, tt.seq, tt.data)
				writer.Close()
			}()

			messages, err := node.ReadMessage(ctx)
			if err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}

			select {
			case msg, ok := <-messages:
				if !ok {
					t.Fatal("channel closed before a message arrived")
				}
				if msg.Type != multiplexer.MessageHeaderTypeComplete {
					t.Fatalf("expected complete message, got type %d (%s)", msg.Type, msg.Data)
				}
				if msg.ID != tt.seq {
					t.Errorf("expected sequence %d, got %d", tt.seq, msg.ID)
				}
				if !bytes.Equal(msg.Data, tt.data) {
					t.Errorf("payload mismatch: expected %d bytes, got %d", len(tt.data), len(msg.Data))
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for message")
			}

			if err := <-errCh; err != nil {
				t.Errorf("write failed: %v", err)
			}
		})
	}
}

func TestNode_ConcurrentWritersDoNotInterleave(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	node := multiplexer.NewNode(reader, writer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const writers = 8
	payload := func(i int) []byte {
		return bytes.Repeat([]byte{byte('a' + i)}, multiplexer.MessageChunkSize*2+i)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every writer reuses sequence 7
			if err := node.WriteMessageWithSequence(ctx, 7, payload(i)); err != nil {
				t.Errorf("writer %d failed: %v", i, err)
			}
		}(i)
	}
	go func() {
		wg.Wait()
		writer.Close()
	}()

	messages, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	seen := map[byte]bool{}
	for msg := range messages {
		if msg.Type != multiplexer.MessageHeaderTypeComplete {
			t.Fatalf("unexpected message type %d: %s", msg.Type, msg.Data)
		}
		first := msg.Data[0]
		if !bytes.Equal(msg.Data, payload(int(first-'a'))) {
			t.Fatalf("message for writer %c was corrupted", first)
		}
		seen[first] = true
	}
	if len(seen) != writers {
		t.Errorf("expected %d messages, got %d", writers, len(seen))
	}
}

func TestNode_WriteMessageAssignsSequence(t *testing.T) {
	var buf bytes.Buffer
	node := multiplexer.NewNode(nil, &buf)

	if err := node.WriteMessage(context.Background(), []byte("a")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := node.WriteMessage(context.Background(), []byte("b")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	reader := multiplexer.NewNode(bytes.NewReader(buf.Bytes()), nil)
	messages, err := reader.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var ids []uint32
	for msg := range messages {
		ids = append(ids, msg.ID)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("expected two distinct sequence numbers, got %v", ids)
	}
}

func TestNode_CancelledWriteAborts(t *testing.T) {
	var buf bytes.Buffer
	node := multiplexer.NewNode(nil, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := node.WriteMessageWithSequence(ctx, 9, []byte("payload")); err == nil {
		t.Fatal("expected cancellation error")
	}

	reader := multiplexer.NewNode(bytes.NewReader(buf.Bytes()), nil)
	messages, err := reader.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	msg, ok := <-messages
	if !ok {
		t.Fatal("expected an abort message")
	}
	if msg.Type != multiplexer.MessageHeaderTypeAbort {
		t.Errorf("expected abort, got type %d", msg.Type)
	}
}

func TestNode_TruncatedMessageStaysPending(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, multiplexer.MessageHeaderSize)
	header[0] = multiplexer.MessageHeaderTypeStart
	binary.BigEndian.PutUint32(header[1:5], 5)
	buf.Write(header)

	header[0] = multiplexer.MessageHeaderTypeData
	binary.BigEndian.PutUint32(header[5:9], 4)
	buf.Write(header)
	buf.WriteString("half")

	node := multiplexer.NewNode(bytes.NewReader(buf.Bytes()), nil)
	messages, err := node.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	for msg := range messages {
		t.Errorf("unexpected message: type %d", msg.Type)
	}

	if got := node.GetPendingMessageCount(); got != 1 {
		t.Errorf("expected 1 pending message, got %d", got)
	}
	node.Close()
	if got := node.GetPendingMessageCount(); got != 0 {
		t.Errorf("expected no pending messages after Close, got %d", got)
	}
}
