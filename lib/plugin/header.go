package plugin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType represents the type of message being sent
type MessageType uint8

const (
	MessageTypeRequest  MessageType = 0x01 // Request message (expects response)
	MessageTypeResponse MessageType = 0x02 // Response message (response to request)
	MessageTypeNotify   MessageType = 0x03 // Notification message (no response expected)
	MessageTypeAck      MessageType = 0x04 // Acknowledgment message
	MessageTypeError    MessageType = 0x05 // Error message
)

// Names of the control messages exchanged by every loader and module.
const (
	readyMessage       = "ready"
	shutdownMessage    = "shutdown"
	shutdownAckMessage = "shutdown_ack"
	logMessage         = "log"
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeNotify:
		return "Notify"
	case MessageTypeAck:
		return "Ack"
	case MessageTypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Header represents the message header containing service name, error status, and payload.
type Header struct {
	Name        string
	IsError     bool
	MessageType MessageType
	Payload     []byte
}

// MarshalBinary encodes the header into binary format.
func (h *Header) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.Grow(4 + len(h.Name) + 2 + 4 + len(h.Payload))

	if err := binary.Write(&buffer, binary.BigEndian, uint32(len(h.Name))); err != nil {
		return nil, fmt.Errorf("failed to write name length: %w", err)
	}
	buffer.WriteString(h.Name)

	var isErrorByte byte
	if h.IsError {
		isErrorByte = 1
	}
	buffer.WriteByte(isErrorByte)
	buffer.WriteByte(byte(h.MessageType))

	if err := binary.Write(&buffer, binary.BigEndian, uint32(len(h.Payload))); err != nil {
		return nil, fmt.Errorf("failed to write payload length: %w", err)
	}
	buffer.Write(h.Payload)

	return buffer.Bytes(), nil
}

// UnmarshalBinary decodes the header from binary format.
func (h *Header) UnmarshalBinary(data []byte) error {
	buffer := bytes.NewReader(data)

	var nameLen uint32
	if err := binary.Read(buffer, binary.BigEndian, &nameLen); err != nil {
		return fmt.Errorf("failed to read name length: %w", err)
	}
	if int64(nameLen) > int64(buffer.Len()) {
		return fmt.Errorf("name length %d exceeds remaining %d bytes", nameLen, buffer.Len())
	}

	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(buffer, nameBytes); err != nil {
		return fmt.Errorf("failed to read name: %w", err)
	}
	h.Name = string(nameBytes)

	var flags [2]byte
	if _, err := io.ReadFull(buffer, flags[:]); err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	h.IsError = flags[0] == 1
	h.MessageType = MessageType(flags[1])

	var payloadLen uint32
	if err := binary.Read(buffer, binary.BigEndian, &payloadLen); err != nil {
		return fmt.Errorf("failed to read payload length: %w", err)
	}
	if int64(payloadLen) > int64(buffer.Len()) {
		return fmt.Errorf("payload length %d exceeds remaining %d bytes", payloadLen, buffer.Len())
	}

	h.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(buffer, h.Payload); err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	return nil
}
