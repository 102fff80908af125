package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snowmerak/sdkloader.go/lib/multiplexer"
)

// Handler serves one named request inside the adapter. A returned error is
// sent to the host as an error response carrying err.Error().
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Module is the adapter side of a plugin channel. It dispatches requests from
// the host to registered handlers.
type Module struct {
	multiplexer  multiplexer.Multiplexer
	handler      map[string]Handler
	handlerLock  sync.RWMutex
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	activeJobs   sync.WaitGroup
	activeCount  atomic.Int64
}

// New creates a new Module instance with the specified reader and writer.
// If reader or writer are nil, they default to os.Stdin and os.Stdout respectively.
func New(reader io.Reader, writer io.Writer) *Module {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}

	return &Module{
		multiplexer:  multiplexer.New(reader, writer),
		handler:      make(map[string]Handler),
		shutdownChan: make(chan struct{}),
	}
}

// NewStd creates a new Module instance using standard input and output.
func NewStd() *Module {
	return New(os.Stdin, os.Stdout)
}

// Handle registers fn for requests named name, replacing any earlier handler.
func (m *Module) Handle(name string, fn Handler) {
	m.handlerLock.Lock()
	defer m.handlerLock.Unlock()
	m.handler[name] = fn
}

// Shutdown stops accepting new requests.
func (m *Module) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownChan)
	})
}

// IsShutdown returns true if the module is shutting down.
func (m *Module) IsShutdown() bool {
	select {
	case <-m.shutdownChan:
		return true
	default:
		return false
	}
}

// ActiveJobs returns the number of requests currently being served.
func (m *Module) ActiveJobs() int64 {
	return m.activeCount.Load()
}

// SendReady tells the host that the module accepts requests.
func (m *Module) SendReady(ctx context.Context) error {
	return m.send(ctx, 0, Header{Name: readyMessage, MessageType: MessageTypeAck, Payload: []byte("ready")})
}

// SendMessage sends a notification to the host without expecting a response.
func (m *Module) SendMessage(ctx context.Context, name string, payload []byte) error {
	return m.send(ctx, 0, Header{Name: name, MessageType: MessageTypeNotify, Payload: payload})
}

func (m *Module) send(ctx context.Context, seq uint32, header Header) error {
	data, err := header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if seq == 0 {
		return m.multiplexer.WriteMessage(ctx, data)
	}
	return m.multiplexer.WriteMessageWithSequence(ctx, seq, data)
}

// Listen announces readiness and serves requests until the host asks for
// shutdown, the stream ends or ctx is done. In-flight requests are allowed to
// finish before Listen returns.
func (m *Module) Listen(ctx context.Context) error {
	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recv, err := m.multiplexer.ReadMessage(listenCtx)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if err := m.SendReady(ctx); err != nil {
		return fmt.Errorf("failed to send ready signal: %w", err)
	}

	for {
		select {
		case mesg, ok := <-recv:
			if !ok {
				m.Shutdown()
				m.waitForJobs(5 * time.Second)
				return nil
			}
			if mesg.Type != multiplexer.MessageHeaderTypeComplete {
				continue
			}

			var header Header
			if err := header.UnmarshalBinary(mesg.Data); err != nil {
				continue
			}

			if header.Name == shutdownMessage {
				m.Shutdown()
				m.waitForJobs(0)
				ack := Header{
					Name:        shutdownAckMessage,
					MessageType: MessageTypeAck,
					Payload:     []byte("shutdown complete"),
				}
				return m.send(ctx, mesg.ID, ack)
			}

			if header.MessageType != MessageTypeRequest {
				continue
			}

			if m.IsShutdown() {
				m.send(listenCtx, mesg.ID, Header{
					Name:        header.Name,
					IsError:     true,
					MessageType: MessageTypeError,
					Payload:     []byte("service unavailable: graceful shutdown in progress"),
				})
				continue
			}

			m.activeJobs.Add(1)
			m.activeCount.Add(1)
			go func(seq uint32, req Header) {
				defer func() {
					m.activeCount.Add(-1)
					m.activeJobs.Done()
				}()
				m.processRequest(listenCtx, seq, req)
			}(mesg.ID, header)

		case <-listenCtx.Done():
			m.waitForJobs(5 * time.Second)
			return listenCtx.Err()
		}
	}
}

// waitForJobs waits for in-flight requests; a zero timeout waits indefinitely.
func (m *Module) waitForJobs(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		m.activeJobs.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func (m *Module) processRequest(ctx context.Context, seq uint32, req Header) {
	m.handlerLock.RLock()
	fn, exists := m.handler[req.Name]
	m.handlerLock.RUnlock()

	response := Header{Name: req.Name, MessageType: MessageTypeResponse}
	if !exists {
		response.IsError = true
		response.MessageType = MessageTypeError
		response.Payload = []byte(fmt.Sprintf("no handler registered for service: %s", req.Name))
	} else {
		payload, err := invoke(ctx, fn, req.Payload)
		if err != nil {
			response.IsError = true
			response.MessageType = MessageTypeError
			response.Payload = []byte(err.Error())
		} else {
			response.Payload = payload
		}
	}

	m.send(ctx, seq, response)
}

func invoke(ctx context.Context, fn Handler, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, payload)
}
