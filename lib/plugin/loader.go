// Package plugin runs adapters in separate processes and exchanges named
// requests and notifications with them over a framed stdio channel.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snowmerak/sdkloader.go/lib/multiplexer"
	"github.com/snowmerak/sdkloader.go/lib/process"
)

var (
	ErrLoaderClosed  = errors.New("loader is closed")
	ErrNotLoaded     = errors.New("loader not loaded or load failed")
	ErrProcessExited = errors.New("adapter process exited")
)

const (
	readyTimeout       = 10 * time.Second
	shutdownAckTimeout = 2 * time.Second
	drainTimeout       = 2 * time.Second
)

// Option configures a Loader.
type Option func(*Loader)

// WithChannel attaches the loader to an existing stream pair instead of forking Path.
func WithChannel(r io.Reader, w io.Writer) Option {
	return func(l *Loader) {
		l.reader = r
		l.writer = w
	}
}

// WithLogger sets the logger that receives the adapter's log notifications.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEnv adds environment variables to the forked adapter.
func WithEnv(env ...string) Option {
	return func(l *Loader) {
		l.env = append(l.env, env...)
	}
}

// WithStderr routes the adapter's stderr.
func WithStderr(w io.Writer) Option {
	return func(l *Loader) {
		l.stderr = w
	}
}

// Loader manages the lifecycle of an adapter process and the requests sent to it.
type Loader struct {
	Path string
	Name string

	logger *slog.Logger
	env    []string
	stderr io.Writer
	reader io.Reader
	writer io.Writer

	process     *process.Process
	multiplexer multiplexer.Multiplexer

	requestID       atomic.Uint32
	pendingRequests map[uint32]chan Header
	requestMutex    sync.Mutex

	loadCtx    context.Context
	cancelLoad context.CancelFunc
	loaded     atomic.Bool
	closed     atomic.Bool
	wg         sync.WaitGroup

	processExited atomic.Bool
	readySignal   chan struct{}
	shutdownAck   chan struct{}

	messageHandlers map[string]MessageHandler
	handlerMutex    sync.RWMutex
}

// NewLoader creates a loader for the adapter executable at path.
func NewLoader(path, name string, opts ...Option) *Loader {
	l := &Loader{
		Path:            path,
		Name:            name,
		logger:          slog.Default(),
		pendingRequests: make(map[uint32]chan Header),
		readySignal:     make(chan struct{}, 1),
		shutdownAck:     make(chan struct{}, 1),
		messageHandlers: make(map[string]MessageHandler),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.registerBuiltinHandlers()
	return l
}

// Load starts the adapter and waits until it reports ready. ctx bounds the
// startup only; the running adapter lives until Close.
func (l *Loader) Load(ctx context.Context) error {
	if l.closed.Load() {
		return ErrLoaderClosed
	}
	if !l.loaded.CompareAndSwap(false, true) {
		return fmt.Errorf("loader %s already loaded", l.Name)
	}

	r, w := l.reader, l.writer
	if r == nil || w == nil {
		var opts []process.Option
		if len(l.env) > 0 {
			opts = append(opts, process.WithEnv(l.env...))
		}
		if l.stderr != nil {
			opts = append(opts, process.WithStderr(l.stderr))
		}

		p, err := process.Fork(l.Path, opts...)
		if err != nil {
			l.loaded.Store(false)
			return fmt.Errorf("failed to fork process: %w", err)
		}
		l.process = p
		r, w = p.Stdout(), p.Stdin()
		l.logger.Debug("adapter process started", "plugin", l.Name, "path", l.Path, "pid", p.Pid())
	}

	l.multiplexer = multiplexer.New(r, w)
	l.loadCtx, l.cancelLoad = context.WithCancel(context.WithoutCancel(ctx))

	if l.process != nil {
		l.wg.Add(1)
		go l.monitorProcess()
	}

	recv, err := l.multiplexer.ReadMessage(l.loadCtx)
	if err != nil {
		l.abortLoad()
		return fmt.Errorf("failed to read messages: %w", err)
	}
	l.wg.Add(1)
	go l.handleMessages(recv)

	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	select {
	case <-l.readySignal:
		return nil
	case <-ctx.Done():
		l.abortLoad()
		return fmt.Errorf("context cancelled while waiting for ready signal: %w", ctx.Err())
	case <-l.loadCtx.Done():
		l.abortLoad()
		return fmt.Errorf("adapter %s exited before it was ready", l.Name)
	case <-timer.C:
		l.abortLoad()
		return fmt.Errorf("timeout waiting for ready signal from %s", l.Name)
	}
}

func (l *Loader) abortLoad() {
	l.closed.Store(true)
	if l.cancelLoad != nil {
		l.cancelLoad()
	}
	if l.process != nil {
		l.process.Close()
	}
}

// Close asks the adapter to shut down gracefully, then terminates it.
func (l *Loader) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrLoaderClosed
	}
	if !l.loaded.Load() {
		return nil
	}

	if l.multiplexer != nil && !l.processExited.Load() {
		shutdownHeader := Header{
			Name:        shutdownMessage,
			MessageType: MessageTypeRequest,
			Payload:     []byte("graceful shutdown"),
		}

		if shutdownData, err := shutdownHeader.MarshalBinary(); err == nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			err := l.multiplexer.WriteMessage(shutdownCtx, shutdownData)
			shutdownCancel()

			if err == nil {
				select {
				case <-l.shutdownAck:
				case <-l.loadCtx.Done():
				case <-time.After(shutdownAckTimeout):
					l.logger.Warn("adapter did not acknowledge shutdown", "plugin", l.Name)
				}
			}
		}
	}

	l.cancelLoad()

	var closeErr error
	if l.process != nil {
		closeErr = l.process.Close()
	}
	if c, ok := l.writer.(io.Closer); ok && l.process == nil {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		l.logger.Warn("adapter goroutines did not stop in time", "plugin", l.Name)
	}

	return closeErr
}

// monitorProcess stops message handling once the adapter process exits. The
// loader still has to be closed to release its pipes.
func (l *Loader) monitorProcess() {
	defer l.wg.Done()

	err := l.process.Wait()
	l.processExited.Store(true)
	if !l.closed.Load() {
		l.logger.Warn("adapter process exited", "plugin", l.Name, "error", err)
	}
	l.cancelLoad()
}

// IsProcessAlive reports whether the adapter can still serve calls.
func (l *Loader) IsProcessAlive() bool {
	return l.loaded.Load() && !l.processExited.Load() && !l.closed.Load()
}

// Pid returns the adapter's process id, or 0 when no process was forked.
func (l *Loader) Pid() int {
	if l.process == nil {
		return 0
	}
	return l.process.Pid()
}

func (l *Loader) generateRequestID() uint32 {
	l.requestMutex.Lock()
	defer l.requestMutex.Unlock()

	for {
		id := l.requestID.Add(1)
		if id == 0 {
			continue
		}
		if _, exists := l.pendingRequests[id]; !exists {
			return id
		}
	}
}
