// Package bridge constructs adapter commands inside a separate adapter process
// and proxies their operations over the plugin channel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/sdkloader.go/lib/command"
	"github.com/snowmerak/sdkloader.go/lib/isolation"
	"github.com/snowmerak/sdkloader.go/lib/logging"
	"github.com/snowmerak/sdkloader.go/lib/plugin"
)

// DefaultCallTimeout bounds calls that carry no context of their own, such as construction.
const DefaultCallTimeout = 30 * time.Second

type client = plugin.LoaderAdapter[*structpb.Struct, *structpb.Struct]

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCallTimeout sets the timeout for construct requests.
func WithCallTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithEnv adds environment variables to every adapter process.
func WithEnv(env ...string) ResolverOption {
	return func(r *Resolver) {
		r.env = append(r.env, env...)
	}
}

// WithStderr routes adapter stderr.
func WithStderr(w io.Writer) ResolverOption {
	return func(r *Resolver) {
		r.stderr = w
	}
}

// WithLogger sets the logger used when the owning context provides none.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver serves isolation contexts whose symbols live in adapter
// executables. It keeps one running process per executable.
type Resolver struct {
	callTimeout time.Duration
	env         []string
	stderr      io.Writer
	logger      *slog.Logger

	mu      sync.Mutex
	loaders map[string]*plugin.Loader
}

var _ isolation.ProcessResolver = (*Resolver)(nil)

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		callTimeout: DefaultCallTimeout,
		loaders:     make(map[string]*plugin.Loader),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// Resolve starts the executable if needed and returns a command.Constructor
// that builds symbol inside it. Each construction runs against a live process;
// an adapter that exited since the last call is started again.
func (r *Resolver) Resolve(owner isolation.Context, executable, symbol string) (isolation.Symbol, error) {
	if _, err := r.connect(owner, executable); err != nil {
		return nil, err
	}

	return command.Constructor(func(fingerprint string, url command.Argument, domain, username, password, workspace, projectPath string) (command.Command, error) {
		c, err := r.connect(owner, executable)
		if err != nil {
			return nil, err
		}

		req := command.Request{
			Fingerprint: fingerprint,
			URL:         url,
			Domain:      domain,
			Username:    username,
			Password:    password,
			Workspace:   workspace,
			ProjectPath: projectPath,
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
		defer cancel()

		resp, err := c.Call(ctx, ServiceConstruct, encodeConstruct(symbol, req))
		if err != nil {
			return nil, err
		}
		id := stringField(resp, fieldInstance)
		if id == "" {
			return nil, fmt.Errorf("adapter returned no instance for %s", symbol)
		}
		return &remoteCommand{client: c, instance: id}, nil
	}), nil
}

func (r *Resolver) connect(owner isolation.Context, executable string) (*client, error) {
	loader, err := r.loader(owner, executable)
	if err != nil {
		return nil, err
	}
	return plugin.NewProtobufLoaderAdapter[*structpb.Struct](loader, func() *structpb.Struct {
		return new(structpb.Struct)
	}), nil
}

func (r *Resolver) loader(owner isolation.Context, executable string) (*plugin.Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loaders[executable]; ok {
		if l.IsProcessAlive() {
			return l, nil
		}
		r.logger.Warn("restarting adapter", "executable", executable)
		if err := l.Close(); err != nil && !errors.Is(err, plugin.ErrLoaderClosed) {
			r.logger.Warn("failed to release exited adapter", "executable", executable, "error", err)
		}
		delete(r.loaders, executable)
	}

	opts := []plugin.Option{plugin.WithLogger(r.ownerLogger(owner))}
	if len(r.env) > 0 {
		opts = append(opts, plugin.WithEnv(r.env...))
	}
	if r.stderr != nil {
		opts = append(opts, plugin.WithStderr(r.stderr))
	}

	l := plugin.NewLoader(executable, filepath.Base(executable), opts...)
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	if err := l.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to start adapter %s: %w", executable, err)
	}

	r.loaders[executable] = l
	return l, nil
}

// Pid returns the process id of the running adapter for executable, or 0.
func (r *Resolver) Pid(executable string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loaders[executable]; ok && l.IsProcessAlive() {
		return l.Pid()
	}
	return 0
}

// ownerLogger returns the logger delegated to owner, so adapter logs land in
// the host's logging.
func (r *Resolver) ownerLogger(owner isolation.Context) *slog.Logger {
	if owner == nil {
		return r.logger
	}
	s, err := owner.Lookup(isolation.LoggerSymbol)
	if err != nil {
		return r.logger
	}
	if logger, ok := s.(*slog.Logger); ok && logger != nil {
		return logger
	}
	return r.logger
}

// Close shuts down every adapter process.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for executable, l := range r.loaders {
		if err := l.Close(); err != nil && !errors.Is(err, plugin.ErrLoaderClosed) {
			errs = append(errs, fmt.Errorf("failed to stop adapter %s: %w", executable, err))
		}
		delete(r.loaders, executable)
	}
	return errors.Join(errs...)
}
