// Package sdkloader prepares the isolated TFS SDK runtime once per process and
// builds adapter commands inside it.
//
// The first Get locates the adapter archive, copies it to a private temporary
// file, extracts its native resources, publishes the native library directory
// and opens an isolation context rooted at the archive copy. Failures are not
// cached; the next Get starts over.
package sdkloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/snowmerak/sdkloader.go/lib/archive"
	"github.com/snowmerak/sdkloader.go/lib/bridge"
	"github.com/snowmerak/sdkloader.go/lib/isolation"
	"github.com/snowmerak/sdkloader.go/lib/lifecycle"
	"github.com/snowmerak/sdkloader.go/lib/locator"
	"github.com/snowmerak/sdkloader.go/lib/logging"
	"github.com/snowmerak/sdkloader.go/lib/metrics"
	"github.com/snowmerak/sdkloader.go/lib/sysprop"
)

const tracerName = "github.com/snowmerak/sdkloader.go/lib/sdkloader"

// State is the prepared runtime. It is immutable once published.
type State struct {
	Context     isolation.Context
	ArchivePath string
	ExtractDir  string
	NativeDir   string
	NativeFiles []string
	CreatedAt   time.Time
}

// Option configures a Holder.
type Option func(*Holder)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(h *Holder) {
		h.cfg = cfg
	}
}

// WithLocator overrides the locator derived from the configuration.
func WithLocator(l locator.Locator) Option {
	return func(h *Holder) {
		h.locator = l
	}
}

// WithProperties sets the property store the native directory is published to.
func WithProperties(p *sysprop.Properties) Option {
	return func(h *Holder) {
		h.props = p
	}
}

// WithLifecycle sets the registry that receives cleanup hooks.
func WithLifecycle(r *lifecycle.Registry) Option {
	return func(h *Holder) {
		h.lifecycle = r
	}
}

// WithParent sets the host context delegated symbols resolve against.
func WithParent(c isolation.Context) Option {
	return func(h *Holder) {
		h.parent = c
	}
}

// WithProcessResolver overrides how process-backed adapter symbols are resolved.
func WithProcessResolver(r isolation.ProcessResolver) Option {
	return func(h *Holder) {
		h.resolver = r
	}
}

// WithLogger sets the logger for preparation and construction messages.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Holder) {
		h.logger = logger
	}
}

// WithMetrics records initializations and constructions on c.
func WithMetrics(c *metrics.Collectors) Option {
	return func(h *Holder) {
		h.metrics = c
	}
}

// WithTracerProvider sets where initialization and construction spans go.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Holder) {
		h.tracer = tp.Tracer(tracerName)
	}
}

// Holder owns the prepared runtime of one process.
type Holder struct {
	cfg       Config
	locator   locator.Locator
	props     *sysprop.Properties
	lifecycle *lifecycle.Registry
	parent    isolation.Context
	resolver  isolation.ProcessResolver
	logger    *slog.Logger
	metrics   *metrics.Collectors
	tracer    trace.Tracer

	state atomic.Pointer[State]
	group singleflight.Group
}

// NewHolder creates a Holder. Nothing is prepared until the first Get.
func NewHolder(opts ...Option) *Holder {
	h := &Holder{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(h)
	}

	h.logger = logging.OrDefault(h.logger)
	if h.locator == nil {
		h.locator = h.cfg.Locator()
	}
	if h.props == nil {
		h.props = sysprop.Default
	}
	if h.lifecycle == nil {
		h.lifecycle = lifecycle.Default
	}
	if h.parent == nil {
		h.parent = isolation.HostTable(h.logger)
	}
	if h.resolver == nil {
		h.resolver = bridge.NewResolver(bridge.WithCallTimeout(h.cfg.CallTimeout), bridge.WithLogger(h.logger))
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	return h
}

// NewHolderWithState creates a Holder that already holds st. Get never
// initializes; it is meant for tests and for embedding a runtime prepared elsewhere.
func NewHolderWithState(st *State, opts ...Option) *Holder {
	h := NewHolder(opts...)
	h.state.Store(st)
	return h
}

// Config returns the configuration the holder was created with.
func (h *Holder) Config() Config {
	return h.cfg
}

// Ready reports whether the runtime has been prepared.
func (h *Holder) Ready() bool {
	return h.state.Load() != nil
}

// Get returns the prepared runtime, preparing it on first use. Concurrent first
// callers share one preparation and its result.
func (h *Holder) Get(ctx context.Context) (*State, error) {
	if st := h.state.Load(); st != nil {
		return st, nil
	}

	v, err, _ := h.group.Do("state", func() (any, error) {
		if st := h.state.Load(); st != nil {
			return st, nil
		}
		st, err := h.initialize(ctx)
		if err != nil {
			return nil, err
		}
		h.state.Store(st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

func (h *Holder) initialize(ctx context.Context) (*State, error) {
	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "sdkloader.initialize")
	defer span.End()

	st, err := h.prepare(ctx)

	files := 0
	if st != nil {
		files = len(st.NativeFiles)
	}
	h.metrics.ObserveInitialization(start, files, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("failed to prepare TFS SDK runtime", "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("sdkloader.archive", st.ArchivePath),
		attribute.String("sdkloader.native_dir", st.NativeDir),
		attribute.Int("sdkloader.native_files", files),
	)
	h.logger.Info("TFS SDK runtime ready", "archive", st.ArchivePath, "dir", st.NativeDir,
		"files", files, "elapsed", time.Since(start))
	return st, nil
}

func (h *Holder) prepare(ctx context.Context) (*State, error) {
	u, err := h.locator.Locate(ctx)
	if err != nil {
		return nil, &Error{Kind: KindLocate, Err: err}
	}
	location := u.Redacted()

	archivePath, err := archive.CopyToTemp(ctx, h.cfg.TempDir, "tfs-sdk-*.jar",
		func(ctx context.Context) (io.ReadCloser, error) { return locator.Open(ctx, u) },
		h.lifecycle.DeleteOnExit,
	)
	if err != nil {
		return nil, &Error{Kind: KindExtract, Archive: location, Err: err}
	}

	extractDir, err := os.MkdirTemp(h.cfg.TempDir, "tfs-sdk-natives-")
	if err != nil {
		return nil, &Error{Kind: KindExtract, Archive: location, Err: fmt.Errorf("failed to create extraction directory: %w", err)}
	}
	h.lifecycle.RemoveAllOnExit(extractDir)

	expander := &archive.Expander{Prefix: h.cfg.ResourcePrefix, Logger: h.logger}
	res, err := expander.Expand(ctx, archivePath, extractDir)
	if err != nil {
		return nil, &Error{Kind: KindExtract, Archive: location, Err: err}
	}

	if err := h.publishNativeDir(res.ResourceDir); err != nil {
		return nil, &Error{Kind: KindNativePath, Archive: location, Err: err}
	}

	isolated, err := isolation.Open(archivePath,
		isolation.WithParent(h.parent),
		isolation.WithDelegated(h.cfg.DelegatedSymbols...),
		isolation.WithWorkDir(extractDir),
		isolation.WithProcessResolver(h.resolver),
		isolation.WithLogger(h.logger),
	)
	if err != nil {
		return nil, &Error{Kind: KindContext, Archive: location, Err: err}
	}
	h.lifecycle.Register("close isolation context "+isolated.Name(), func(context.Context) error {
		return isolated.Close()
	})

	return &State{
		Context:     isolated,
		ArchivePath: archivePath,
		ExtractDir:  extractDir,
		NativeDir:   res.ResourceDir,
		NativeFiles: res.Files,
		CreatedAt:   time.Now(),
	}, nil
}

// publishNativeDir points the native library loader at dir. The value is
// process-wide and is never rolled back.
func (h *Holder) publishNativeDir(dir string) error {
	h.logger.Info("setting native lib path", "property", h.cfg.NativePathProperty, "dir", dir)
	if h.cfg.NativePathEnv != "" {
		h.props.Bind(h.cfg.NativePathProperty, h.cfg.NativePathEnv)
	}
	return h.props.Set(h.cfg.NativePathProperty, dir)
}
