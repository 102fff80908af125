package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/sdkloader.go/lib/command"
	"github.com/snowmerak/sdkloader.go/lib/plugin"
)

// Server holds the command instances constructed inside an adapter process.
type Server struct {
	constructors map[string]command.Constructor
	logger       *slog.Logger

	mu        sync.RWMutex
	instances map[string]command.Command
}

// Register installs the adapter services on m. constructors maps symbol names
// to the constructors the process serves.
func Register(m *plugin.Module, constructors map[string]command.Constructor) *Server {
	s := &Server{
		constructors: constructors,
		logger:       m.Logger(),
		instances:    make(map[string]command.Command),
	}

	newStruct := func() *structpb.Struct { return new(structpb.Struct) }
	plugin.NewProtobufHandlerAdapter(ServiceConstruct, newStruct, s.construct).Register(m)
	plugin.NewProtobufHandlerAdapter(ServiceCheckConnection, newStruct, s.checkConnection).Register(m)
	plugin.NewProtobufHandlerAdapter(ServiceCheckout, newStruct, s.checkout).Register(m)
	plugin.NewProtobufHandlerAdapter(ServiceLatestModification, newStruct, s.latestModification).Register(m)
	plugin.NewProtobufHandlerAdapter(ServiceModificationsSince, newStruct, s.modificationsSince).Register(m)
	return s
}

// Serve registers the adapter services on m and listens until the host shuts
// the process down.
func Serve(ctx context.Context, m *plugin.Module, constructors map[string]command.Constructor) error {
	Register(m, constructors)
	return m.Listen(ctx)
}

// Len returns the number of live instances.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

func (s *Server) construct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	symbol, req := decodeConstruct(in)
	ctor, ok := s.constructors[symbol]
	if !ok {
		return nil, fmt.Errorf("adapter does not provide %s", symbol)
	}

	cmd, err := req.Construct(ctor)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("constructor for %s returned no command", symbol)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.instances[id] = cmd
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "constructed command", "symbol", symbol, "instance", id, "fingerprint", req.Fingerprint)
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldInstance: structpb.NewStringValue(id),
	}}, nil
}

func (s *Server) instance(in *structpb.Struct) (command.Command, error) {
	id := stringField(in, fieldInstance)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("unknown command instance %q", id)
	}
	return cmd, nil
}

func (s *Server) checkConnection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := s.instance(in)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{}, cmd.CheckConnection(ctx)
}

func (s *Server) checkout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := s.instance(in)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{}, cmd.Checkout(ctx, stringField(in, fieldWorkDir), stringField(in, fieldRevision))
}

func (s *Server) latestModification(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := s.instance(in)
	if err != nil {
		return nil, err
	}
	mods, err := cmd.LatestModification(ctx, stringField(in, fieldWorkDir))
	if err != nil {
		return nil, err
	}
	return encodeModifications(mods), nil
}

func (s *Server) modificationsSince(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := s.instance(in)
	if err != nil {
		return nil, err
	}
	mods, err := cmd.ModificationsSince(ctx, stringField(in, fieldWorkDir), stringField(in, fieldRevision))
	if err != nil {
		return nil, err
	}
	return encodeModifications(mods), nil
}
