package sdkloader

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/snowmerak/sdkloader.go/lib/command"
	"github.com/snowmerak/sdkloader.go/lib/isolation"
)

var (
	stringType   = reflect.TypeFor[string]()
	argumentType = reflect.TypeFor[command.Argument]()
	commandType  = reflect.TypeFor[command.Command]()
	errorType    = reflect.TypeFor[error]()

	// constructor parameter types in order: fingerprint, url, domain,
	// username, password, workspace, project path
	constructorIn = []reflect.Type{stringType, argumentType, stringType, stringType, stringType, stringType, stringType}
)

// Build prepares the runtime if needed and constructs an adapter command for req.
// scope is the caller's ambient context; it is switched to the isolated
// context for the duration of the construction and restored on every path.
func (h *Holder) Build(ctx context.Context, scope *isolation.Scope, req command.Request) (command.Command, error) {
	st, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return h.Construct(ctx, st, scope, req)
}

// Construct builds an adapter command inside st's isolation context.
func (h *Holder) Construct(ctx context.Context, st *State, scope *isolation.Scope, req command.Request) (cmd command.Command, err error) {
	symbol := h.cfg.AdapterSymbol
	_, span := h.tracer.Start(ctx, "sdkloader.construct")
	span.SetAttributes(attribute.String("sdkloader.symbol", symbol), attribute.String("sdkloader.fingerprint", req.Fingerprint))
	defer span.End()

	if scope == nil {
		scope = isolation.NewScope(nil)
	}
	restore := scope.Swap(st.Context)
	defer restore()

	cmd, err = construct(scope.Current(), symbol, req)
	h.metrics.ObserveConstruction(err)
	if err != nil {
		err = &Error{Kind: KindConstruct, Archive: st.ArchivePath, Symbol: symbol, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("could not create TFS SDK command", "symbol", symbol, "archive", st.ArchivePath, "error", err)
		return nil, err
	}
	return cmd, nil
}

// construct resolves symbol in c and calls it with the request values.
func construct(c isolation.Context, symbol string, req command.Request) (cmd command.Command, err error) {
	sym, err := c.Lookup(symbol)
	if err != nil {
		return nil, err
	}

	if ctor, ok := sym.(command.Constructor); ok && ctor != nil {
		return invoke(reflect.ValueOf(ctor), req)
	}

	if err := checkShape(sym); err != nil {
		return nil, err
	}
	return invoke(reflect.ValueOf(sym), req)
}

// checkShape accepts funcs taking exactly the seven constructor parameters and
// returning a command, optionally followed by an error.
func checkShape(sym isolation.Symbol) error {
	fn := reflect.ValueOf(sym)
	if fn.Kind() != reflect.Func {
		return fmt.Errorf("%w: got %T", ErrShapeMismatch, sym)
	}
	if fn.IsNil() {
		return fmt.Errorf("%w: nil function", ErrShapeMismatch)
	}

	t := fn.Type()
	if t.IsVariadic() || t.NumIn() != len(constructorIn) {
		return fmt.Errorf("%w: %s", ErrShapeMismatch, t)
	}
	for i, want := range constructorIn {
		if t.In(i) != want {
			return fmt.Errorf("%w: parameter %d is %s, want %s", ErrShapeMismatch, i, t.In(i), want)
		}
	}

	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("%w: second result is %s, want error", ErrShapeMismatch, t.Out(1))
		}
	default:
		return fmt.Errorf("%w: %s", ErrShapeMismatch, t)
	}
	if !t.Out(0).Implements(commandType) {
		return fmt.Errorf("%w: result %s does not implement command.Command", ErrShapeMismatch, t.Out(0))
	}
	return nil
}

func invoke(fn reflect.Value, req command.Request) (cmd command.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			cmd = nil
			err = fmt.Errorf("adapter constructor panicked: %v", r)
		}
	}()

	args := make([]reflect.Value, len(constructorIn))
	for i, v := range req.Args() {
		if v == nil {
			args[i] = reflect.Zero(constructorIn[i])
			continue
		}
		args[i] = reflect.ValueOf(v)
	}

	out := fn.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	if isNil(out[0]) {
		return nil, fmt.Errorf("adapter constructor returned no command")
	}
	return out[0].Interface().(command.Command), nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
