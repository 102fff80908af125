package sdkloader

import (
	"errors"
	"fmt"
)

var (
	// ErrRuntimeUnavailable matches every failure to prepare the isolated runtime.
	ErrRuntimeUnavailable = errors.New("could not prepare the TFS SDK runtime")

	// ErrConstruction matches every failure to build a single adapter command.
	ErrConstruction = errors.New("could not create TFS SDK command")

	// ErrShapeMismatch is the cause when the adapter symbol is not a constructor
	// with the seven-argument command shape.
	ErrShapeMismatch = errors.New("adapter symbol does not have the command constructor shape")
)

// Kind identifies the step that failed.
type Kind int

const (
	KindLocate Kind = iota + 1
	KindExtract
	KindNativePath
	KindContext
	KindConstruct
)

func (k Kind) String() string {
	switch k {
	case KindLocate:
		return "locate"
	case KindExtract:
		return "extract"
	case KindNativePath:
		return "native path"
	case KindContext:
		return "isolation context"
	case KindConstruct:
		return "construct"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error reports a failed initialization step or construction, with the
// original cause attached.
type Error struct {
	Kind    Kind
	Archive string
	Symbol  string
	Err     error
}

func (e *Error) Error() string {
	var msg string
	if e.Kind == KindConstruct {
		msg = ErrConstruction.Error()
	} else {
		msg = fmt.Sprintf("%s: %s failed", ErrRuntimeUnavailable, e.Kind)
	}
	if e.Symbol != "" {
		msg += " (symbol " + e.Symbol + ")"
	}
	if e.Archive != "" {
		msg += " (archive " + e.Archive + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrConstruction for construction failures and
// ErrRuntimeUnavailable for every other kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConstruction:
		return e.Kind == KindConstruct
	case ErrRuntimeUnavailable:
		return e.Kind != KindConstruct
	}
	return false
}
