package plugin

import (
	"context"
	"fmt"
)

// Serializer converts typed requests and responses for a LoaderAdapter.
type Serializer[Req, Resp any] struct {
	MarshalRequest    func(Req) ([]byte, error)
	UnmarshalResponse func([]byte) (Resp, error)
}

// LoaderAdapter calls adapter services with typed requests and responses (host side).
type LoaderAdapter[Req, Resp any] struct {
	loader     *Loader
	serializer Serializer[Req, Resp]
}

func NewLoaderAdapter[Req, Resp any](loader *Loader, serializer Serializer[Req, Resp]) *LoaderAdapter[Req, Resp] {
	return &LoaderAdapter[Req, Resp]{
		loader:     loader,
		serializer: serializer,
	}
}

// Call invokes the named service on the adapter.
func (a *LoaderAdapter[Req, Resp]) Call(ctx context.Context, name string, request Req) (Resp, error) {
	var zeroResp Resp

	requestBytes, err := a.serializer.MarshalRequest(request)
	if err != nil {
		return zeroResp, fmt.Errorf("loaderadapter: failed to marshal request for %s: %w", name, err)
	}

	responseBytes, err := Call(ctx, a.loader, name, requestBytes)
	if err != nil {
		return zeroResp, err
	}

	resp, err := a.serializer.UnmarshalResponse(responseBytes)
	if err != nil {
		return zeroResp, fmt.Errorf("loaderadapter: failed to unmarshal response for %s: %w", name, err)
	}
	return resp, nil
}

// HandlerAdapter wraps a typed handler as a raw module Handler (adapter side).
type HandlerAdapter[Req, Resp any] struct {
	serviceName  string
	unmarshalReq func([]byte) (Req, error)
	marshalResp  func(Resp) ([]byte, error)
	typedHandler func(context.Context, Req) (Resp, error)
}

func NewHandlerAdapter[Req, Resp any](
	serviceName string,
	unmarshalReq func([]byte) (Req, error),
	marshalResp func(Resp) ([]byte, error),
	typedHandler func(context.Context, Req) (Resp, error),
) *HandlerAdapter[Req, Resp] {
	return &HandlerAdapter[Req, Resp]{
		serviceName:  serviceName,
		unmarshalReq: unmarshalReq,
		marshalResp:  marshalResp,
		typedHandler: typedHandler,
	}
}

// ToPluginHandler converts the typed handler into a Handler.
func (ha *HandlerAdapter[Req, Resp]) ToPluginHandler() Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := ha.unmarshalReq(payload)
		if err != nil {
			return nil, fmt.Errorf("handler adapter for %s: failed to unmarshal request: %w", ha.serviceName, err)
		}

		resp, err := ha.typedHandler(ctx, req)
		if err != nil {
			return nil, err
		}

		out, err := ha.marshalResp(resp)
		if err != nil {
			return nil, fmt.Errorf("handler adapter for %s: failed to marshal response: %w", ha.serviceName, err)
		}
		return out, nil
	}
}

// Register installs the adapter on m under its service name.
func (ha *HandlerAdapter[Req, Resp]) Register(m *Module) {
	m.Handle(ha.serviceName, ha.ToPluginHandler())
}
