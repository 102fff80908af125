package plugin

import (
	"context"

	"google.golang.org/protobuf/proto"
)

// NewProtobufLoaderAdapter creates a LoaderAdapter specialized for Protocol Buffers serialization.
// newResp returns a new, non-nil instance of the response type.
func NewProtobufLoaderAdapter[Req proto.Message, Resp proto.Message](loader *Loader, newResp func() Resp) *LoaderAdapter[Req, Resp] {
	serializer := Serializer[Req, Resp]{
		MarshalRequest: func(req Req) ([]byte, error) {
			return proto.Marshal(req)
		},
		UnmarshalResponse: func(data []byte) (Resp, error) {
			instance := newResp()
			if err := proto.Unmarshal(data, instance); err != nil {
				var zero Resp
				return zero, err
			}
			return instance, nil
		},
	}
	return NewLoaderAdapter(loader, serializer)
}

// NewProtobufHandlerAdapter is the adapter-side counterpart of NewProtobufLoaderAdapter.
func NewProtobufHandlerAdapter[Req proto.Message, Resp proto.Message](
	serviceName string,
	newReq func() Req,
	fn func(context.Context, Req) (Resp, error),
) *HandlerAdapter[Req, Resp] {
	return NewHandlerAdapter(
		serviceName,
		func(data []byte) (Req, error) {
			instance := newReq()
			if err := proto.Unmarshal(data, instance); err != nil {
				var zero Req
				return zero, err
			}
			return instance, nil
		},
		func(resp Resp) ([]byte, error) {
			return proto.Marshal(resp)
		},
		fn,
	)
}
