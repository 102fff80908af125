package plugin

import (
	"context"
	"fmt"
)

// RemoteError is an error payload returned by the adapter for a request.
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("plugin error for service %s: %s", e.Service, e.Message)
}

// Call sends a request to the loaded adapter and waits for its response.
// An error payload from the adapter is returned as *RemoteError.
func Call(ctx context.Context, l *Loader, name string, requestPayload []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrLoaderClosed
	}
	if l.multiplexer == nil {
		return nil, ErrNotLoaded
	}
	if l.processExited.Load() {
		return nil, ErrProcessExited
	}

	requestHeader := Header{
		Name:        name,
		MessageType: MessageTypeRequest,
		Payload:     requestPayload,
	}
	headerData, err := requestHeader.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}

	requestID := l.generateRequestID()
	responseChan := make(chan Header, 1)

	l.requestMutex.Lock()
	if l.closed.Load() {
		l.requestMutex.Unlock()
		return nil, ErrLoaderClosed
	}
	l.pendingRequests[requestID] = responseChan
	l.requestMutex.Unlock()

	defer func() {
		l.requestMutex.Lock()
		delete(l.pendingRequests, requestID)
		l.requestMutex.Unlock()
	}()

	if err := l.multiplexer.WriteMessageWithSequence(ctx, requestID, headerData); err != nil {
		return nil, fmt.Errorf("failed to write request message: %w", err)
	}

	select {
	case responseHeader, ok := <-responseChan:
		if !ok {
			return nil, fmt.Errorf("response channel closed, loader shutting down")
		}
		if responseHeader.IsError {
			return nil, &RemoteError{Service: name, Message: string(responseHeader.Payload)}
		}
		return responseHeader.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.loadCtx.Done():
		if l.processExited.Load() {
			return nil, ErrProcessExited
		}
		return nil, fmt.Errorf("loader is shutting down")
	}
}

// SendMessage sends a notification to the adapter without expecting a response.
func (l *Loader) SendMessage(ctx context.Context, name string, payload []byte) error {
	if l.closed.Load() {
		return ErrLoaderClosed
	}
	if l.multiplexer == nil {
		return ErrNotLoaded
	}
	if l.processExited.Load() {
		return ErrProcessExited
	}

	header := Header{
		Name:        name,
		MessageType: MessageTypeNotify,
		Payload:     payload,
	}
	headerData, err := header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	return l.multiplexer.WriteMessage(ctx, headerData)
}
