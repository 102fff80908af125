package plugin

import (
	"context"
)

// MessageHandler handles a notification sent by the adapter.
type MessageHandler interface {
	Handle(ctx context.Context, header Header) error
}

// MessageHandlerFunc is a convenience type for converting functions to MessageHandler
type MessageHandlerFunc func(ctx context.Context, header Header) error

// Handle implements MessageHandler interface
func (f MessageHandlerFunc) Handle(ctx context.Context, header Header) error {
	return f(ctx, header)
}

// RegisterMessageHandler registers a handler for notifications with the specified name
func (l *Loader) RegisterMessageHandler(name string, handler MessageHandler) {
	l.handlerMutex.Lock()
	defer l.handlerMutex.Unlock()
	l.messageHandlers[name] = handler
}

// UnregisterMessageHandler removes the handler for the specified message name
func (l *Loader) UnregisterMessageHandler(name string) {
	l.handlerMutex.Lock()
	defer l.handlerMutex.Unlock()
	delete(l.messageHandlers, name)
}

// RegisterMessageHandlerFunc is a convenience method to register a function as a message handler
func (l *Loader) RegisterMessageHandlerFunc(name string, handler func(ctx context.Context, header Header) error) {
	l.RegisterMessageHandler(name, MessageHandlerFunc(handler))
}

func (l *Loader) getMessageHandler(name string) (MessageHandler, bool) {
	l.handlerMutex.RLock()
	defer l.handlerMutex.RUnlock()
	handler, exists := l.messageHandlers[name]
	return handler, exists
}

func (l *Loader) registerBuiltinHandlers() {
	l.RegisterMessageHandlerFunc(logMessage, l.handleLog)
}
