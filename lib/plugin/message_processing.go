package plugin

import (
	"context"
	"time"

	"github.com/snowmerak/sdkloader.go/lib/multiplexer"
)

const handlerTimeout = 30 * time.Second

// handleMessages routes responses to pending calls and notifications to handlers.
func (l *Loader) handleMessages(recv <-chan *multiplexer.Message) {
	defer l.wg.Done()
	defer l.cancelLoad()
	defer func() {
		l.requestMutex.Lock()
		defer l.requestMutex.Unlock()
		for id, ch := range l.pendingRequests {
			close(ch)
			delete(l.pendingRequests, id)
		}
	}()

	for {
		select {
		case <-l.loadCtx.Done():
			return
		case mesg, ok := <-recv:
			if !ok {
				return
			}

			if mesg.Type != multiplexer.MessageHeaderTypeComplete {
				if mesg.Type == multiplexer.MessageHeaderTypeError {
					l.logger.Warn("adapter stream error", "plugin", l.Name, "error", string(mesg.Data))
				}
				continue
			}

			var header Header
			if err := header.UnmarshalBinary(mesg.Data); err != nil {
				l.logger.Warn("dropping malformed message", "plugin", l.Name, "error", err)
				continue
			}

			switch header.Name {
			case readyMessage:
				select {
				case l.readySignal <- struct{}{}:
				default:
				}
				continue
			case shutdownAckMessage:
				select {
				case l.shutdownAck <- struct{}{}:
				default:
				}
				continue
			}

			switch header.MessageType {
			case MessageTypeResponse, MessageTypeError:
				l.requestMutex.Lock()
				responseChan, exists := l.pendingRequests[mesg.ID]
				if exists {
					delete(l.pendingRequests, mesg.ID)
				}
				l.requestMutex.Unlock()

				if exists {
					responseChan <- header
				}

			case MessageTypeNotify:
				handler, exists := l.getMessageHandler(header.Name)
				if !exists {
					continue
				}
				l.wg.Add(1)
				go func(h MessageHandler, hdr Header) {
					defer l.wg.Done()
					ctx, cancel := context.WithTimeout(l.loadCtx, handlerTimeout)
					defer cancel()

					if err := h.Handle(ctx, hdr); err != nil {
						l.logger.Warn("message handler failed", "plugin", l.Name, "message", hdr.Name, "error", err)
					}
				}(handler, header)
			}
		}
	}
}
