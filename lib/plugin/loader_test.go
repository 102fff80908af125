package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) find(msg string) (slog.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message == msg {
			return r, true
		}
	}
	return slog.Record{}, false
}

type pair struct {
	loader    *Loader
	module    *Module
	logs      *recordingHandler
	listenErr chan error
	cleanup   func()
}

func newPair(t *testing.T, setup func(m *Module)) *pair {
	t.Helper()

	hostR, moduleW := io.Pipe()
	moduleR, hostW := io.Pipe()

	logs := &recordingHandler{}
	module := New(moduleR, moduleW)
	if setup != nil {
		setup(module)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- module.Listen(ctx)
		moduleW.Close()
	}()

	loader := NewLoader("", "stub", WithChannel(hostR, hostW), WithLogger(slog.New(logs)))
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer loadCancel()
	if err := loader.Load(loadCtx); err != nil {
		cancel()
		t.Fatalf("Load failed: %v", err)
	}

	return &pair{
		loader:    loader,
		module:    module,
		logs:      logs,
		listenErr: listenErr,
		cleanup: func() {
			cancel()
			hostR.Close()
			moduleR.Close()
		},
	}
}

func TestLoader_CallBeforeLoad(t *testing.T) {
	l := NewLoader("/nonexistent", "stub")
	if _, err := Call(context.Background(), l, "construct", nil); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}

func TestLoader_Load_InvalidPath(t *testing.T) {
	l := NewLoader("/invalid/path/to/adapter", "stub")
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("expected error for invalid path")
	}
	if l.IsProcessAlive() {
		t.Error("loader should not be alive after failed load")
	}
}

func TestLoader_Close_MultipleCalls(t *testing.T) {
	l := NewLoader("/nonexistent", "stub")
	if err := l.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := l.Close(); !errors.Is(err, ErrLoaderClosed) {
		t.Errorf("expected ErrLoaderClosed, got %v", err)
	}
	if err := l.Load(context.Background()); !errors.Is(err, ErrLoaderClosed) {
		t.Errorf("expected ErrLoaderClosed from Load, got %v", err)
	}
}

func TestLoader_CallRoundTrip(t *testing.T) {
	p := newPair(t, func(m *Module) {
		m.Handle("echo", func(_ context.Context, payload []byte) ([]byte, error) {
			return append([]byte("echo:"), payload...), nil
		})
		m.Handle("fail", func(context.Context, []byte) ([]byte, error) {
			return nil, fmt.Errorf("workspace is locked")
		})
		m.Handle("panic", func(context.Context, []byte) ([]byte, error) {
			panic("boom")
		})
	})
	defer p.cleanup()
	defer p.loader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Call(ctx, p.loader, "echo", []byte("hello"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(resp) != "echo:hello" {
		t.Errorf("unexpected response %q", resp)
	}

	_, err = Call(ctx, p.loader, "fail", nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "workspace is locked" {
		t.Errorf("unexpected remote message %q", remote.Message)
	}

	if _, err := Call(ctx, p.loader, "panic", nil); err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("expected recovered panic error, got %v", err)
	}

	if _, err := Call(ctx, p.loader, "missing", nil); err == nil || !strings.Contains(err.Error(), "no handler registered") {
		t.Errorf("expected missing handler error, got %v", err)
	}
}

func TestLoader_ConcurrentCalls(t *testing.T) {
	p := newPair(t, func(m *Module) {
		m.Handle("echo", func(_ context.Context, payload []byte) ([]byte, error) {
			time.Sleep(5 * time.Millisecond)
			return payload, nil
		})
	})
	defer p.cleanup()
	defer p.loader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("request-%d", i)
			got, err := Call(ctx, p.loader, "echo", []byte(want))
			if err != nil {
				t.Errorf("call %d failed: %v", i, err)
				return
			}
			if string(got) != want {
				t.Errorf("call %d got %q", i, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestLoader_LogNotificationsReachHostLogger(t *testing.T) {
	p := newPair(t, func(m *Module) {
		m.Handle("work", func(ctx context.Context, _ []byte) ([]byte, error) {
			m.Logger().With("workspace", "ws1").Info("adapter working")
			return nil, m.Log(ctx, slog.LevelWarn, "native library missing", slog.String("dir", "/tmp/natives"))
		})
	})
	defer p.cleanup()
	defer p.loader.Close()

	if _, err := Call(context.Background(), p.loader, "work", nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var rec slog.Record
	var found bool
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		_, working := p.logs.find("adapter working")
		if rec, found = p.logs.find("native library missing"); found && working {
			break
		}
	}
	if !found {
		t.Fatal("log record was not forwarded")
	}
	if rec.Level != slog.LevelWarn {
		t.Errorf("expected WARN, got %s", rec.Level)
	}

	attrs := map[string]string{}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	if attrs["plugin"] != "stub" || attrs["dir"] != "/tmp/natives" {
		t.Errorf("unexpected attributes %v", attrs)
	}
	if _, ok := p.logs.find("adapter working"); !ok {
		t.Error("record from the forwarding logger was not received")
	}
}

func TestLoader_GracefulClose(t *testing.T) {
	p := newPair(t, nil)
	defer p.cleanup()

	if err := p.loader.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-p.listenErr:
		if err != nil {
			t.Errorf("Listen returned %v after shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("module did not stop after shutdown")
	}

	if _, err := Call(context.Background(), p.loader, "echo", nil); !errors.Is(err, ErrLoaderClosed) {
		t.Errorf("expected ErrLoaderClosed, got %v", err)
	}
}

func TestProtobufAdapters(t *testing.T) {
	p := newPair(t, func(m *Module) {
		newValue := func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
		NewProtobufHandlerAdapter("upper", newValue,
			func(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
				return wrapperspb.String(strings.ToUpper(req.GetValue())), nil
			},
		).Register(m)
	})
	defer p.cleanup()
	defer p.loader.Close()

	adapter := NewProtobufLoaderAdapter[*wrapperspb.StringValue](p.loader, func() *wrapperspb.StringValue {
		return new(wrapperspb.StringValue)
	})
	resp, err := adapter.Call(context.Background(), "upper", wrapperspb.String("tfs"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.GetValue() != "TFS" {
		t.Errorf("unexpected response %q", resp.GetValue())
	}
}
