package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *Logger {
	return NewLogger(ErrorLevel, &bytes.Buffer{})
}

func TestShutdownManager_ParentCancelStopsRunners(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	sm.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		record("worker stopped")
		return ctx.Err()
	})
	sm.RegisterShutdownFunc(func(context.Context) error { record("first"); return nil })
	sm.RegisterShutdownFunc(func(context.Context) error { record("second"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"worker stopped", "second", "first"}, order)
}

func TestShutdownManager_FailingRunnerCancelsOthers(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	boom := errors.New("boom")

	sm.Go("broken", func(ctx context.Context) error { return boom })
	sm.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := sm.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
}

func TestShutdownManager_PanickingRunner(t *testing.T) {
	var buf bytes.Buffer
	sm := NewShutdownManager(NewLogger(ErrorLevel, &buf), time.Second)

	stopped := make(chan struct{})
	sm.Go("exploder", func(ctx context.Context) error { panic("kaboom") })
	sm.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})

	err := sm.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComponentPanic)
	assert.Contains(t, err.Error(), "exploder")
	assert.Contains(t, buf.String(), "kaboom")

	select {
	case <-stopped:
	default:
		t.Fatal("waiter was not cancelled")
	}
}

func TestShutdownManager_ShutdownErrors(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("close failed") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sm.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown completed with 1 errors")
}

func TestHTTPServerRunner(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- HTTPServerRunner(srv, ln, time.Second)(ctx) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
		panic("kaboom")
	}()
	assert.True(t, called)
	assert.Contains(t, buf.String(), "kaboom")

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
