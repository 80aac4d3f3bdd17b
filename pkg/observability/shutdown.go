package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrComponentPanic is returned by Run when a component panicked
var ErrComponentPanic = errors.New("component panicked")

// Runner is a long-running component. It must return promptly once ctx is
// done.
type Runner func(ctx context.Context) error

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs components under one errgroup and tears them down
// on a signal, parent cancellation or the first component failure. A
// component panic counts as a failure.
type ShutdownManager struct {
	logger          *Logger
	shutdownTimeout time.Duration
	mu              sync.Mutex
	shutdownFuncs   []ShutdownFunc
	runners         []namedRunner
}

type namedRunner struct {
	name string
	run  Runner
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, shutdownTimeout: timeout}
}

// Go registers a component to run
func (sm *ShutdownManager) Go(name string, run Runner) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.runners = append(sm.runners, namedRunner{name: name, run: run})
}

// RegisterShutdownFunc registers a function to call after every component
// has stopped. Functions run in reverse registration order.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, fn)
}

// Run blocks until every component has stopped and the shutdown functions
// have run. It returns the first component error, if any, joined with
// shutdown errors.
func (sm *ShutdownManager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm.mu.Lock()
	runners := append([]namedRunner(nil), sm.runners...)
	sm.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			sm.logger.WithField("component", r.name).Debug("component started")
			if err := sm.runGuarded(gctx, r); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			return nil
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		sm.logger.WithError(runErr).Error("component failed, shutting down")
	} else {
		sm.logger.Info("starting graceful shutdown")
	}

	return errors.Join(runErr, sm.shutdown())
}

// runGuarded turns a panic in r into ErrComponentPanic
func (sm *ShutdownManager) runGuarded(ctx context.Context, r namedRunner) (err error) {
	defer RecoverPanicWithCallback(sm.logger, r.name, func() {
		err = ErrComponentPanic
	})
	return r.run(ctx)
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	sm.mu.Lock()
	funcs := append([]ShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			sm.logger.WithError(err).Errorf("shutdown function %d failed", i)
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			return errors.Join(append(errs, fmt.Errorf("shutdown timeout reached"))...)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}

// HTTPServerRunner serves srv until ctx is done, then shuts it down within
// timeout. A nil listener makes the server listen on srv.Addr.
func HTTPServerRunner(srv *http.Server, ln net.Listener, timeout time.Duration) Runner {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			var err error
			if ln != nil {
				err = srv.Serve(ln)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errCh <- err
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return <-errCh
	}
}
