// server/shutdown.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownTimeout bounds the whole shutdown sequence
const ShutdownTimeout = 30 * time.Second

// CloserFunc adapts a function to io.Closer
type CloserFunc func() error

// Close implements io.Closer
func (f CloserFunc) Close() error { return f() }

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownManager handles graceful shutdown: it stops the HTTP server and
// then closes the registered resources in registration order.
type ShutdownManager struct {
	server     *http.Server
	closers    []namedCloser
	mu         sync.Mutex
	waitGroup  sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
	logger     *log.Logger
}

// NewShutdownManager creates a new shutdown manager. srv may be nil when
// nothing is served over HTTP.
func NewShutdownManager(srv *http.Server, logger *log.Logger) *ShutdownManager {
	if logger == nil {
		logger = log.Default()
	}
	return &ShutdownManager{
		server:     srv,
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
}

// Register adds a resource to close on shutdown
func (sm *ShutdownManager) Register(name string, c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: c})
}

// HandleGracefulShutdown waits for SIGINT, SIGTERM or ctx, then shuts down
func (sm *ShutdownManager) HandleGracefulShutdown(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		sm.logger.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		sm.logger.Printf("Shutdown requested: %v", ctx.Err())
	}
	return sm.Shutdown()
}

// Shutdown runs the shutdown sequence once, bounded by ShutdownTimeout
func (sm *ShutdownManager) Shutdown() error {
	var result error
	sm.once.Do(func() {
		close(sm.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		sm.waitGroup.Add(1)
		go func() {
			defer sm.waitGroup.Done()
			done <- sm.performGracefulShutdown(ctx)
		}()

		select {
		case err := <-done:
			if err != nil {
				sm.logger.Printf("Final shutdown error: %v", err)
			} else {
				sm.logger.Println("Graceful shutdown completed")
			}
			result = err
		case <-ctx.Done():
			result = fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	})
	return result
}

// performGracefulShutdown handles the actual shutdown sequence
func (sm *ShutdownManager) performGracefulShutdown(ctx context.Context) error {
	var errs []error

	// Stop accepting new connections
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Printf("Error during server shutdown: %v", err)
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	sm.mu.Lock()
	closers := append([]namedCloser(nil), sm.closers...)
	sm.mu.Unlock()

	for _, c := range closers {
		if err := c.closer.Close(); err != nil {
			sm.logger.Printf("Error closing %s: %v", c.name, err)
			errs = append(errs, fmt.Errorf("%s close error: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// IsShuttingDown returns true if shutdown has been initiated
func (sm *ShutdownManager) IsShuttingDown() bool {
	select {
	case <-sm.shutdownCh:
		return true
	default:
		return false
	}
}

// WaitForShutdown blocks until shutdown is complete
func (sm *ShutdownManager) WaitForShutdown() {
	sm.waitGroup.Wait()
}
