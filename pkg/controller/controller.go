// Package controller owns the transfer server lifecycle: resolving the
// endpoint, binding the listener, serving, and tearing everything down
// again. The GUI and CLI only ever talk to the controller.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanshuttle/lanshuttle/pkg/config"
	"github.com/lanshuttle/lanshuttle/pkg/endpoint"
	"github.com/lanshuttle/lanshuttle/pkg/server"
	"github.com/lanshuttle/lanshuttle/pkg/vfs"
)

// State is the lifecycle state of the transfer server.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrAlreadyRunning is returned by Start when the server is not
	// stopped. Mode and port changes require a stop/start cycle.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrStartAborted is returned by Start when Stop was called while the
	// start was still resolving or binding.
	ErrStartAborted = errors.New("start aborted by stop request")
)

// Controller drives the transfer server through its lifecycle. All state
// transitions happen under one mutex; the HTTP server itself runs on its
// own goroutine between Start and Stop.
type Controller struct {
	config   *config.Config
	logger   *logrus.Logger
	view     *vfs.View
	resolver *endpoint.Resolver
	events   *Broadcaster
	counter  *server.ConnCounter

	mu          sync.Mutex
	state       State
	stopPending bool
	httpServer  *http.Server
	resolved    endpoint.Resolved
	done        chan struct{}
}

// New creates a stopped controller. The resolver is built from the
// configured hotspot subnets; the connection counter feeds the event
// stream so displays update live.
func New(cfg *config.Config, logger *logrus.Logger, view *vfs.View) *Controller {
	return NewWithResolver(cfg, logger, view, endpoint.NewResolver(cfg.Transfer.HotspotSubnets, logger))
}

// NewWithResolver creates a controller with an explicit resolver, for
// tests that need deterministic interface discovery.
func NewWithResolver(cfg *config.Config, logger *logrus.Logger, view *vfs.View, resolver *endpoint.Resolver) *Controller {
	c := &Controller{
		config:   cfg,
		logger:   logger,
		view:     view,
		resolver: resolver,
		events:   NewBroadcaster(),
	}
	c.counter = server.NewConnCounter(func(n int64) {
		c.events.Publish(Event{Type: EventConnections, Connections: n})
	})
	return c
}

// Events returns the controller's event broadcaster.
func (c *Controller) Events() *Broadcaster {
	return c.events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connections returns the number of currently open client connections.
func (c *Controller) Connections() int64 {
	return c.counter.Count()
}

// Resolved returns the endpoint of the running server. Only meaningful
// while the state is Running.
func (c *Controller) Resolved() endpoint.Resolved {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// Start resolves an endpoint for the given mode, binds it, and serves on
// a background goroutine. The endpoint is resolved fresh on every start;
// nothing from a previous run is reused, including the connection count.
func (c *Controller) Start(epCfg endpoint.Config) (endpoint.Resolved, error) {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return endpoint.Resolved{}, ErrAlreadyRunning
	}
	c.state = StateStarting
	c.mu.Unlock()
	c.publishState(StateStarting)

	resolved, err := c.resolver.Resolve(epCfg)
	if err != nil {
		c.failStart(fmt.Sprintf("endpoint resolution failed: %v", err))
		return endpoint.Resolved{}, err
	}
	if resolved.Warning != "" {
		c.publishLog(LevelWarning, resolved.Warning)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(resolved.Address, strconv.Itoa(resolved.Port)))
	if err != nil {
		c.failStart(fmt.Sprintf("failed to bind %s:%d: %v", resolved.Address, resolved.Port, err))
		return endpoint.Resolved{}, fmt.Errorf("%w: %v", endpoint.ErrPortUnavailable, err)
	}

	c.counter.Reset()
	srv := server.New(c.config, c.logger, c.view, c.counter, c.publishLog)

	httpServer := &http.Server{
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         c.trackConn,
	}
	done := make(chan struct{})

	c.mu.Lock()
	if c.stopPending {
		// Stop arrived while we were resolving or binding; back out
		// before the server ever serves a request.
		c.stopPending = false
		c.state = StateStopped
		c.mu.Unlock()
		ln.Close()
		c.publishState(StateStopped)
		c.publishLog(LevelInfo, "Start aborted by stop request")
		return endpoint.Resolved{}, ErrStartAborted
	}
	c.httpServer = httpServer
	c.resolved = resolved
	c.done = done
	c.state = StateRunning
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.WithError(err).Error("Transfer server exited")
			c.publishLog(LevelError, fmt.Sprintf("server error: %v", err))
		}
	}()

	c.publishState(StateRunning)
	c.publishLog(LevelSuccess, fmt.Sprintf("Serving at %s", resolved.URL))
	c.logger.WithFields(logrus.Fields{
		"url":  resolved.URL,
		"mode": epCfg.Mode.String(),
	}).Info("Transfer server started")

	return resolved, nil
}

// Stop gracefully shuts the server down, waiting up to the configured
// stop timeout for in-flight transfers before forcing connections
// closed. Stopping an already stopped controller is a no-op; stopping
// while a Start is still in flight makes that Start back out with
// ErrStartAborted.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		return nil
	case StateStarting:
		// No server exists yet. Leave a note for the Start in flight; it
		// backs out instead of transitioning to Running.
		c.stopPending = true
		c.mu.Unlock()
		return nil
	case StateStopping:
		// Another caller is already stopping; wait for it.
		done := c.done
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	c.state = StateStopping
	httpServer := c.httpServer
	done := c.done
	c.mu.Unlock()
	c.publishState(StateStopping)

	timeout := time.Duration(c.config.Transfer.StopTimeoutSec) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		c.logger.WithError(err).Warn("Graceful shutdown timed out, forcing close")
		httpServer.Close()
	}
	<-done

	c.mu.Lock()
	c.state = StateStopped
	c.httpServer = nil
	c.done = nil
	c.resolved = endpoint.Resolved{}
	c.mu.Unlock()

	c.publishState(StateStopped)
	c.publishLog(LevelInfo, "Server stopped")
	c.logger.Info("Transfer server stopped")
	return nil
}

// trackConn feeds the connection counter from the HTTP server's
// connection state callbacks.
func (c *Controller) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		c.counter.Inc()
	case http.StateClosed, http.StateHijacked:
		c.counter.Dec()
	}
}

// failStart rolls Starting back to Stopped and reports why.
func (c *Controller) failStart(msg string) {
	c.mu.Lock()
	c.state = StateStopped
	c.stopPending = false
	c.mu.Unlock()
	c.publishLog(LevelError, msg)
	c.publishState(StateStopped)
}

func (c *Controller) publishState(s State) {
	c.events.Publish(Event{Type: EventState, Message: s.String()})
}

func (c *Controller) publishLog(level, msg string) {
	c.events.Publish(Event{Type: EventLog, Level: level, Message: msg})
}
