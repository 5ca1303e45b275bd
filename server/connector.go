package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itzg/mc-legacy-forwarder/forwarding"
	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
)

const relayBufferSize = 32 * 1024

// Connector accepts connections from the proxy and runs one session per connection
type Connector struct {
	ctx     context.Context
	metrics *ConnectorMetrics

	snapshot           atomic.Pointer[Snapshot]
	connectionNotifier atomic.Value

	nextSessionID  atomic.Uint64
	activeSessions atomic.Int32
	connectionsWg  sync.WaitGroup
}

type notifierHolder struct {
	ConnectionNotifier
}

func NewConnector(ctx context.Context, metrics *ConnectorMetrics, snapshot *Snapshot) *Connector {
	c := &Connector{
		ctx:     ctx,
		metrics: metrics,
	}
	c.snapshot.Store(snapshot)
	c.connectionNotifier.Store(notifierHolder{noopNotifier{}})
	return c
}

func (c *Connector) UseConnectionNotifier(notifier ConnectionNotifier) {
	c.connectionNotifier.Store(notifierHolder{notifier})
}

func (c *Connector) notifier() ConnectionNotifier {
	return c.connectionNotifier.Load().(notifierHolder).ConnectionNotifier
}

// UpdateSnapshot swaps the configuration used by sessions accepted from now on.
// Sessions already running keep the snapshot they started with.
func (c *Connector) UpdateSnapshot(snapshot *Snapshot) {
	c.snapshot.Store(snapshot)
}

func (c *Connector) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// ActiveSessions is the number of connections currently being handled, in any phase
func (c *Connector) ActiveSessions() int {
	return int(c.activeSessions.Load())
}

func (c *Connector) StartAcceptingConnections(listenAddress string, connRateLimit int) (net.Addr, error) {
	ln, err := net.Listen("tcp", listenAddress)
	if err != nil {
		logrus.WithError(err).Error("Unable to start listening")
		return nil, err
	}
	logrus.WithField("listenAddress", ln.Addr()).Info("Listening for proxy connections")

	go c.acceptConnections(ln, connRateLimit)

	return ln.Addr(), nil
}

func (c *Connector) acceptConnections(ln net.Listener, connRateLimit int) {
	//noinspection GoUnhandledErrorResult
	defer ln.Close()

	if connRateLimit < 1 {
		connRateLimit = 1
	}
	bucket := ratelimit.NewBucketWithRate(float64(connRateLimit), int64(connRateLimit*2))

	// unblocks Accept on shutdown
	stop := context.AfterFunc(c.ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-time.After(bucket.Take(1)):
			c.metrics.RateLimitAvailable.Set(float64(bucket.Available()))
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logrus.WithError(err).Error("Failed to accept connection")
			} else {
				c.AcceptConnection(conn)
			}
		}
	}
}

// AcceptConnection handles conn in the background, bypassing the rate limit
func (c *Connector) AcceptConnection(conn net.Conn) {
	c.connectionsWg.Add(1)
	go func() {
		defer c.connectionsWg.Done()
		c.HandleConnection(c.ctx, conn)
	}()
}

// WaitForConnections blocks until every accepted connection has been closed
func (c *Connector) WaitForConnections() {
	c.connectionsWg.Wait()
}

func (c *Connector) HandleConnection(ctx context.Context, frontendConn net.Conn) {
	c.metrics.ConnectionsFrontend.Add(1)
	c.activeSessions.Add(1)
	defer c.activeSessions.Add(-1)

	//noinspection GoUnhandledErrorResult
	defer frontendConn.Close()

	// blocked reads return once the context is done
	stop := context.AfterFunc(ctx, func() {
		_ = frontendConn.Close()
	})
	defer stop()

	s := newSession(c.nextSessionID.Add(1), c, c.snapshot.Load(), frontendConn)
	s.logger.Debug("Got connection")

	err := s.run(ctx)
	c.sessionEnded(ctx, s, err)
}

func (c *Connector) sessionEnded(ctx context.Context, s *session, err error) {
	if err == nil {
		s.logger.Debug("Session closed")
		return
	}

	c.metrics.Errors.With("type", errorType(err)).Add(1)
	logger := s.logger.WithField("phase", s.failedIn)

	switch {
	case errors.Is(err, ErrConnectionRejected):
		logger.Debug("Rejected connection from untrusted address")
	case errors.Is(err, forwarding.ErrInvalidSignature):
		// the payload that failed is never logged
		logger.Warn("Rejected player info with an invalid signature")
	case errors.Is(err, ErrBackendUnreachable):
		logger.Debug("Closed session since backend is unreachable")
	case errors.Is(err, ErrProtocolViolation),
		errors.Is(err, forwarding.ErrForwardingUnsupported),
		errors.Is(err, forwarding.ErrUnsupportedForwardingVersion),
		errors.Is(err, forwarding.ErrStaleForwarding),
		errors.Is(err, forwarding.ErrMalformedPayload):
		logger.WithError(err).Warn("Rejected session")
	case errors.Is(err, forwarding.ErrForwardingTimeout),
		errors.Is(err, ErrPlayerDenied):
		logger.WithError(err).Info("Rejected session")
	case isIoError(err):
		logger.WithError(err).Debug("Connection closed")
	default:
		logger.WithError(err).Error("Session failed")
	}

	if s.isLogin() && s.backend == nil && !errors.Is(err, ErrBackendUnreachable) {
		c.notifier().NotifyRejected(ctx, s.clientAddr, s.serverAddress(), PlayerInfoFromPayload(s.payload), err)
	}
}

// pumpConnections relays bytes both ways until either side finishes or ctx is done, then closes both
// connections. The frontend is read through frontendReader since it may hold buffered bytes.
func (c *Connector) pumpConnections(ctx context.Context, clientAddr net.Addr,
	frontendReader io.Reader, frontendConn, backendConn net.Conn) error {
	c.metrics.ActiveConnections.Add(1)
	defer c.metrics.ActiveConnections.Add(-1)
	defer logrus.WithField("client", clientAddr).Debug("Closing backend connection")

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go c.pumpFrames(backendConn, frontendConn, errs, "backend", "frontend", clientAddr, &wg)
	go c.pumpFrames(frontendReader, backendConn, errs, "frontend", "backend", clientAddr, &wg)

	var result error
	select {
	case err := <-errs:
		if err != io.EOF && !errors.Is(err, net.ErrClosed) {
			logrus.WithError(err).
				WithField("client", clientAddr).
				Debug("Error observed on connection relay")
			result = err
		}

	case <-ctx.Done():
		logrus.Debug("Observed context cancellation")
	}

	_ = frontendConn.Close()
	_ = backendConn.Close()
	wg.Wait()
	return result
}

func (c *Connector) pumpFrames(incoming io.Reader, outgoing io.Writer, errs chan<- error, from, to string,
	clientAddr net.Addr, wg *sync.WaitGroup) {
	defer wg.Done()

	// the fixed buffer bounds what is held in memory when the receiving side is slow
	buf := make([]byte, relayBufferSize)
	amount, err := io.CopyBuffer(writerOnly{outgoing}, readerOnly{incoming}, buf)
	logrus.
		WithField("client", clientAddr).
		WithField("amount", amount).
		Debugf("Finished relay %s->%s", from, to)

	c.metrics.BytesTransmitted.With("direction", from+"_to_"+to).Add(float64(amount))

	if err != nil {
		errs <- err
	} else {
		// successful io.Copy return nil error, not EOF...to simulate that to trigger outer handling
		errs <- io.EOF
	}
}

// readerOnly and writerOnly keep io.CopyBuffer on the given buffer instead of ReadFrom/WriteTo
type readerOnly struct {
	io.Reader
}

type writerOnly struct {
	io.Writer
}
