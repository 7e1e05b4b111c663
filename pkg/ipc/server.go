package ipc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Handler serves one native request, emitting native responses.
type Handler interface {
	Handle(request []byte, emit func(response []byte))
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(request []byte, emit func(response []byte))

func (f HandlerFunc) Handle(request []byte, emit func([]byte)) { f(request, emit) }

// Logger is satisfied by btclog.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Debugf(format string, params ...any)
	Warnf(format string, params ...any)
}

// TraceFunc returns an id used to correlate a request in logs.
type TraceFunc func() string

// ServerMetrics counts frames served by a Server.
type ServerMetrics struct {
	Connections prometheus.Gauge
	FramesIn    prometheus.Counter
	FramesOut   prometheus.Counter
}

// NewServerMetrics creates and registers server metrics with reg. A nil reg
// leaves the collectors unregistered.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletd", Name: "connections",
			Help: "Open engine host connections.",
		}),
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletd", Name: "frames_in_total",
			Help: "Request frames received.",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletd", Name: "frames_out_total",
			Help: "Response frames written.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.FramesIn, m.FramesOut)
	}
	return m
}

// Server exposes a Handler over length-prefixed frames.
type Server struct {
	handler Handler
	logger  Logger
	trace   TraceFunc
	metrics *ServerMetrics

	mu     sync.Mutex
	ln     net.Listener
	conns  map[io.Closer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer constructs a frame server in front of handler. logger, trace and
// metrics are optional.
func NewServer(handler Handler, logger Logger, trace TraceFunc, metrics *ServerMetrics) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
		trace:   trace,
		metrics: metrics,
		conns:   make(map[io.Closer]struct{}),
	}
}

// Start begins accepting connections on a unix socket at endpoint.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until Stop or ctx cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("server stopped")
	}
	s.ln = ln
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.warnf("accept error: %v", err)
			continue
		}
		s.ServeConn(conn)
	}
}

// ServeConn serves a single stream, such as a pipe or stdio pair, in the
// background. The stream is closed when the peer hangs up or on Stop.
func (s *Server) ServeConn(conn io.ReadWriteCloser) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
	go s.handleConn(conn)
}

func (s *Server) handleConn(conn io.ReadWriteCloser) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	if s.metrics != nil {
		s.metrics.Connections.Inc()
		defer s.metrics.Connections.Dec()
	}

	var writeMu sync.Mutex
	emit := func(payload []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := WriteFrame(conn, payload); err != nil {
			s.debugf("write frame: %v", err)
			return
		}
		if s.metrics != nil {
			s.metrics.FramesOut.Inc()
		}
	}

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				s.debugf("read frame: %v", err)
			}
			return
		}
		if s.metrics != nil {
			s.metrics.FramesIn.Inc()
		}
		if s.trace != nil {
			if req, err := DecodeNative(payload); err == nil {
				s.debugf("trace=%s request_id=%d type=%s", s.trace(), req.RequestID, req.Type)
			}
		}
		s.handler.Handle(payload, emit)
	}
}

// Stop shuts down the listener and every open connection, then waits for the
// connection goroutines to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Wait blocks until every connection and the accept loop have finished.
func (s *Server) Wait() error {
	s.wg.Wait()
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) debugf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, v...)
	}
}

func (s *Server) warnf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Warnf(format, v...)
	}
}
