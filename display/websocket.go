package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RyanBlaney/tonewatch/logging"
)

// WebSocketOptions configures a WebSocketSink
type WebSocketOptions struct {
	// SpectrumBins is the number of spectrum points sent per frame.
	SpectrumBins int `json:"spectrum_bins"`
	// SendBuffer is how many messages may queue per client before it is
	// considered slow and disconnected.
	SendBuffer     int           `json:"send_buffer"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	DetectionsOnly bool          `json:"detections_only"`
}

// DefaultWebSocketOptions returns default websocket options
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		SpectrumBins: 128,
		SendBuffer:   16,
		WriteTimeout: 2 * time.Second,
	}
}

// WebSocketSink broadcasts every report as a JSON text message to all
// connected clients. It is an http.Handler; mount it wherever the dashboard
// expects it.
type WebSocketSink struct {
	opts     WebSocketOptions
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	logger logging.Logger
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewWebSocketSink creates a broadcasting hub
func NewWebSocketSink(opts WebSocketOptions) *WebSocketSink {
	defaults := DefaultWebSocketOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	return &WebSocketSink{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
		logger: logging.WithFields(logging.Fields{
			"component": "websocket_sink",
		}),
	}
}

// ServeHTTP upgrades the request and registers the client until it
// disconnects.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", logging.Fields{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, s.opts.SendBuffer),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("Dashboard client connected", logging.Fields{
		"remote":  r.RemoteAddr,
		"clients": count,
	})

	go s.writeLoop(client)

	// Drain incoming frames so close and ping control messages are handled.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(client)
	s.logger.Info("Dashboard client disconnected", logging.Fields{
		"remote": r.RemoteAddr,
	})
}

func (s *WebSocketSink) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.remove(c)
			// keep draining until remove closes the channel
			for range c.send {
			}
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// remove unregisters c and closes its send channel exactly once.
func (s *WebSocketSink) remove(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if ok {
		c.closeOnce.Do(func() { close(c.send) })
	}
}

// Render queues the report for every client. Clients whose queue is full are
// dropped rather than slowing the pipeline.
func (s *WebSocketSink) Render(_ context.Context, report *Report) error {
	if s.opts.DetectionsOnly && !report.Detected {
		return nil
	}

	msg, err := json.Marshal(report.Payload(s.opts.SpectrumBins))
	if err != nil {
		return fmt.Errorf("failed to encode report %d: %w", report.Seq, err)
	}

	var slow []*wsClient
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warn("Dropping slow dashboard client", logging.Fields{
			"remote": c.conn.RemoteAddr().String(),
		})
		s.remove(c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *WebSocketSink) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.remove(c)
	}
	return nil
}

// ListenAndServe serves the sink at /ws on addr until ctx is done.
func (s *WebSocketSink) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("Dashboard websocket listening", logging.Fields{
		"addr": ln.Addr().String(),
		"path": "/ws",
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close()
		return server.Shutdown(shutdownCtx)
	}
}
