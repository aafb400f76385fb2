// Package echoserver implements the peer that echo probes measure
// against. A Server accepts connections over plain TCP, WebSocket, or
// secure WebSocket and writes every payload it receives straight back
// to the sender, unchanged.
package echoserver

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/echo-probe/echo"
	"github.com/m-lab/echo-probe/logging"
	"github.com/m-lab/echo-probe/metrics"
	"github.com/m-lab/go/warnonerror"
)

// Server echoes payloads back to clients until it is closed.
type Server struct {
	kind     string
	listener net.Listener
	srv      *http.Server

	mu    sync.Mutex
	conns map[io.Closer]struct{}

	serving sync.WaitGroup // the accept or serve loop
	echoing sync.WaitGroup // per-connection echo loops
	once    sync.Once
}

// ListenTCP starts a plain TCP echo server on addr. Pass an address
// with port zero to listen on a random free port.
func ListenTCP(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := newServer("tcp", listener)
	s.serving.Add(1)
	go s.acceptAndEcho()
	return s, nil
}

// ListenWS starts a WebSocket echo server on addr. The server upgrades
// requests for echo.URLPath that negotiate the echo subprotocol and
// echoes every message it receives.
func ListenWS(addr string) (*Server, error) {
	return listenHTTP("ws", addr, "", "")
}

// ListenWSS is like ListenWS except that the resulting server speaks
// TLS using the passed-in certificate and key.
func ListenWSS(addr, certFile, keyFile string) (*Server, error) {
	return listenHTTP("wss", addr, certFile, keyFile)
}

func newServer(kind string, listener net.Listener) *Server {
	return &Server{
		kind:     kind,
		listener: listener,
		conns:    make(map[io.Closer]struct{}),
	}
}

func listenHTTP(kind, addr, certFile, keyFile string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := newServer(kind, listener)
	mux := http.NewServeMux()
	mux.Handle(echo.URLPath, http.HandlerFunc(s.upgradeAndEcho))
	s.srv = &http.Server{
		Handler: logging.MakeAccessLogHandler(mux),
		// NOTE: set absolute read and write timeouts so that an
		// unupgraded connection can not stay open forever. Upgraded
		// connections are hijacked, which clears these deadlines.
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	serve := s.srv.Serve
	if kind == "wss" {
		serve = func(l net.Listener) error {
			return s.srv.ServeTLS(l, certFile, keyFile)
		}
	}
	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		if err := serve(listener); err != http.ErrServerClosed {
			logging.Logger.WithError(err).Debug("The echo endpoint stopped serving")
		}
	}()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the server. It closes the listener, shuts down every
// connection still being echoed, and waits for the echo loops to
// finish. Close may be called more than once.
func (s *Server) Close() {
	s.once.Do(func() {
		if s.srv != nil {
			warnonerror.Close(s.srv, "Could not close the echo endpoint")
		} else {
			warnonerror.Close(s.listener, "Could not close the echo listener")
		}
		s.serving.Wait()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.echoing.Wait()
	})
}

func (s *Server) track(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// acceptAndEcho accepts plain TCP connections and copies every byte
// each one receives back to its sender.
func (s *Server) acceptAndEcho() {
	defer s.serving.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// The listener was closed.
			return
		}
		metrics.EchoedConnections.WithLabelValues(s.kind).Inc()
		s.track(conn)
		s.echoing.Add(1)
		go func() {
			defer s.echoing.Done()
			echoed, _ := io.Copy(conn, conn)
			metrics.EchoedBytes.WithLabelValues(s.kind).Add(float64(echoed))
			s.untrack(conn)
			warnonerror.Close(conn, "Could not close an echoed connection")
		}()
	}
}

func warnAndClose(writer http.ResponseWriter, message string) {
	logging.Logger.Warn(message)
	writer.Header().Set("Connection", "Close")
	writer.WriteHeader(http.StatusBadRequest)
}

// upgradeAndEcho upgrades the request to WebSocket and then echoes
// every message until the client goes away.
func (s *Server) upgradeAndEcho(writer http.ResponseWriter, request *http.Request) {
	logging.Logger.Debug("echoserver: upgrading to WebSockets")
	if request.Header.Get("Sec-WebSocket-Protocol") != echo.SecWebSocketProtocol {
		warnAndClose(writer, "echoserver: missing Sec-WebSocket-Protocol in request")
		return
	}
	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", echo.SecWebSocketProtocol)
	upgrader := websocket.Upgrader{
		ReadBufferSize:    81920,
		WriteBufferSize:   81920,
		Subprotocols:      []string{echo.SecWebSocketProtocol},
		EnableCompression: false,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(writer, request, headers)
	if err != nil {
		warnAndClose(writer, "echoserver: cannot UPGRADE to WebSocket")
		return
	}
	metrics.EchoedConnections.WithLabelValues(s.kind).Inc()
	s.track(conn)
	s.echoing.Add(1)
	defer s.echoing.Done()
	var echoed int64
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := conn.WriteMessage(kind, data); err != nil {
			break
		}
		echoed += int64(len(data))
	}
	metrics.EchoedBytes.WithLabelValues(s.kind).Add(float64(echoed))
	s.untrack(conn)
	warnonerror.Close(conn, "Could not close an upgraded connection")
}
