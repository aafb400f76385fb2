package ioqueue

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"

	"github.com/apex/log"
	guuid "github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/uuid"

	"github.com/m-lab/echo-probe/bbr"
	"github.com/m-lab/echo-probe/echo"
)

// Conn is a connected transport endpoint driven by a queue worker. It
// contains the subset of operations the worker needs, so that plain
// TCP sockets and WebSocket connections can be driven the same way.
type Conn interface {
	// WriteBuffers writes every byte of bufs to the peer as a single
	// message. Note that bufs is consumed by the call.
	WriteBuffers(bufs net.Buffers) error
	// ReadSegment reads up to len(seg) bytes from the peer into seg.
	ReadSegment(seg []byte) (int, error)
	// ConnFile returns a dup of the connection's underlying file
	// descriptor, for kernel metadata reads, or nil when the
	// descriptor could not be recovered from the transport.
	ConnFile() *os.File
	// UUID returns a stable identifier for this connection.
	UUID() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	String() string
	Close() error
}

func dialConn(cfg Config) (Conn, error) {
	switch cfg.Scheme {
	case "", SchemeTCP:
		return dialNet(cfg)
	case SchemeWS, SchemeWSS:
		return dialWebsocket(cfg)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", cfg.Scheme)
	}
}

// enableBBR switches conn's socket to BBR, logging when it cannot.
func enableBBR(conn Conn) {
	fp := conn.ConnFile()
	if fp == nil {
		log.Warnf("No descriptor to enable BBR on for %s", conn.String())
		return
	}
	if err := bbr.Enable(fp); err != nil {
		log.WithError(err).Warnf("Could not enable BBR on %s", conn.String())
		return
	}
	log.Debugf("TCP BBR enabled on %s", conn.String())
}

// connUUID returns the socket-cookie UUID for the dup'd descriptor.
func connUUID(fp *os.File) string {
	if fp == nil {
		return fallbackUUID()
	}
	id, err := uuid.FromFile(fp)
	if err != nil {
		// SO_COOKIE isn't supported by the kernel.
		return fallbackUUID()
	}
	return id
}

func fallbackUUID() string {
	id, err := guuid.NewUUID()
	// NOTE: this could only fail when `GetTime` fails from guuid package.
	rtx.Must(err, "unable to fall back to a random uuid")
	return id.String()
}

// dupFile returns the *os.File corresponding to tc.
//
// Implementation note: File() dups the descriptor, so the caller ends
// up owning two objects that both need a Close(). Since go1.11 this no
// longer flips the socket into blocking mode.
func dupFile(tc *net.TCPConn) (*os.File, error) {
	return tc.File()
}

// underlyingTCP recovers the *net.TCPConn below a possibly TLS-wrapped
// connection. It returns nil when the transport hides it.
func underlyingTCP(conn net.Conn) *net.TCPConn {
	for {
		switch c := conn.(type) {
		case *net.TCPConn:
			return c
		case *tls.Conn:
			conn = c.NetConn()
		default:
			log.Warnf("cannot recover a TCPConn from %T", c)
			return nil
		}
	}
}

// netConn adapts a plain TCP connection to the Conn interface.
type netConn struct {
	*net.TCPConn
	fp *os.File
}

func dialNet(cfg Config) (Conn, error) {
	conn, err := net.Dial("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	tc := conn.(*net.TCPConn)
	fp, err := dupFile(tc)
	if err != nil {
		warnonerror.Close(tc, "Could not close the connection after a failed dup")
		return nil, err
	}
	return &netConn{TCPConn: tc, fp: fp}, nil
}

func (nc *netConn) WriteBuffers(bufs net.Buffers) error {
	// net.Buffers flushes through a single writev on a TCPConn.
	_, err := bufs.WriteTo(nc.TCPConn)
	return err
}

func (nc *netConn) ReadSegment(seg []byte) (int, error) {
	return nc.Read(seg)
}

func (nc *netConn) ConnFile() *os.File {
	return nc.fp
}

func (nc *netConn) UUID() string {
	return connUUID(nc.fp)
}

func (nc *netConn) String() string {
	return nc.LocalAddr().String() + "<=PLAIN=>" + nc.RemoteAddr().String()
}

func (nc *netConn) Close() error {
	if nc.fp != nil {
		warnonerror.Close(nc.fp, "Could not close the dup'd descriptor")
	}
	return nc.TCPConn.Close()
}

// wsConn adapts a WebSocket connection to the Conn interface. Each
// buffer travels as one binary message; reads flatten the message
// framing back into a byte stream.
type wsConn struct {
	ws *websocket.Conn
	fp *os.File
	// r is the message currently being drained, nil between messages.
	// Only the queue worker touches it.
	r io.Reader
}

func dialWebsocket(cfg Config) (Conn, error) {
	u := url.URL{Scheme: cfg.Scheme, Host: cfg.Address, Path: echo.URLPath}
	log.Debugf("Creating a WebSocket connection to: %s", u.String())
	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", echo.SecWebSocketProtocol)
	dialer := websocket.Dialer{}
	if cfg.Scheme == SchemeWSS && cfg.SkipTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ws, _, err := dialer.Dial(u.String(), headers)
	if err != nil {
		return nil, err
	}
	var fp *os.File
	if tc := underlyingTCP(ws.UnderlyingConn()); tc != nil {
		fp, err = dupFile(tc)
		if err != nil {
			log.WithError(err).Warn("Could not dup the WebSocket descriptor")
			fp = nil
		}
	}
	return &wsConn{ws: ws, fp: fp}, nil
}

func (wc *wsConn) WriteBuffers(bufs net.Buffers) error {
	w, err := wc.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if _, err := bufs.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (wc *wsConn) ReadSegment(seg []byte) (int, error) {
	for {
		if wc.r == nil {
			_, r, err := wc.ws.NextReader()
			if err != nil {
				return 0, err
			}
			wc.r = r
		}
		n, err := wc.r.Read(seg)
		if err == io.EOF {
			// The message is drained; the next read moves on to the
			// following one.
			wc.r = nil
			err = nil
			if n == 0 {
				continue
			}
		}
		return n, err
	}
}

func (wc *wsConn) ConnFile() *os.File {
	return wc.fp
}

func (wc *wsConn) UUID() string {
	return connUUID(wc.fp)
}

func (wc *wsConn) LocalAddr() net.Addr {
	return wc.ws.LocalAddr()
}

func (wc *wsConn) RemoteAddr() net.Addr {
	return wc.ws.RemoteAddr()
}

func (wc *wsConn) String() string {
	return wc.LocalAddr().String() + "<=WS(S)=>" + wc.RemoteAddr().String()
}

func (wc *wsConn) Close() error {
	if wc.fp != nil {
		warnonerror.Close(wc.fp, "Could not close the dup'd descriptor")
	}
	return wc.ws.Close()
}
