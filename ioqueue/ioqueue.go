// Package ioqueue provides an asynchronous gateway to stream I/O.
// Callers create a descriptor per endpoint, submit operations against
// it, and later await each operation's completion through the token
// returned at submission. Submission never blocks: each descriptor has
// a worker that executes its operations strictly in submission order,
// so a caller may queue several operations and collect the completions
// at its own pace. Every submitted operation completes exactly once.
package ioqueue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/echo-probe/metrics"
	"github.com/m-lab/echo-probe/sgbuf"
)

// Op is the full set of operations a queue executes.
type Op byte

const (
	// OpInvalid is the zero-value of Op and is never a valid
	// submission. It appears in results only under error conditions.
	OpInvalid Op = iota
	// OpConnect dials the configured remote endpoint.
	OpConnect
	// OpSend pushes one buffer to the peer.
	OpSend
	// OpReceive pops one buffer of data from the peer.
	OpReceive
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpSend:
		return "send"
	case OpReceive:
		return "receive"
	default:
		return fmt.Sprintf("UnknownOp(0x%X)", byte(o))
	}
}

// Transport schemes understood by the queue.
const (
	SchemeTCP = "tcp"
	SchemeWS  = "ws"
	SchemeWSS = "wss"
)

// opBacklog is how many operations may sit unexecuted on one
// descriptor before submissions start failing.
const opBacklog = 16

var (
	// ErrBadDescriptor is returned when the descriptor is unknown.
	ErrBadDescriptor = errors.New("no such descriptor")
	// ErrBacklog is returned when the descriptor's backlog is full.
	ErrBacklog = errors.New("descriptor backlog is full")
	// ErrClosed is returned when the queue has been closed.
	ErrClosed = errors.New("queue is closed")
	// ErrNotConnected is returned when I/O is attempted on an endpoint
	// with no connection behind it.
	ErrNotConnected = errors.New("endpoint is not connected")
	// ErrConnected is returned when an endpoint is connected twice.
	ErrConnected = errors.New("endpoint is already connected")
)

// Config tells a queue how to reach the remote endpoint.
type Config struct {
	// Scheme selects the transport: "tcp", "ws" or "wss". An empty
	// scheme means "tcp".
	Scheme string
	// Address is the remote endpoint as host:port.
	Address string
	// SkipTLSVerify disables certificate verification for wss.
	SkipTLSVerify bool
	// EnableBBR switches new connections to the BBR congestion control
	// algorithm. Hosts without BBR log a warning and keep the default.
	EnableBBR bool
	// Pool supplies the buffers carried by receive completions.
	Pool *sgbuf.Pool
}

// QD names one endpoint within a queue.
type QD int

// Queue hands out descriptors and executes the operations submitted
// against them.
type Queue struct {
	config Config
	dial   func(Config) (Conn, error)

	mu        sync.Mutex
	endpoints map[QD]*endpoint
	nextQD    QD
	closed    bool
}

// New returns a Queue that dials cfg's endpoint. A nil Pool is
// replaced by a pool with the default segment size.
func New(cfg Config) *Queue {
	if cfg.Pool == nil {
		cfg.Pool = sgbuf.NewPool(0)
	}
	return &Queue{
		config:    cfg,
		dial:      dialConn,
		endpoints: make(map[QD]*endpoint),
	}
}

// Socket creates a descriptor for one connection to the configured
// endpoint and starts its worker.
func (q *Queue) Socket() (QD, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return -1, ErrClosed
	}
	qd := q.nextQD
	q.nextQD++
	ep := &endpoint{
		q:    q,
		ops:  make(chan *Token, opBacklog),
		done: make(chan struct{}),
	}
	q.endpoints[qd] = ep
	go ep.run()
	return qd, nil
}

// SubmitConnect enqueues the dial of the configured remote on qd. The
// completion carries no buffer.
func (q *Queue) SubmitConnect(qd QD) (*Token, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ep, err := q.lookup(qd)
	if err != nil {
		return nil, err
	}
	if ep.connectSubmitted {
		return nil, ErrConnected
	}
	tok, err := ep.enqueue(&Token{op: OpConnect, ch: make(chan completion, 1)})
	if err == nil {
		ep.connectSubmitted = true
	}
	return tok, err
}

// SubmitSend enqueues a push of b on qd. Ownership of b passes to the
// queue until the completion is consumed; after Wait returns, the
// caller owns b again and must release it. If SubmitSend itself fails,
// ownership never left the caller.
func (q *Queue) SubmitSend(qd QD, b *sgbuf.Buffer) (*Token, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ep, err := q.lookup(qd)
	if err != nil {
		return nil, err
	}
	if !ep.connectSubmitted {
		return nil, ErrNotConnected
	}
	return ep.enqueue(&Token{op: OpSend, buf: b, ch: make(chan completion, 1)})
}

// SubmitReceive enqueues a pop from qd. The completion carries a fresh
// pool buffer holding the received bytes; the caller owns it and must
// release it exactly once.
func (q *Queue) SubmitReceive(qd QD) (*Token, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ep, err := q.lookup(qd)
	if err != nil {
		return nil, err
	}
	if !ep.connectSubmitted {
		return nil, ErrNotConnected
	}
	return ep.enqueue(&Token{op: OpReceive, ch: make(chan completion, 1)})
}

// Conn returns the connection behind qd, for metadata reads such as
// the UUID and the kernel's view of the socket. It fails until the
// connect completion for qd has been posted.
func (q *Queue) Conn(qd QD) (Conn, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ep, err := q.lookup(qd)
	if err != nil {
		return nil, err
	}
	if ep.conn == nil {
		return nil, ErrNotConnected
	}
	return ep.conn, nil
}

// Close stops every worker and closes every connection. Operations
// already submitted still execute and post their completions first.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	eps := make([]*endpoint, 0, len(q.endpoints))
	for _, ep := range q.endpoints {
		close(ep.ops)
		eps = append(eps, ep)
	}
	q.mu.Unlock()
	for _, ep := range eps {
		<-ep.done
	}
	return nil
}

// lookup must run with q.mu held.
func (q *Queue) lookup(qd QD) (*endpoint, error) {
	if q.closed {
		return nil, ErrClosed
	}
	ep, ok := q.endpoints[qd]
	if !ok {
		return nil, ErrBadDescriptor
	}
	return ep, nil
}

// endpoint is the queue's view of one descriptor: a connection, its
// worker, and the operations waiting on it.
type endpoint struct {
	q                *Queue
	ops              chan *Token
	done             chan struct{}
	connectSubmitted bool
	// conn is written by the worker when the dial completes and read
	// by Queue.Conn; both sides hold q.mu.
	conn Conn
}

// enqueue must run with q.mu held, which also guarantees the ops
// channel cannot be closed mid-send.
func (ep *endpoint) enqueue(tok *Token) (*Token, error) {
	select {
	case ep.ops <- tok:
		metrics.OperationCount.WithLabelValues(tok.op.String()).Inc()
		return tok, nil
	default:
		return nil, ErrBacklog
	}
}

func (ep *endpoint) run() {
	for tok := range ep.ops {
		tok.complete(ep.execute(tok))
	}
	ep.q.mu.Lock()
	conn := ep.conn
	ep.conn = nil
	ep.q.mu.Unlock()
	if conn != nil {
		warnonerror.Close(conn, "Could not close "+conn.String())
	}
	close(ep.done)
}

func (ep *endpoint) execute(tok *Token) completion {
	switch tok.op {
	case OpConnect:
		conn, err := ep.q.dial(ep.q.config)
		if err != nil {
			return completion{err: err}
		}
		if ep.q.config.EnableBBR {
			enableBBR(conn)
		}
		ep.q.mu.Lock()
		ep.conn = conn
		ep.q.mu.Unlock()
		return completion{res: Result{Op: OpConnect}}
	case OpSend:
		if ep.conn == nil {
			return completion{err: ErrNotConnected}
		}
		if err := ep.conn.WriteBuffers(tok.buf.Buffers()); err != nil {
			return completion{err: err}
		}
		return completion{res: Result{Op: OpSend}}
	case OpReceive:
		if ep.conn == nil {
			return completion{err: ErrNotConnected}
		}
		pool := ep.q.config.Pool
		buf, err := pool.Alloc(pool.SegmentSize())
		if err != nil {
			return completion{err: err}
		}
		n, err := ep.conn.ReadSegment(buf.Segments()[0])
		if err != nil {
			buf.Release()
			return completion{err: err}
		}
		buf.Truncate(n)
		return completion{res: Result{Op: OpReceive, Buf: buf}}
	default:
		return completion{err: fmt.Errorf("cannot execute %s", tok.op)}
	}
}

// Result is one completion: which operation finished and, for
// receives, the buffer it produced.
type Result struct {
	Op  Op
	Buf *sgbuf.Buffer
}

type completion struct {
	res Result
	err error
}

// Token is the caller's handle on one in-flight operation. Exactly one
// completion is posted to it.
type Token struct {
	op     Op
	buf    *sgbuf.Buffer
	ch     chan completion
	waited int32
}

func (t *Token) complete(c completion) {
	t.ch <- c
}

// Wait blocks until the operation completes and returns its result.
// There is no timeout and no way to cancel: a completion that never
// arrives means the process is already broken beyond this call.
//
// Wait enforces the completion contract and panics when its peer
// breaks it: a second Wait on the same token, a completion whose
// operation does not match the submission, or a receive completion
// carrying no data at all. I/O failures are returned as errors.
func (t *Token) Wait() (Result, error) {
	if !atomic.CompareAndSwapInt32(&t.waited, 0, 1) {
		panic("token has already been awaited")
	}
	c := <-t.ch
	if c.err != nil {
		return Result{Op: OpInvalid}, c.err
	}
	if c.res.Op != t.op {
		panic(fmt.Sprintf("completion %s does not match submission %s", c.res.Op, t.op))
	}
	if t.op == OpReceive && (c.res.Buf == nil || len(c.res.Buf.Segments()) == 0) {
		panic("receive completed without data")
	}
	return c.res, nil
}
